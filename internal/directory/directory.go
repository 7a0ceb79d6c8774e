// Package directory answers "who are the doctors" from the users collection.
package directory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"doctor-booking-api/internal/gateway"
	"doctor-booking-api/internal/model"
)

var ErrNotFound = errors.New("directory: profile not found")

type Directory struct {
	gw  gateway.Gateway
	log *zap.Logger
}

func New(gw gateway.Gateway, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{gw: gw, log: log}
}

func doctorsQuery() gateway.Query {
	return gateway.Query{Collection: gateway.Users, Field: "role", Value: string(model.RoleDoctor)}
}

func (d *Directory) ListDoctors(ctx context.Context) ([]model.UserProfile, error) {
	snap, err := d.gw.Query(ctx, doctorsQuery())
	if err != nil {
		return nil, fmt.Errorf("directory: list doctors: %w", err)
	}
	return d.doctors(snap), nil
}

// WatchDoctors calls fn with the full doctor list now and after every change
// to the users collection.
func (d *Directory) WatchDoctors(ctx context.Context, fn func([]model.UserProfile)) (gateway.Subscription, error) {
	return d.gw.Subscribe(ctx, doctorsQuery(), func(s gateway.Snapshot) {
		fn(d.doctors(s))
	})
}

// Profile loads users/{id}.
func (d *Directory) Profile(ctx context.Context, id string) (*model.UserProfile, error) {
	snap, err := d.gw.Get(ctx, gateway.Users, id)
	if err != nil {
		return nil, fmt.Errorf("directory: profile %s: %w", id, err)
	}
	profiles := gateway.Decode[model.UserProfile](snap, d.skip)
	if len(profiles) == 0 {
		return nil, ErrNotFound
	}
	return &profiles[0], nil
}

// Doctor loads a profile and checks that it belongs to a doctor.
func (d *Directory) Doctor(ctx context.Context, id string) (*model.UserProfile, error) {
	p, err := d.Profile(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Role != model.RoleDoctor {
		return nil, ErrNotFound
	}
	return p, nil
}

func (d *Directory) doctors(s gateway.Snapshot) []model.UserProfile {
	all := gateway.Decode[model.UserProfile](s, d.skip)
	out := all[:0]
	for _, p := range all {
		// the store filtered already; a record edited between notify and
		// read must still not leak through
		if p.Role == model.RoleDoctor {
			out = append(out, p)
		}
	}
	return out
}

func (d *Directory) skip(key string, err error) {
	d.log.Warn("directory skipped undecodable profile", zap.String("key", key), zap.Error(err))
}
