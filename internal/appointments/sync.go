// Package appointments keeps each viewer's appointment list live and books
// new appointments.
package appointments

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"doctor-booking-api/internal/gateway"
	"doctor-booking-api/internal/model"
)

var ErrInvalidRole = errors.New("appointments: unknown viewer role")

// Sync reads appointments from the viewer's side.
type Sync struct {
	gw  gateway.Gateway
	log *zap.Logger
}

func NewSync(gw gateway.Gateway, log *zap.Logger) *Sync {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sync{gw: gw, log: log}
}

// viewerQuery selects appointments where the viewer is the doctor or the
// patient, depending on role.
func viewerQuery(viewerID string, role model.Role) (gateway.Query, error) {
	q := gateway.Query{Collection: gateway.Appointments, Value: viewerID}
	switch role {
	case model.RoleDoctor:
		q.Field = "doctorId"
	case model.RolePatient:
		q.Field = "patientId"
	default:
		return q, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return q, nil
}

// Subscribe calls fn with the viewer's full list now and after every change.
// An empty result is delivered as an empty, non-nil slice.
func (s *Sync) Subscribe(ctx context.Context, viewerID string, role model.Role, fn func([]model.DisplayAppointment)) (gateway.Subscription, error) {
	q, err := viewerQuery(viewerID, role)
	if err != nil {
		return nil, err
	}
	return s.gw.Subscribe(ctx, q, func(snap gateway.Snapshot) {
		fn(s.project(snap, role))
	})
}

func (s *Sync) List(ctx context.Context, viewerID string, role model.Role) ([]model.DisplayAppointment, error) {
	q, err := viewerQuery(viewerID, role)
	if err != nil {
		return nil, err
	}
	snap, err := s.gw.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("appointments: list for %s: %w", viewerID, err)
	}
	return s.project(snap, role), nil
}

// HasAppointmentWith reports whether the patient already booked the doctor.
func (s *Sync) HasAppointmentWith(ctx context.Context, patientID, doctorID string) (bool, error) {
	q, _ := viewerQuery(patientID, model.RolePatient)
	snap, err := s.gw.Query(ctx, q)
	if err != nil {
		return false, fmt.Errorf("appointments: lookup for %s: %w", patientID, err)
	}
	for _, a := range gateway.Decode[model.Appointment](snap, s.skip) {
		if a.DoctorID == doctorID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Sync) project(snap gateway.Snapshot, role model.Role) []model.DisplayAppointment {
	records := gateway.Decode[model.Appointment](snap, s.skip)
	out := make([]model.DisplayAppointment, 0, len(records))
	for _, a := range records {
		out = append(out, model.Project(a, role))
	}
	return out
}

func (s *Sync) skip(key string, err error) {
	s.log.Warn("appointments skipped undecodable record", zap.String("key", key), zap.Error(err))
}
