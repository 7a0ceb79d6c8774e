// Package redisstore keeps each collection in a Redis hash and announces
// writes on a pub/sub channel.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"doctor-booking-api/internal/gateway"
)

const defaultPrefix = "docs:"

var _ gateway.Gateway = (*Store)(nil)

type Store struct {
	client *redis.Client
	prefix string
	hub    *gateway.Hub
	log    *zap.Logger
}

func New(client *redis.Client, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{client: client, prefix: defaultPrefix, log: log}
	s.hub = gateway.NewHub(s.Query, log)
	return s
}

func (s *Store) hashKey(collection string) string { return s.prefix + collection }

func (s *Store) channel() string { return s.prefix + "changes" }

func (s *Store) Get(ctx context.Context, collection, key string) (gateway.Snapshot, error) {
	v, err := s.client.HGet(ctx, s.hashKey(collection), key).Result()
	if errors.Is(err, redis.Nil) {
		return gateway.Snapshot{}, nil
	}
	if err != nil {
		return gateway.Snapshot{}, fmt.Errorf("redisstore: get %s/%s: %w", collection, key, err)
	}
	return gateway.NewSnapshot(map[string]json.RawMessage{key: json.RawMessage(v)}), nil
}

// Query scans the collection hash; the equality filter runs client-side.
func (s *Store) Query(ctx context.Context, q gateway.Query) (gateway.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return gateway.Snapshot{}, err
	}
	all, err := s.client.HGetAll(ctx, s.hashKey(q.Collection)).Result()
	if err != nil {
		return gateway.Snapshot{}, fmt.Errorf("redisstore: query %s: %w", q, err)
	}
	out := make(map[string]json.RawMessage)
	for k, v := range all {
		raw := json.RawMessage(v)
		if gateway.FieldEquals(raw, q.Field, q.Value) {
			out[k] = raw
		}
	}
	return gateway.NewSnapshot(out), nil
}

func (s *Store) Set(ctx context.Context, collection, key string, record any) error {
	raw, err := gateway.Encode(record)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.hashKey(collection), key, []byte(raw)).Err(); err != nil {
		return fmt.Errorf("redisstore: set %s/%s: %w", collection, key, err)
	}
	if err := s.client.Publish(ctx, s.channel(), collection).Err(); err != nil {
		// the write landed; watchers catch up on the next change
		s.log.Warn("redisstore.Set publish failed",
			zap.String("collection", collection),
			zap.Error(err),
		)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, q gateway.Query, fn func(gateway.Snapshot)) (gateway.Subscription, error) {
	return s.hub.Subscribe(ctx, q, fn)
}

// Start subscribes to the change channel and returns once Redis has
// confirmed it. Notifications are forwarded until ctx is done.
func (s *Store) Start(ctx context.Context) error {
	ps := s.client.Subscribe(ctx, s.channel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redisstore: subscribe changes: %w", err)
	}
	ch := ps.Channel()
	go func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.hub.Notify(msg.Payload)
			}
		}
	}()
	s.log.Info("redisstore.Start listening", zap.String("channel", s.channel()))
	return nil
}

func (s *Store) Close() { s.hub.Close() }
