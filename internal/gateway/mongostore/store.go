// Package mongostore maps each collection onto a MongoDB collection and uses
// a database change stream as the change source.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"doctor-booking-api/internal/gateway"
)

var _ gateway.Gateway = (*Store)(nil)

// document is the stored shape: the record verbatim plus its top-level
// string fields, which are what equality queries match on.
type document struct {
	Key    string            `bson:"_id"`
	Raw    string            `bson:"raw"`
	Fields map[string]string `bson:"fields"`
}

type Store struct {
	db  *mongo.Database
	hub *gateway.Hub
	log *zap.Logger
}

func New(db *mongo.Database, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{db: db, log: log}
	s.hub = gateway.NewHub(s.Query, log)
	return s
}

func (s *Store) Get(ctx context.Context, collection, key string) (gateway.Snapshot, error) {
	var doc document
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return gateway.Snapshot{}, nil
	}
	if err != nil {
		return gateway.Snapshot{}, fmt.Errorf("mongostore: get %s/%s: %w", collection, key, err)
	}
	return gateway.NewSnapshot(map[string]json.RawMessage{key: json.RawMessage(doc.Raw)}), nil
}

func (s *Store) Query(ctx context.Context, q gateway.Query) (gateway.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return gateway.Snapshot{}, err
	}
	cur, err := s.db.Collection(q.Collection).Find(ctx, bson.M{"fields." + q.Field: q.Value})
	if err != nil {
		return gateway.Snapshot{}, fmt.Errorf("mongostore: query %s: %w", q, err)
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return gateway.Snapshot{}, fmt.Errorf("mongostore: decode %s: %w", q, err)
	}
	out := make(map[string]json.RawMessage, len(docs))
	for _, d := range docs {
		out[d.Key] = json.RawMessage(d.Raw)
	}
	return gateway.NewSnapshot(out), nil
}

func (s *Store) Set(ctx context.Context, collection, key string, record any) error {
	raw, err := gateway.Encode(record)
	if err != nil {
		return err
	}
	doc := document{Key: key, Raw: string(raw), Fields: stringFields(raw)}
	_, err = s.db.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: set %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, q gateway.Query, fn func(gateway.Snapshot)) (gateway.Subscription, error) {
	return s.hub.Subscribe(ctx, q, fn)
}

func (s *Store) Close() { s.hub.Close() }

type changeEvent struct {
	NS struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
}

// Start opens a database-wide change stream (requires a replica set) and
// forwards the affected collection of every event until ctx is done.
func (s *Store) Start(ctx context.Context) error {
	cs, err := s.db.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return fmt.Errorf("mongostore: watch: %w", err)
	}
	go s.loop(ctx, cs)
	s.log.Info("mongostore.Start watching", zap.String("database", s.db.Name()))
	return nil
}

func (s *Store) loop(ctx context.Context, cs *mongo.ChangeStream) {
	for {
		for cs.Next(ctx) {
			var ev changeEvent
			if err := cs.Decode(&ev); err != nil {
				s.log.Warn("mongostore change decode failed", zap.Error(err))
				continue
			}
			s.hub.Notify(ev.NS.Coll)
		}
		err := cs.Err()
		_ = cs.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("mongostore change stream ended", zap.Error(err))

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			cs, err = s.db.Watch(ctx, mongo.Pipeline{})
			if err == nil {
				break
			}
		}
		s.hub.NotifyAll()
	}
}

func stringFields(raw json.RawMessage) map[string]string {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		if str, ok := v.(string); ok {
			out[k] = str
		}
	}
	return out
}
