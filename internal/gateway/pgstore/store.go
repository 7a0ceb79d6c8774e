// Package pgstore keeps documents in a single jsonb table and uses
// LISTEN/NOTIFY as the change source.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"doctor-booking-api/internal/gateway"
)

// Channel is the NOTIFY channel; the payload is the collection name.
const Channel = "documents"

var _ gateway.Gateway = (*Store)(nil)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db  DB
	hub *gateway.Hub
	log *zap.Logger
}

func New(db DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{db: db, log: log}
	s.hub = gateway.NewHub(s.Query, log)
	return s
}

func (s *Store) Get(ctx context.Context, collection, key string) (gateway.Snapshot, error) {
	var data []byte
	err := s.db.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND key = $2`,
		collection, key,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return gateway.Snapshot{}, nil
	}
	if err != nil {
		return gateway.Snapshot{}, fmt.Errorf("pgstore: get %s/%s: %w", collection, key, err)
	}
	return gateway.NewSnapshot(map[string]json.RawMessage{key: data}), nil
}

func (s *Store) Query(ctx context.Context, q gateway.Query) (gateway.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return gateway.Snapshot{}, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT key, data FROM documents
		 WHERE collection = $1 AND data->>$2 = $3`,
		q.Collection, q.Field, q.Value,
	)
	if err != nil {
		return gateway.Snapshot{}, fmt.Errorf("pgstore: query %s: %w", q, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return gateway.Snapshot{}, fmt.Errorf("pgstore: scan %s: %w", q, err)
		}
		out[key] = data
	}
	if err := rows.Err(); err != nil {
		return gateway.Snapshot{}, fmt.Errorf("pgstore: rows %s: %w", q, err)
	}
	return gateway.NewSnapshot(out), nil
}

// Set upserts the record and queues a NOTIFY that fires on commit.
func (s *Store) Set(ctx context.Context, collection, key string, record any) error {
	raw, err := gateway.Encode(record)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (collection, key, data) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		collection, key, string(raw),
	)
	if err != nil {
		return fmt.Errorf("pgstore: set %s/%s: %w", collection, key, err)
	}

	if _, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, collection); err != nil {
		return fmt.Errorf("pgstore: notify %s: %w", collection, err)
	}

	return tx.Commit(ctx)
}

func (s *Store) Subscribe(ctx context.Context, q gateway.Query, fn func(gateway.Snapshot)) (gateway.Subscription, error) {
	return s.hub.Subscribe(ctx, q, fn)
}

func (s *Store) Close() { s.hub.Close() }

// Start holds one pooled connection in LISTEN mode and forwards
// notifications to subscribers until ctx is done. The first LISTEN happens
// before Start returns; later connection failures are retried.
func (s *Store) Start(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := listen(ctx, pool)
	if err != nil {
		return err
	}
	go s.loop(ctx, pool, conn)
	s.log.Info("pgstore.Start listening", zap.String("channel", Channel))
	return nil
}

func listen(ctx context.Context, pool *pgxpool.Pool) (*pgxpool.Conn, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgstore: acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("pgstore: listen: %w", err)
	}
	return conn, nil
}

func (s *Store) loop(ctx context.Context, pool *pgxpool.Pool, conn *pgxpool.Conn) {
	backoff := time.Second
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err == nil {
			s.hub.Notify(n.Payload)
			continue
		}
		if ctx.Err() != nil {
			_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			conn.Release()
			return
		}

		s.log.Warn("pgstore listener lost connection", zap.Error(err))
		conn.Release()
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			conn, err = listen(ctx, pool)
			if err == nil {
				break
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
		backoff = time.Second
		s.hub.NotifyAll()
	}
}
