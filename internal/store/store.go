// Package store keeps credentials and refresh tokens in Postgres.
// Profiles and appointments live in the document gateway instead.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrDuplicateEmail = errors.New("store: email already registered")
)

// DB is satisfied by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool DB
}

func New(pool DB) *Store {
	return &Store{pool: pool}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
