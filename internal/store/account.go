package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"doctor-booking-api/internal/model"
)

func (s *Store) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, email, password_hash, role) VALUES ($1,$2,$3,$4)`,
		a.ID, strings.ToLower(a.Email), a.PasswordHash, string(a.Role),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return err
}

// DeleteAccount removes the account and, by cascade, its refresh tokens.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.account(ctx,
		`SELECT id, email, password_hash, role, created_at FROM accounts WHERE email = $1`,
		strings.ToLower(email))
}

func (s *Store) AccountByID(ctx context.Context, id string) (*model.Account, error) {
	return s.account(ctx,
		`SELECT id, email, password_hash, role, created_at FROM accounts WHERE id = $1`, id)
}

func (s *Store) account(ctx context.Context, sql string, arg string) (*model.Account, error) {
	a := &model.Account{}
	var role string
	err := s.pool.QueryRow(ctx, sql, arg).
		Scan(&a.ID, &a.Email, &a.PasswordHash, &role, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	a.Role = model.Role(role)
	return a, nil
}
