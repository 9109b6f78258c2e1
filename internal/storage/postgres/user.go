package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

const (
	getUserSQL = `SELECT id, name, email, username, address, phone, created_at
	FROM users WHERE id = $1`

	upsertUserSQL = `INSERT INTO users (id, name, email, username, address, phone)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		email = EXCLUDED.email,
		username = EXCLUDED.username,
		address = EXCLUDED.address,
		phone = EXCLUDED.phone
	RETURNING created_at`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	q querier
}

// GetByID returns the user with the given id.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	var u user.User
	err := r.q.QueryRow(ctx, getUserSQL, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Username, &u.Address, &u.Phone, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("user", id)
		}
		return nil, errors.Wrapf(err, "get user %s", id)
	}
	return &u, nil
}

// Upsert inserts or updates u by id.
func (r *UserRepository) Upsert(ctx context.Context, u *user.User) error {
	err := r.q.QueryRow(ctx, upsertUserSQL,
		u.ID, u.Name, u.Email, u.Username, u.Address, u.Phone,
	).Scan(&u.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "upsert user %s", u.ID)
	}
	return nil
}
