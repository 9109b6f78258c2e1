package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

const (
	findAPIKeySQL = `SELECT id, user_id, key_hash, name, scopes
	FROM api_keys WHERE key_hash = $1 AND active`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, user_id, key_hash, name, scopes)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (key_hash) DO UPDATE SET
		user_id = EXCLUDED.user_id,
		name = EXCLUDED.name,
		scopes = EXCLUDED.scopes,
		active = TRUE
	RETURNING id`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	q querier
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
// Returns an error wrapping pgx.ErrNoRows when no matching key exists.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var k auth.APIKeyInfo
	err := r.q.QueryRow(ctx, findAPIKeySQL, hash).
		Scan(&k.ID, &k.UserID, &k.KeyHash, &k.Name, &k.Scopes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrap(err, "api key not found")
		}
		return nil, errors.Wrap(err, "find api key by hash")
	}
	return &k, nil
}

// Upsert stores key by its hash and reactivates it if it was revoked.
func (r *APIKeyRepository) Upsert(ctx context.Context, key *auth.APIKeyInfo) error {
	id := key.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	scopes := key.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	if err := r.q.QueryRow(ctx, upsertAPIKeySQL, id, key.UserID, key.KeyHash, key.Name, scopes).Scan(&key.ID); err != nil {
		return errors.Wrapf(err, "upsert api key %q", key.Name)
	}
	return nil
}
