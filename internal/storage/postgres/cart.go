package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/cart"
)

const (
	// FOR UPDATE serializes concurrent mutations of one user's cart.
	getCartSQL = `SELECT id, user_id, total, created_at, updated_at
	FROM carts WHERE user_id = $1 FOR UPDATE`

	listCartItemsSQL = `SELECT id, cart_id, product_id, quantity, price_at_addition, subtotal,
		selection, created_at
	FROM cart_items WHERE cart_id = $1 ORDER BY position`

	upsertCartSQL = `INSERT INTO carts (id, user_id, total, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET total = EXCLUDED.total, updated_at = EXCLUDED.updated_at`

	createCartSQL = `INSERT INTO carts (id, user_id, total, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (user_id) DO NOTHING`

	deleteCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	insertCartItemSQL = `INSERT INTO cart_items (id, cart_id, product_id, quantity,
		price_at_addition, subtotal, selection, position, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	q querier
}

// GetByUser loads the cart of userID with its items in insertion order.
func (r *CartRepository) GetByUser(ctx context.Context, userID uuid.UUID) (*cart.Cart, error) {
	var c cart.Cart
	err := r.q.QueryRow(ctx, getCartSQL, userID).
		Scan(&c.ID, &c.UserID, &c.Total, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("cart", userID)
		}
		return nil, errors.Wrapf(err, "get cart of user %s", userID)
	}

	rows, err := r.q.Query(ctx, listCartItemsSQL, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "query cart items")
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var (
			it        cart.Item
			selection []byte
		)
		if err := row.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity,
			&it.PriceAtAddition, &it.Subtotal, &selection, &it.CreatedAt); err != nil {
			return it, err
		}
		vs, err := decodeSelection(selection)
		it.Variants = vs
		return it, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan cart items")
	}
	c.Items = items
	return &c, nil
}

// Create inserts the empty cart c unless its user already has one.
func (r *CartRepository) Create(ctx context.Context, c *cart.Cart) error {
	if _, err := r.q.Exec(ctx, createCartSQL, c.ID, c.UserID, c.Total, c.CreatedAt, c.UpdatedAt); err != nil {
		return errors.Wrapf(err, "create cart of user %s", c.UserID)
	}
	return nil
}

// Save upserts the cart row and replaces its items.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	if _, err := r.q.Exec(ctx, upsertCartSQL, c.ID, c.UserID, c.Total, c.CreatedAt, c.UpdatedAt); err != nil {
		return errors.Wrapf(err, "upsert cart %s", c.ID)
	}

	batch := &pgx.Batch{}
	batch.Queue(deleteCartItemsSQL, c.ID)
	for i, it := range c.Items {
		batch.Queue(insertCartItemSQL,
			it.ID, c.ID, it.ProductID, it.Quantity, it.PriceAtAddition, it.Subtotal,
			encodeSelection(it.Variants), i, it.CreatedAt,
		)
	}

	br := r.q.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrapf(err, "write items of cart %s", c.ID)
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrapf(err, "write items of cart %s", c.ID)
	}
	return nil
}
