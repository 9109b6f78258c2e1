package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

const (
	insertOrderDetailSQL = `INSERT INTO order_details (id, subtotal, tax, shipping, total)
	VALUES ($1, $2, $3, $4, $5)`

	insertOrderSQL = `INSERT INTO orders (id, number, user_id, status, detail_id, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertOrderItemSQL = `INSERT INTO order_items (id, detail_id, product_id, quantity, unit_price,
		subtotal, product_snapshot, variants_snapshot, position)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	selectOrderSQL = `SELECT o.id, o.number, o.user_id, o.status, o.created_at, o.updated_at,
		d.id, d.subtotal, d.tax, d.shipping, d.total
	FROM orders o JOIN order_details d ON d.id = o.detail_id`

	getOrderSQL = selectOrderSQL + ` WHERE o.id = $1`

	listOrdersByUserSQL = selectOrderSQL + ` WHERE o.user_id = $1 ORDER BY o.created_at DESC, o.id`

	listOrderItemsSQL = `SELECT detail_id, id, product_id, quantity, unit_price, subtotal,
		product_snapshot, variants_snapshot
	FROM order_items WHERE detail_id = ANY($1::uuid[])
	ORDER BY detail_id, position`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. An order
// spans three tables: orders, order_details and order_items.
type OrderRepository struct {
	q querier
}

// Create persists a new order with its detail and items.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	d := o.Detail

	batch := &pgx.Batch{}
	batch.Queue(insertOrderDetailSQL, d.ID, d.Subtotal, d.Tax, d.Shipping, d.Total)
	batch.Queue(insertOrderSQL, o.ID, o.Number, o.UserID, string(o.Status), d.ID, o.CreatedAt, o.UpdatedAt)
	for i, it := range d.Items {
		batch.Queue(insertOrderItemSQL,
			it.ID, d.ID, it.ProductID, it.Quantity, it.UnitPrice, it.Subtotal,
			encodeProductSnapshot(it.Product), encodeVariantSnapshots(it.Variants), i,
		)
	}

	br := r.q.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrapf(err, "create order %s", o.ID)
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrapf(err, "create order %s", o.ID)
	}
	return nil
}

// GetByID returns the order with the given id.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o, err := scanOrder(r.q.QueryRow(ctx, getOrderSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("order", id)
		}
		return nil, errors.Wrapf(err, "get order %s", id)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByUser returns the orders of userID, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	rows, err := r.q.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan orders")
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus sets the status of an existing order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status order.Status, updatedAt time.Time) error {
	tag, err := r.q.Exec(ctx, updateOrderStatusSQL, id, string(status), updatedAt)
	if err != nil {
		return errors.Wrapf(err, "update order %s status", id)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("order", id)
	}
	return nil
}

func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	detailIDs := make([]uuid.UUID, len(orders))
	for i := range orders {
		detailIDs[i] = orders[i].Detail.ID
	}

	rows, err := r.q.Query(ctx, listOrderItemsSQL, uuidStrings(detailIDs))
	if err != nil {
		return errors.Wrap(err, "query order items")
	}
	type detailItem struct {
		detailID uuid.UUID
		item     order.Item
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (detailItem, error) {
		var (
			di               detailItem
			product, variant []byte
		)
		it := &di.item
		if err := row.Scan(&di.detailID, &it.ID, &it.ProductID, &it.Quantity, &it.UnitPrice,
			&it.Subtotal, &product, &variant); err != nil {
			return di, err
		}
		var err error
		if it.Product, err = decodeProductSnapshot(product); err != nil {
			return di, err
		}
		if it.Variants, err = decodeVariantSnapshots(variant); err != nil {
			return di, err
		}
		return di, nil
	})
	if err != nil {
		return errors.Wrap(err, "scan order items")
	}

	byDetail := make(map[uuid.UUID][]order.Item, len(orders))
	for _, di := range items {
		byDetail[di.detailID] = append(byDetail[di.detailID], di.item)
	}
	for i := range orders {
		orders[i].Detail.Items = byDetail[orders[i].Detail.ID]
	}
	return nil
}

func scanOrder(row pgx.Row) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &status, &o.CreatedAt, &o.UpdatedAt,
		&o.Detail.ID, &o.Detail.Subtotal, &o.Detail.Tax, &o.Detail.Shipping, &o.Detail.Total)
	o.Status = order.Status(status)
	return o, err
}
