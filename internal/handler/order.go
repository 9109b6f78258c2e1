package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

// IdempotencyKeyHeader lets clients retry order creation safely.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

// CreateOrder turns the cart of the caller into an order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	reqKey := r.Header.Get(IdempotencyKeyHeader)
	if len(reqKey) > maxIdempotencyKeyLen {
		writeError(w, http.StatusBadRequest, "idempotency key is too long")
		return
	}

	key, _ := APIKeyFromContext(r.Context())
	o, err := h.orders.CreateFromCartOnce(r.Context(), key.UserID, reqKey)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o, nil) })
}

// ListOrders returns the orders of the caller, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	key, _ := APIKeyFromContext(r.Context())
	orders, err := h.orders.ListByUser(r.Context(), key.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i], nil)
		}
		e.ArrEnd()
	})
}

// GetOrder returns one order with its owner. Orders of other users are
// reported as missing unless the key has the admin scope.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	key, _ := APIKeyFromContext(r.Context())
	v, err := h.orders.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if v.Order.UserID != key.UserID && !key.HasScope(auth.ScopeOrdersAdmin) {
		writeError(w, http.StatusNotFound, "order "+id.String()+" not found")
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, v.Order, &v.User) })
}

// UpdateOrderStatus overwrites the status of an order.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	key, _ := APIKeyFromContext(r.Context())
	if !key.HasScope(auth.ScopeOrdersAdmin) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	var status string
	if err := readBody(r, w, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return errors.Wrap(err, key)
		}
		status = v
		return nil
	}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), id, status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, nil) })
}
