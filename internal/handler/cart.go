package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

// respondCart renders c with the current catalog details of each line.
func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, status int, c *cart.Cart) {
	ids := make([]uuid.UUID, 0, len(c.Items))
	for _, it := range c.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := h.pricing.Products(r.Context(), ids)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, func(e *jx.Encoder) { encodeCart(e, c, products) })
}

// GetCart returns the cart of the caller, creating it on first access.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	key, _ := APIKeyFromContext(r.Context())
	c, err := h.carts.GetOrCreate(r.Context(), key.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, c)
}

// AddCartItem adds a product selection to the cart of the caller.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := readBody(r, w, req.decode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProductID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "productId is required")
		return
	}

	key, _ := APIKeyFromContext(r.Context())
	c, err := h.carts.AddProduct(r.Context(), key.UserID, cart.AddRequest{
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		VariantIDs: req.VariantIDs,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, c)
}

// UpdateCartItem sets the quantity of one cart line. Quantity 0 removes it.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	var (
		qty    int
		hasQty bool
	)
	if err := readBody(r, w, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		v, err := d.Int()
		if err != nil {
			return errors.Wrap(err, key)
		}
		qty, hasQty = v, true
		return nil
	}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !hasQty {
		writeError(w, http.StatusBadRequest, "quantity is required")
		return
	}

	key, _ := APIKeyFromContext(r.Context())
	c, err := h.carts.UpdateItemQuantity(r.Context(), key.UserID, itemID, qty)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, c)
}

// RemoveCartItem deletes one cart line.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	key, _ := APIKeyFromContext(r.Context())
	c, err := h.carts.RemoveItem(r.Context(), key.UserID, itemID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, c)
}

// ClearCart empties the cart of the caller.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	key, _ := APIKeyFromContext(r.Context())
	c, err := h.carts.Clear(r.Context(), key.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, c)
}

// pathID parses the uuid path value name, answering 400 when it is invalid.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
