package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// variantIDsQuery parses the comma separated variantIds query parameter.
func variantIDsQuery(r *http.Request) ([]uuid.UUID, error) {
	raw := r.URL.Query().Get("variantIds")
	if raw == "" {
		return nil, nil
	}
	var ids []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func encodeSelectionHeader(e *jx.Encoder, productID uuid.UUID, variantIDs []uuid.UUID) {
	e.FieldStart("productId")
	e.Str(productID.String())
	e.FieldStart("variantIds")
	e.ArrStart()
	for _, id := range variantIDs {
		e.Str(id.String())
	}
	e.ArrEnd()
}

// GetProduct returns an active product with its variants, so clients can pick
// the variant ids a cart line needs.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	p, err := h.pricing.Product(r.Context(), productID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	stock, err := pricing.AvailableStock(p, nil)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, p, stock) })
}

// GetProductPrice returns the unit price of a product selection.
func (h *Handler) GetProductPrice(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	variantIDs, err := variantIDsQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid variantIds")
		return
	}

	price, err := h.pricing.CalculatePrice(r.Context(), productID, variantIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		encodeSelectionHeader(e, productID, variantIDs)
		e.FieldStart("price")
		money(e, price)
		e.ObjEnd()
	})
}

// GetProductStock returns the units available for a product selection.
func (h *Handler) GetProductStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	variantIDs, err := variantIDsQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid variantIds")
		return
	}

	available, err := h.pricing.AvailableStock(r.Context(), productID, variantIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		encodeSelectionHeader(e, productID, variantIDs)
		e.FieldStart("available")
		e.Int(available)
		e.ObjEnd()
	})
}
