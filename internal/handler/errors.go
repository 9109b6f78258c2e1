package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
)

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidSelection),
		errors.Is(err, apperr.ErrInvalidQuantity),
		errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrInsufficientStock),
		errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrEmptyCart):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders an error returned by a domain service. System
// failures are logged and rendered with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, status, "internal server error")
		return
	}

	var stock *apperr.InsufficientStockError
	if errors.As(err, &stock) {
		writeJSON(w, status, func(e *jx.Encoder) {
			e.ObjStart()
			e.FieldStart("code")
			e.Int(status)
			e.FieldStart("message")
			e.Str(stock.Error())
			e.FieldStart("productId")
			e.Str(stock.ProductID.String())
			e.FieldStart("available")
			e.Int(stock.Available)
			e.FieldStart("requested")
			e.Int(stock.Requested)
			e.ObjEnd()
		})
		return
	}
	writeError(w, status, err.Error())
}
