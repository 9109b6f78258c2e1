package order

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
)

// orderNumber renders the human readable number, e.g.
// ORD-20240315-9F1C2B7A44D0E35B. The suffix is the last 8 bytes of id, which
// carry 62 random bits of a version 4 uuid.
func orderNumber(id uuid.UUID, at time.Time) string {
	return fmt.Sprintf("ORD-%s-%s", at.Format("20060102"), strings.ToUpper(hex.EncodeToString(id[8:])))
}

func outcomeAttr(err error) attribute.KeyValue {
	outcome := "system_failure"
	switch {
	case errors.Is(err, apperr.ErrEmptyCart):
		outcome = "empty_cart"
	case errors.Is(err, apperr.ErrInsufficientStock):
		outcome = "insufficient_stock"
	case errors.Is(err, apperr.ErrInvalidSelection):
		outcome = "invalid_selection"
	case errors.Is(err, apperr.ErrNotFound):
		outcome = "not_found"
	}
	return attribute.String("outcome", outcome)
}

func statusAttr(s Status) attribute.KeyValue {
	return attribute.String("status", string(s))
}
