package catalog

import (
	"bytes"
	"slices"

	"github.com/google/uuid"
)

// Selection is a set of variant ids chosen for one line item. The zero value
// is the empty selection.
type Selection []uuid.UUID

// NewSelection returns the ids as a Selection in canonical order. The input
// slice is not modified.
func NewSelection(ids []uuid.UUID) Selection {
	s := slices.Clone(ids)
	slices.SortFunc(s, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return Selection(s)
}

// Equal reports whether s and other hold the same ids regardless of order.
func (s Selection) Equal(other Selection) bool {
	if len(s) != len(other) {
		return false
	}
	return slices.Equal(NewSelection(s), NewSelection(other))
}

// IDs returns the ids in canonical order.
func (s Selection) IDs() []uuid.UUID {
	return NewSelection(s)
}
