package memory

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// Seed stores products and users in one unit of work.
func (s *Store) Seed(ctx context.Context, products []catalog.Product, users []user.User) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		for i := range products {
			if err := tx.Catalog().UpsertProduct(ctx, &products[i]); err != nil {
				return errors.Wrapf(err, "upsert product %s", products[i].ID)
			}
		}
		for i := range users {
			if err := tx.Users().Upsert(ctx, &users[i]); err != nil {
				return errors.Wrapf(err, "upsert user %s", users[i].ID)
			}
		}
		return nil
	})
}
