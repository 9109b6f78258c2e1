package memory

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

var (
	_ catalog.Repository = (*catalogRepo)(nil)
	_ user.Repository    = (*userRepo)(nil)
	_ cart.Repository    = (*cartRepo)(nil)
	_ order.Repository   = (*orderRepo)(nil)
	_ auth.Repository    = (*apikeyRepo)(nil)
)

func cloneProduct(p catalog.Product) catalog.Product {
	p.Variants = slices.Clone(p.Variants)
	p.ImageURLs = slices.Clone(p.ImageURLs)
	return p
}

type catalogRepo struct{ run runner }

func (r *catalogRepo) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	var out catalog.Product
	err := r.run(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return apperr.NotFound("product", id)
		}
		out = cloneProduct(p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *catalogRepo) GetProducts(ctx context.Context, ids []uuid.UUID) ([]catalog.Product, error) {
	var out []catalog.Product
	err := r.run(ctx, func(st *state) error {
		for _, id := range ids {
			if p, ok := st.products[id]; ok {
				out = append(out, cloneProduct(p))
			}
		}
		return nil
	})
	return out, err
}

func (r *catalogRepo) DecrementProductStock(ctx context.Context, productID uuid.UUID, qty int) error {
	return r.run(ctx, func(st *state) error {
		p, ok := st.products[productID]
		if !ok || p.BaseStock < qty {
			return catalog.ErrStockConflict
		}
		p.BaseStock -= qty
		st.products[productID] = p
		return nil
	})
}

func (r *catalogRepo) DecrementVariantStock(ctx context.Context, variantID uuid.UUID, qty int) error {
	return r.run(ctx, func(st *state) error {
		for id, p := range st.products {
			for i := range p.Variants {
				if p.Variants[i].ID != variantID {
					continue
				}
				if p.Variants[i].Stock < qty {
					return catalog.ErrStockConflict
				}
				p.Variants[i].Stock -= qty
				st.products[id] = p
				return nil
			}
		}
		return catalog.ErrStockConflict
	})
}

func (r *catalogRepo) UpsertProduct(ctx context.Context, p *catalog.Product) error {
	return r.run(ctx, func(st *state) error {
		prev, existed := st.products[p.ID]
		seen := make(map[[2]string]struct{}, len(p.Variants))
		for _, v := range p.Variants {
			key := [2]string{string(v.Type), v.Name}
			if _, dup := seen[key]; dup {
				return errors.Errorf("product %s: duplicate variant %s/%s", p.ID, v.Type, v.Name)
			}
			seen[key] = struct{}{}
		}

		for i := range p.Variants {
			v := &p.Variants[i]
			v.ProductID = p.ID
			if v.ID != uuid.Nil {
				continue
			}
			v.ID = uuid.New()
			for _, pv := range prev.Variants {
				if pv.Type == v.Type && pv.Name == v.Name {
					v.ID = pv.ID
					break
				}
			}
		}

		now := time.Now().UTC()
		p.UpdatedAt = now
		p.CreatedAt = now
		if existed {
			p.CreatedAt = prev.CreatedAt
		}

		// Variants missing from p are kept, as the SQL upsert does.
		stored := cloneProduct(*p)
		for _, pv := range prev.Variants {
			if _, ok := seen[[2]string{string(pv.Type), pv.Name}]; !ok {
				stored.Variants = append(stored.Variants, pv)
			}
		}
		slices.SortStableFunc(stored.Variants, func(a, b catalog.Variant) int {
			return a.SortOrder - b.SortOrder
		})
		st.products[stored.ID] = stored
		return nil
	})
}

type userRepo struct{ run runner }

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	var out user.User
	err := r.run(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return apperr.NotFound("user", id)
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *userRepo) Upsert(ctx context.Context, u *user.User) error {
	return r.run(ctx, func(st *state) error {
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now().UTC()
		}
		st.users[u.ID] = *u
		return nil
	})
}

type cartRepo struct{ run runner }

func (r *cartRepo) GetByUser(ctx context.Context, userID uuid.UUID) (*cart.Cart, error) {
	var out *cart.Cart
	err := r.run(ctx, func(st *state) error {
		c, ok := st.carts[userID]
		if !ok {
			return apperr.NotFound("cart", userID)
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

func (r *cartRepo) Create(ctx context.Context, c *cart.Cart) error {
	return r.run(ctx, func(st *state) error {
		if _, ok := st.carts[c.UserID]; !ok {
			st.carts[c.UserID] = c.Clone()
		}
		return nil
	})
}

func (r *cartRepo) Save(ctx context.Context, c *cart.Cart) error {
	return r.run(ctx, func(st *state) error {
		if prev, ok := st.carts[c.UserID]; ok && prev.ID != c.ID {
			return errors.Errorf("user %s already has cart %s", c.UserID, prev.ID)
		}
		st.carts[c.UserID] = c.Clone()
		return nil
	})
}

type orderRepo struct{ run runner }

func (r *orderRepo) Create(ctx context.Context, o *order.Order) error {
	return r.run(ctx, func(st *state) error {
		if _, ok := st.orders[o.ID]; ok {
			return errors.Errorf("order %s already exists", o.ID)
		}
		st.orders[o.ID] = *o
		return nil
	})
}

func (r *orderRepo) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	var out order.Order
	err := r.run(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return apperr.NotFound("order", id)
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *orderRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	var out []order.Order
	err := r.run(ctx, func(st *state) error {
		for _, o := range st.orders {
			if o.UserID == userID {
				out = append(out, o)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b order.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, err
}

func (r *orderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status order.Status, updatedAt time.Time) error {
	return r.run(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return apperr.NotFound("order", id)
		}
		o.Status = status
		o.UpdatedAt = updatedAt
		st.orders[id] = o
		return nil
	})
}

type apikeyRepo struct{ run runner }

func (r *apikeyRepo) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var out auth.APIKeyInfo
	err := r.run(ctx, func(st *state) error {
		k, ok := st.apikeys[hash]
		if !ok {
			return errors.New("api key not found")
		}
		out = k
		out.Scopes = slices.Clone(k.Scopes)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *apikeyRepo) Upsert(ctx context.Context, key *auth.APIKeyInfo) error {
	return r.run(ctx, func(st *state) error {
		if key.ID == uuid.Nil {
			key.ID = uuid.New()
		}
		stored := *key
		stored.Scopes = slices.Clone(key.Scopes)
		st.apikeys[key.KeyHash] = stored
		return nil
	})
}
