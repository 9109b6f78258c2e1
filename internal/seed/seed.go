// Package seed loads a catalog document with products, users and API keys
// into a store.
//
// The document is JSON:
//
//	{
//	  "users":    [{"id": "...", "name": "...", "email": "..."}],
//	  "apiKeys":  [{"key": "...", "userId": "...", "name": "...", "scopes": ["orders:admin"]}],
//	  "products": [{"id": "...", "name": "...", "basePrice": "799.99", "baseStock": 0,
//	                "variants": [{"type": "storage", "name": "256GB", "priceModifier": "100", "stock": 12}]}]
//	}
//
// Money accepts both JSON strings and numbers. Products are active unless
// "isActive" is false, and have variants when the variant list is non-empty.
// Variants without an id are matched to stored ones by type and name.
package seed

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/txn"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// Tx is the repository set a seed is applied to.
type Tx interface {
	Catalog() catalog.Repository
	Users() user.Repository
	APIKeys() auth.Repository
}

// Key is a plaintext API key together with its owner.
type Key struct {
	Key    string
	UserID uuid.UUID
	Name   string
	Scopes []string
}

// Document is a parsed catalog document.
type Document struct {
	Users    []user.User
	Keys     []Key
	Products []catalog.Product
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "users":
			err = d.Arr(func(d *jx.Decoder) error {
				u, err := decodeUser(d)
				doc.Users = append(doc.Users, u)
				return err
			})
		case "apiKeys":
			err = d.Arr(func(d *jx.Decoder) error {
				k, err := decodeKey(d)
				doc.Keys = append(doc.Keys, k)
				return err
			})
		case "products":
			err = d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d)
				doc.Products = append(doc.Products, p)
				return err
			})
		default:
			err = d.Skip()
		}
		return wrapField(err, key)
	}); err != nil {
		return nil, errors.Wrap(err, "decode catalog document")
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (doc *Document) validate() error {
	users := make(map[uuid.UUID]struct{}, len(doc.Users))
	for _, u := range doc.Users {
		if u.ID == uuid.Nil {
			return errors.Errorf("user %q: id is required", u.Email)
		}
		users[u.ID] = struct{}{}
	}
	for _, k := range doc.Keys {
		if k.Key == "" {
			return errors.Errorf("api key %q: key is required", k.Name)
		}
		if _, ok := users[k.UserID]; !ok {
			return errors.Errorf("api key %q: unknown user %s", k.Name, k.UserID)
		}
	}
	for i := range doc.Products {
		if err := validateProduct(&doc.Products[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateProduct(p *catalog.Product) error {
	if p.ID == uuid.Nil {
		return errors.Errorf("product %q: id is required", p.Name)
	}
	if p.BasePrice.IsNegative() {
		return errors.Errorf("product %q: negative base price", p.Name)
	}
	if p.BaseStock < 0 {
		return errors.Errorf("product %q: negative base stock", p.Name)
	}
	for _, v := range p.Variants {
		if !v.Type.Valid() {
			return errors.Errorf("product %q: unknown variant type %q", p.Name, v.Type)
		}
		if v.Stock < 0 {
			return errors.Errorf("product %q: variant %q has negative stock", p.Name, v.Name)
		}
	}
	return nil
}

// ParseProduct decodes and validates a single product object, as found in
// the "products" list of a document or on one line of an import shard.
func ParseProduct(data []byte) (catalog.Product, error) {
	p, err := decodeProduct(jx.DecodeBytes(data))
	if err != nil {
		return catalog.Product{}, errors.Wrap(err, "decode product")
	}
	if err := validateProduct(&p); err != nil {
		return catalog.Product{}, err
	}
	return p, nil
}

// Apply stores the document in one unit of work. Keys are stored as their
// HMAC hash under pepper. Applying the same document twice is a no-op apart
// from resetting stock to the document values.
func Apply(ctx context.Context, store txn.Transactor[Tx], doc *Document, pepper []byte) error {
	lg := zctx.From(ctx)
	return store.InTx(ctx, func(tx Tx) error {
		for i := range doc.Users {
			u := doc.Users[i]
			if err := tx.Users().Upsert(ctx, &u); err != nil {
				return errors.Wrapf(err, "upsert user %s", u.ID)
			}
		}
		lg.Info("Seeded users", zap.Int("count", len(doc.Users)))

		for i := range doc.Products {
			p := doc.Products[i]
			p.Variants = append([]catalog.Variant(nil), p.Variants...)
			if err := tx.Catalog().UpsertProduct(ctx, &p); err != nil {
				return errors.Wrapf(err, "upsert product %s", p.ID)
			}
			lg.Debug("Seeded product",
				zap.Stringer("product_id", p.ID),
				zap.String("name", p.Name),
				zap.Int("variants", len(p.Variants)),
			)
		}
		lg.Info("Seeded products", zap.Int("count", len(doc.Products)))

		for _, k := range doc.Keys {
			info := auth.APIKeyInfo{
				UserID:  k.UserID,
				KeyHash: auth.HashKey(pepper, k.Key),
				Name:    k.Name,
				Scopes:  k.Scopes,
			}
			if err := tx.APIKeys().Upsert(ctx, &info); err != nil {
				return errors.Wrapf(err, "upsert api key %q", k.Name)
			}
		}
		lg.Info("Seeded API keys", zap.Int("count", len(doc.Keys)))
		return nil
	})
}

func decodeUser(d *jx.Decoder) (user.User, error) {
	var u user.User
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			u.ID, err = decodeUUID(d)
		case "name":
			u.Name, err = d.Str()
		case "email":
			u.Email, err = d.Str()
		case "username":
			u.Username, err = d.Str()
		case "address":
			u.Address, err = d.Str()
		case "phone":
			u.Phone, err = d.Str()
		default:
			err = d.Skip()
		}
		return wrapField(err, key)
	})
	return u, err
}

func decodeKey(d *jx.Decoder) (Key, error) {
	var k Key
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "key":
			k.Key, err = d.Str()
		case "userId":
			k.UserID, err = decodeUUID(d)
		case "name":
			k.Name, err = d.Str()
		case "scopes":
			err = d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				k.Scopes = append(k.Scopes, s)
				return err
			})
		default:
			err = d.Skip()
		}
		return wrapField(err, key)
	})
	return k, err
}

func decodeProduct(d *jx.Decoder) (catalog.Product, error) {
	p := catalog.Product{IsActive: true}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = decodeUUID(d)
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "brand":
			p.Brand, err = d.Str()
		case "model":
			p.Model, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "basePrice":
			p.BasePrice, err = decodeDecimal(d)
		case "baseStock":
			p.BaseStock, err = d.Int()
		case "isActive":
			p.IsActive, err = d.Bool()
		case "featured":
			p.Featured, err = d.Bool()
		case "imageUrls":
			err = d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				p.ImageURLs = append(p.ImageURLs, s)
				return err
			})
		case "variants":
			err = d.Arr(func(d *jx.Decoder) error {
				v, err := decodeVariant(d)
				p.Variants = append(p.Variants, v)
				return err
			})
		default:
			err = d.Skip()
		}
		return wrapField(err, key)
	})
	p.HasVariants = len(p.Variants) > 0
	for i := range p.Variants {
		p.Variants[i].ProductID = p.ID
	}
	return p, err
}

func decodeVariant(d *jx.Decoder) (catalog.Variant, error) {
	v := catalog.Variant{IsAvailable: true}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			v.ID, err = decodeUUID(d)
		case "type":
			var s string
			s, err = d.Str()
			v.Type = catalog.VariantType(s)
		case "name":
			v.Name, err = d.Str()
		case "description":
			v.Description, err = d.Str()
		case "priceModifier":
			v.PriceModifier, err = decodeDecimal(d)
		case "stock":
			v.Stock, err = d.Int()
		case "isAvailable":
			v.IsAvailable, err = d.Bool()
		case "sortOrder":
			v.SortOrder, err = d.Int()
		default:
			err = d.Skip()
		}
		return wrapField(err, key)
	})
	return v, err
}

func decodeUUID(d *jx.Decoder) (uuid.UUID, error) {
	s, err := d.Str()
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(s)
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.Errorf("expected decimal, got %s", d.Next())
	}
}

func wrapField(err error, key string) error {
	if err != nil {
		return errors.Wrap(err, key)
	}
	return nil
}
