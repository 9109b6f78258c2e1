package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// money renders d as a JSON number with two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeStrings(e *jx.Encoder, list []string) {
	e.ArrStart()
	for _, s := range list {
		e.Str(s)
	}
	e.ArrEnd()
}

// encodeProduct writes p with its variants. stock is the figure for an empty
// selection.
func encodeProduct(e *jx.Encoder, p *catalog.Product, stock int) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID.String())
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("brand")
	e.Str(p.Brand)
	e.FieldStart("model")
	e.Str(p.Model)
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("basePrice")
	money(e, p.BasePrice)
	e.FieldStart("stock")
	e.Int(stock)
	e.FieldStart("hasVariants")
	e.Bool(p.UsesVariants())
	e.FieldStart("featured")
	e.Bool(p.Featured)
	e.FieldStart("imgUrls")
	encodeStrings(e, p.ImageURLs)
	e.FieldStart("variants")
	e.ArrStart()
	for _, v := range p.Variants {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(v.ID.String())
		e.FieldStart("type")
		e.Str(string(v.Type))
		e.FieldStart("name")
		e.Str(v.Name)
		e.FieldStart("description")
		e.Str(v.Description)
		e.FieldStart("priceModifier")
		money(e, v.PriceModifier)
		e.FieldStart("stock")
		e.Int(v.Stock)
		e.FieldStart("isAvailable")
		e.Bool(v.IsAvailable)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// encodeCart writes c. Lines whose product is in products carry its current
// name, description, base price and images.
func encodeCart(e *jx.Encoder, c *cart.Cart, products map[uuid.UUID]*catalog.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID.String())
	e.FieldStart("userId")
	e.Str(c.UserID.String())
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range c.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ID.String())
		e.FieldStart("productId")
		e.Str(it.ProductID.String())
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("priceAtAddition")
		money(e, it.PriceAtAddition)
		e.FieldStart("subtotal")
		money(e, it.Subtotal)
		if p, ok := products[it.ProductID]; ok {
			e.FieldStart("product")
			e.ObjStart()
			e.FieldStart("name")
			e.Str(p.Name)
			e.FieldStart("description")
			e.Str(p.Description)
			e.FieldStart("basePrice")
			money(e, p.BasePrice)
			e.FieldStart("imgUrls")
			encodeStrings(e, p.ImageURLs)
			e.ObjEnd()
		}
		e.FieldStart("variants")
		e.ArrStart()
		for _, v := range it.Variants {
			e.ObjStart()
			e.FieldStart("id")
			e.Str(v.ID.String())
			e.FieldStart("type")
			e.Str(string(v.Type))
			e.FieldStart("name")
			e.Str(v.Name)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.FieldStart("createdAt")
		timestamp(e, it.CreatedAt)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("total")
	money(e, c.Total)
	e.FieldStart("itemCount")
	e.Int(c.ItemCount())
	e.FieldStart("createdAt")
	timestamp(e, c.CreatedAt)
	e.FieldStart("updatedAt")
	timestamp(e, c.UpdatedAt)
	e.ObjEnd()
}

// encodeOrder writes o. owner is attached when not nil.
func encodeOrder(e *jx.Encoder, o *order.Order, owner *user.Profile) {
	d := o.Detail
	units := 0
	for _, it := range d.Items {
		units += it.Quantity
	}

	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID.String())
	e.FieldStart("orderNumber")
	e.Str(o.Number)
	e.FieldStart("userId")
	e.Str(o.UserID.String())
	if owner != nil {
		e.FieldStart("user")
		e.ObjStart()
		e.FieldStart("id")
		e.Str(owner.ID.String())
		e.FieldStart("name")
		e.Str(owner.Name)
		e.FieldStart("email")
		e.Str(owner.Email)
		e.ObjEnd()
	}
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("subtotal")
	money(e, d.Subtotal)
	e.FieldStart("tax")
	money(e, d.Tax)
	e.FieldStart("shipping")
	money(e, d.Shipping)
	e.FieldStart("total")
	money(e, d.Total)
	e.FieldStart("itemCount")
	e.Int(units)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range d.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ID.String())
		e.FieldStart("productId")
		e.Str(it.ProductID.String())
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unitPrice")
		money(e, it.UnitPrice)
		e.FieldStart("subtotal")
		money(e, it.Subtotal)
		e.FieldStart("product")
		e.ObjStart()
		e.FieldStart("name")
		e.Str(it.Product.Name)
		e.FieldStart("description")
		e.Str(it.Product.Description)
		e.FieldStart("basePrice")
		money(e, it.Product.BasePrice)
		e.ObjEnd()
		e.FieldStart("variants")
		e.ArrStart()
		for _, v := range it.Variants {
			e.ObjStart()
			e.FieldStart("id")
			e.Str(v.ID.String())
			e.FieldStart("type")
			e.Str(string(v.Type))
			e.FieldStart("name")
			e.Str(v.Name)
			e.FieldStart("priceModifier")
			money(e, v.PriceModifier)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("createdAt")
	timestamp(e, o.CreatedAt)
	e.FieldStart("updatedAt")
	timestamp(e, o.UpdatedAt)
	e.ObjEnd()
}

// readBody decodes the JSON object in the request body, calling field for
// every key.
func readBody(r *http.Request, w http.ResponseWriter, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(data) == 0 {
		return errors.New("request body is required")
	}
	return jx.DecodeBytes(data).Obj(field)
}

func decodeUUID(d *jx.Decoder) (uuid.UUID, error) {
	s, err := d.Str()
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.Errorf("invalid id %q", s)
	}
	return id, nil
}

type addItemRequest struct {
	ProductID  uuid.UUID
	Quantity   int
	VariantIDs []uuid.UUID
}

func (req *addItemRequest) decode(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "productId":
		req.ProductID, err = decodeUUID(d)
	case "quantity":
		req.Quantity, err = d.Int()
	case "variantIds":
		if d.Next() == jx.Null {
			return d.Null()
		}
		err = d.Arr(func(d *jx.Decoder) error {
			id, err := decodeUUID(d)
			req.VariantIDs = append(req.VariantIDs, id)
			return err
		})
	default:
		err = d.Skip()
	}
	if err != nil {
		return errors.Wrap(err, key)
	}
	return nil
}
