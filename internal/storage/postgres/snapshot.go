package postgres

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// JSONB documents stored next to cart and order rows. Decimals are written as
// strings so that no precision is lost on the way through JSON.

func encodeSelection(vs []cart.SelectedVariant) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, v := range vs {
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
	return e.Bytes()
}

func decodeSelection(data []byte) ([]cart.SelectedVariant, error) {
	out := []cart.SelectedVariant{}
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var v cart.SelectedVariant
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				id, err := decodeUUID(d)
				v.ID = id
				return err
			case "type":
				s, err := d.Str()
				v.Type = catalog.VariantType(s)
				return err
			case "name":
				s, err := d.Str()
				v.Name = s
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode selection")
	}
	return out, nil
}

func encodeProductSnapshot(p order.ProductSnapshot) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("basePrice")
	e.Str(p.BasePrice.String())
	e.ObjEnd()
	return e.Bytes()
}

func decodeProductSnapshot(data []byte) (order.ProductSnapshot, error) {
	var p order.ProductSnapshot
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "name":
			s, err := d.Str()
			p.Name = s
			return err
		case "description":
			s, err := d.Str()
			p.Description = s
			return err
		case "basePrice":
			v, err := decodeDecimal(d)
			p.BasePrice = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return order.ProductSnapshot{}, errors.Wrap(err, "decode product snapshot")
	}
	return p, nil
}

func encodeVariantSnapshots(vs []order.VariantSnapshot) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, v := range vs {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(v.ID.String())
		e.FieldStart("type")
		e.Str(string(v.Type))
		e.FieldStart("name")
		e.Str(v.Name)
		e.FieldStart("priceModifier")
		e.Str(v.PriceModifier.String())
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeVariantSnapshots(data []byte) ([]order.VariantSnapshot, error) {
	out := []order.VariantSnapshot{}
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var v order.VariantSnapshot
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				id, err := decodeUUID(d)
				v.ID = id
				return err
			case "type":
				s, err := d.Str()
				v.Type = catalog.VariantType(s)
				return err
			case "name":
				s, err := d.Str()
				v.Name = s
				return err
			case "priceModifier":
				m, err := decodeDecimal(d)
				v.PriceModifier = m
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode variant snapshots")
	}
	return out, nil
}

func decodeUUID(d *jx.Decoder) (uuid.UUID, error) {
	s, err := d.Str()
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(s)
}

// decodeDecimal accepts both string and number encodings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}
