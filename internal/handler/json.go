package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/store/internal/domain/discount"
	"github.com/xenking/store/internal/domain/order"
	"github.com/xenking/store/internal/domain/product"
)

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, &e)
}

// encodeMoney writes d as a JSON number without losing precision.
func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.String()))
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	encodeMoney(e, p.Price)
	e.FieldStart("active")
	e.Bool(p.Active)
	e.ObjEnd()
}

func encodeDiscount(e *jx.Encoder, d *discount.Discount) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(d.Code())
	e.FieldStart("amount")
	encodeMoney(e, d.Amount())
	e.FieldStart("expireDate")
	e.Str(d.ExpireDate().UTC().Format(time.RFC3339))
	e.FieldStart("valid")
	e.Bool(d.IsExpireDateValid())
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("number")
	e.Str(o.Number())
	e.FieldStart("status")
	e.Str(o.Status().String())

	if c := o.Customer(); c != nil {
		e.FieldStart("customer")
		e.ObjStart()
		e.FieldStart("id")
		e.Str(c.ID)
		e.FieldStart("name")
		e.Str(c.Name)
		e.FieldStart("email")
		e.Str(c.Email)
		e.ObjEnd()
	}

	e.FieldStart("items")
	e.ArrStart()
	for _, item := range o.Items() {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(item.Product.ID)
		e.FieldStart("name")
		e.Str(item.Product.Name)
		e.FieldStart("price")
		encodeMoney(e, item.Product.Price)
		e.FieldStart("quantity")
		e.Int(item.Quantity)
		e.FieldStart("subtotal")
		encodeMoney(e, item.Subtotal())
		e.ObjEnd()
	}
	e.ArrEnd()

	if d := o.Discount(); d != nil {
		e.FieldStart("discount")
		encodeDiscount(e, d)
	}

	e.FieldStart("subtotal")
	encodeMoney(e, o.Subtotal())
	e.FieldStart("discountValue")
	encodeMoney(e, o.DiscountValue())
	e.FieldStart("deliveryFee")
	encodeMoney(e, o.DeliveryFee())
	e.FieldStart("total")
	encodeMoney(e, o.Total())
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt().UTC().Format(time.RFC3339))
	e.ObjEnd()
}

// decodeMoney accepts a JSON number or a numeric string.
func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	default:
		return decimal.Zero, errors.New("expected number")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse amount %q", raw)
	}
	return v, nil
}

func decodePlaceOrder(r io.Reader) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	d := jx.Decode(r, 1024)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "customerId":
			req.CustomerID, err = d.Str()
		case "discountCode":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.DiscountCode, err = d.Str()
		case "deliveryFee":
			req.DeliveryFee, err = decodeMoney(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				item, err := decodeItem(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "field %s", key)
	})
	return req, err
}

func decodeItem(d *jx.Decoder) (order.ItemRequest, error) {
	var item order.ItemRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "productId":
			item.ProductID, err = d.Str()
		case "quantity":
			item.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return item, err
}

func decodePayment(r io.Reader) (decimal.Decimal, error) {
	amount := decimal.Zero
	seen := false
	d := jx.Decode(r, 256)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "amount" {
			return d.Skip()
		}
		v, err := decodeMoney(d)
		if err != nil {
			return errors.Wrap(err, "field amount")
		}
		amount, seen = v, true
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	if !seen {
		return decimal.Zero, errors.New("amount required")
	}
	return amount, nil
}
