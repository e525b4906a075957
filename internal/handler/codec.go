package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/cartloop/promo-engine/internal/domain/cart"
)

// promoRequest is the shared body of the preview and reserve endpoints.
type promoRequest struct {
	Code string
	Cart cart.Cart
}

// decodePromoRequest reads {"code": ..., "cart": {...}} from the body.
func decodePromoRequest(r *http.Request) (promoRequest, error) {
	var req promoRequest

	d := jx.Decode(r.Body, 4096)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "code")
			}
			req.Code = v
			return nil
		case "cart":
			return decodeCart(d, &req.Cart)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return promoRequest{}, err
	}

	if req.Code == "" {
		return promoRequest{}, errors.New("code is required")
	}
	if len(req.Cart.Items) == 0 {
		return promoRequest{}, errors.New("cart items are required")
	}
	for _, item := range req.Cart.Items {
		if item.Quantity <= 0 {
			return promoRequest{}, errors.Errorf("quantity must be greater than 0 for product %s", item.ProductID)
		}
		if item.UnitPrice.IsNegative() {
			return promoRequest{}, errors.Errorf("unit price must not be negative for product %s", item.ProductID)
		}
	}
	return req, nil
}

func decodeCart(d *jx.Decoder, c *cart.Cart) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "cart.id")
			}
			c.ID = v
			return nil
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				item, err := decodeLineItem(d)
				if err != nil {
					return err
				}
				c.Items = append(c.Items, item)
				return nil
			})
		default:
			return d.Skip()
		}
	})
}

func decodeLineItem(d *jx.Decoder) (cart.LineItem, error) {
	var item cart.LineItem
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "productId":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "productId")
			}
			item.ProductID = v
			return nil
		case "categoryId":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "categoryId")
			}
			item.CategoryID = v
			return nil
		case "quantity":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "quantity")
			}
			item.Quantity = v
			return nil
		case "unitPrice":
			v, err := decodeDecimal(d)
			if err != nil {
				return errors.Wrap(err, "unitPrice")
			}
			item.UnitPrice = v
			return nil
		default:
			return d.Skip()
		}
	})
	return item, err
}

// decodeDecimal accepts a JSON number or a string-wrapped number, the
// two shapes clients send for money.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(strings.Trim(n.String(), `"`))
}

// writeJSON writes an encoded body with the standard headers.
func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// encodeMoney emits a decimal as a raw JSON number with two places.
func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.StringFixed(2)))
}
