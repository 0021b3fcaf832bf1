package main

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/store/internal/domain/customer"
	"github.com/xenking/store/internal/domain/discount"
	"github.com/xenking/store/internal/domain/product"
)

var timeNow = time.Now

type catalog struct {
	Customers []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"customers"`
	Products []struct {
		ID     string          `json:"id"`
		Name   string          `json:"name"`
		Price  decimal.Decimal `json:"price"`
		Active bool            `json:"active"`
	} `json:"products"`
	Discounts []struct {
		Code   string          `json:"code"`
		Amount decimal.Decimal `json:"amount"`
		// ValidDays is relative to the seed time; negative seeds an expired code.
		ValidDays int `json:"validDays"`
	} `json:"discounts"`
}

func parseCatalog(data []byte) (*catalog, error) {
	var c catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "decode catalog JSON")
	}
	for _, p := range c.Products {
		if p.ID == "" {
			return nil, errors.Errorf("product %q has no id", p.Name)
		}
		if p.Price.IsNegative() {
			return nil, errors.Errorf("product %s has negative price", p.ID)
		}
	}
	for _, d := range c.Discounts {
		if d.Code == "" {
			return nil, errors.New("discount without code")
		}
	}
	return &c, nil
}

func (c *catalog) customers() []*customer.Customer {
	out := make([]*customer.Customer, 0, len(c.Customers))
	for _, v := range c.Customers {
		cust := customer.New(v.Name, v.Email)
		cust.ID = v.ID
		out = append(out, cust)
	}
	return out
}

func (c *catalog) products() []*product.Product {
	out := make([]*product.Product, 0, len(c.Products))
	for _, v := range c.Products {
		p := product.New(v.Name, v.Price, v.Active)
		p.ID = v.ID
		out = append(out, p)
	}
	return out
}

func (c *catalog) discounts(now time.Time) []*discount.Discount {
	out := make([]*discount.Discount, 0, len(c.Discounts))
	for _, v := range c.Discounts {
		out = append(out, discount.NewWithCode(v.Code, v.Amount, now.AddDate(0, 0, v.ValidDays)))
	}
	return out
}
