// Package discount models time-bounded monetary reductions applied to orders.
package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no discount matches the requested code.
var ErrNotFound = errors.New("discount not found")

// Discount is a fixed monetary reduction that decays to zero once its
// expiration instant has passed. It is immutable after construction.
type Discount struct {
	code       string
	amount     decimal.Decimal
	expireDate time.Time
}

// New creates an anonymous Discount worth amount until expireDate.
func New(amount decimal.Decimal, expireDate time.Time) *Discount {
	return &Discount{amount: amount, expireDate: expireDate}
}

// NewWithCode creates a Discount that can be looked up by code.
func NewWithCode(code string, amount decimal.Decimal, expireDate time.Time) *Discount {
	return &Discount{code: code, amount: amount, expireDate: expireDate}
}

// Code returns the lookup code, empty for anonymous discounts.
func (d *Discount) Code() string { return d.code }

// Amount returns the nominal reduction regardless of expiration.
func (d *Discount) Amount() decimal.Decimal { return d.amount }

// ExpireDate returns the instant from which the discount no longer applies.
func (d *Discount) ExpireDate() time.Time { return d.expireDate }

// IsExpireDateValid reports whether the current time is strictly before the
// expiration date.
func (d *Discount) IsExpireDateValid() bool {
	return d.IsValidAt(time.Now())
}

// IsValidAt reports whether t is strictly before the expiration date.
func (d *Discount) IsValidAt(t time.Time) bool {
	return t.Before(d.expireDate)
}

// Value returns the amount while the discount is live and zero afterwards.
func (d *Discount) Value() decimal.Decimal {
	return d.ValueAt(time.Now())
}

// ValueAt is Value evaluated at t.
func (d *Discount) ValueAt(t time.Time) decimal.Decimal {
	if d.IsValidAt(t) {
		return d.amount
	}
	return decimal.Zero
}

// Repository provides lookup of discounts by their code.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Discount, error)
}
