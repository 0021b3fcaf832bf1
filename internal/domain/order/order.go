package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/store/internal/domain/customer"
	"github.com/xenking/store/internal/domain/discount"
	"github.com/xenking/store/internal/domain/product"
)

// NumberLength is the length of a generated order number.
const NumberLength = 8

// Item is one order line. Lines are never merged, so the same product may
// appear more than once.
type Item struct {
	Product  *product.Product
	Quantity int
}

// Subtotal returns price × quantity for the line.
func (i Item) Subtotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is a customer's purchase. The zero value is not usable; construct
// with New or Restore.
type Order struct {
	number      string
	customer    *customer.Customer
	discount    *discount.Discount
	deliveryFee decimal.Decimal
	items       []Item
	status      Status
	valid       bool
	createdAt   time.Time

	now func() time.Time
}

// New creates an order awaiting payment. An order without a customer is
// constructed but reported invalid by IsValid.
func New(c *customer.Customer, deliveryFee decimal.Decimal, d *discount.Discount) *Order {
	return &Order{
		number:      newNumber(),
		customer:    c,
		discount:    d,
		deliveryFee: deliveryFee,
		status:      StatusWaitingPayment,
		valid:       c != nil,
		createdAt:   time.Now(),
		now:         time.Now,
	}
}

// Snapshot is the persisted state of an order.
type Snapshot struct {
	Number      string
	Customer    *customer.Customer
	Discount    *discount.Discount
	DeliveryFee decimal.Decimal
	Items       []Item
	Status      Status
	CreatedAt   time.Time
}

// Restore rebuilds an order from persisted state without generating a new
// number or resetting its status.
func Restore(s Snapshot) *Order {
	return &Order{
		number:      s.Number,
		customer:    s.Customer,
		discount:    s.Discount,
		deliveryFee: s.DeliveryFee,
		items:       append([]Item(nil), s.Items...),
		status:      s.Status,
		valid:       s.Customer != nil,
		createdAt:   s.CreatedAt,
		now:         time.Now,
	}
}

func newNumber() string {
	return uuid.NewString()[:NumberLength]
}

// withClock makes o evaluate discount expiry against now.
func (o *Order) withClock(now func() time.Time) *Order {
	o.now = now
	return o
}

// renumber assigns a fresh number after a collision on insert.
func (o *Order) renumber() {
	o.number = newNumber()
}

// Number returns the 8-character order identifier.
func (o *Order) Number() string { return o.number }

// Customer returns the purchaser, nil for an invalid order.
func (o *Order) Customer() *customer.Customer { return o.customer }

// Discount returns the attached discount, if any.
func (o *Order) Discount() *discount.Discount { return o.discount }

// DeliveryFee returns the fixed delivery charge.
func (o *Order) DeliveryFee() decimal.Decimal { return o.deliveryFee }

// Status returns the current lifecycle status.
func (o *Order) Status() Status { return o.status }

// CreatedAt returns the construction time.
func (o *Order) CreatedAt() time.Time { return o.createdAt }

// IsValid reports whether the order had a customer at construction.
func (o *Order) IsValid() bool { return o.valid }

// Items returns a copy of the order lines in insertion order.
func (o *Order) Items() []Item {
	return append([]Item(nil), o.items...)
}

// AddItem appends a line. A nil product or a non-positive quantity is
// ignored and reported with false.
func (o *Order) AddItem(p *product.Product, quantity int) bool {
	if p == nil || quantity <= 0 {
		return false
	}
	o.items = append(o.items, Item{Product: p, Quantity: quantity})
	return true
}

// Subtotal is the sum of all line subtotals.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.items {
		sum = sum.Add(item.Subtotal())
	}
	return sum
}

// DiscountValue is the amount the discount takes off right now; zero when
// there is no discount or it has expired.
func (o *Order) DiscountValue() decimal.Decimal {
	if o.discount == nil {
		return decimal.Zero
	}
	return o.discount.ValueAt(o.now())
}

// Total is subtotal minus discount plus delivery fee, never below zero.
// The discount expiry is evaluated at call time.
func (o *Order) Total() decimal.Decimal {
	total := o.Subtotal().Sub(o.DiscountValue()).Add(o.deliveryFee)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// Covers reports whether amount pays the current total in full.
func (o *Order) Covers(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(o.Total())
}

// Pay moves a waiting order to WaitingDelivery. The amount is not compared
// with the total here; see Covers. Any other source status is left unchanged
// and reported with false.
func (o *Order) Pay(_ decimal.Decimal) bool {
	if o.status != StatusWaitingPayment {
		return false
	}
	o.status = StatusWaitingDelivery
	return true
}

// Cancel moves the order to Canceled from any status.
func (o *Order) Cancel() {
	o.status = StatusCanceled
}

// Repository persists orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, number string) (*Order, error)
	// UpdateStatus stores to only while the persisted status is still from,
	// and returns ErrInvalidTransition otherwise.
	UpdateStatus(ctx context.Context, number string, from, to Status) error
}
