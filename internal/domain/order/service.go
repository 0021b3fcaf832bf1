package order

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/store/internal/domain/customer"
	"github.com/xenking/store/internal/domain/discount"
	"github.com/xenking/store/internal/domain/product"
)

const (
	instrumentationName = "github.com/xenking/store/internal/domain/order"

	// maxNumberAttempts bounds retries when a generated number is already taken.
	maxNumberAttempts = 3
	// maxCancelAttempts bounds reloads when the status changes under Cancel.
	maxCancelAttempts = 3

	// MoneyScale is the number of fractional digits monetary values keep
	// once stored.
	MoneyScale = 2
	// MaxQuantity is the largest storable line quantity.
	MaxQuantity = math.MaxInt32
)

// maxMoney is the exclusive upper bound of a storable monetary value.
var maxMoney = decimal.New(1, 10)

// Sentinel errors for order operations.
var (
	ErrEmptyItems         = errors.New("items required")
	ErrInvalidCustomer    = errors.New("invalid customer")
	ErrInvalidDeliveryFee = errors.New("delivery fee must be between 0 and 9999999999.99 with at most 2 decimal places")
	ErrInvalidAmount      = errors.New("payment amount must not be negative")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNotFound           = errors.New("order not found")
	ErrNumberTaken        = errors.New("order number already taken")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// ProductUnavailableError indicates a product exists but is not for sale.
type ProductUnavailableError struct {
	ProductID string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s is not available", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be between 1 and %d for product %s", MaxQuantity, e.ProductID)
}

// InsufficientPaymentError indicates a payment below the order total while
// full payment is required.
type InsufficientPaymentError struct {
	Number string
	Amount decimal.Decimal
	Total  decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("payment %s does not cover order %s total %s", e.Amount, e.Number, e.Total)
}

// ItemRequest is a requested line item.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	CustomerID   string
	Items        []ItemRequest
	DiscountCode string
	DeliveryFee  decimal.Decimal
}

// ServiceConfig holds order policy switches.
type ServiceConfig struct {
	// RequireFullPayment rejects payments that do not cover the order total.
	RequireFullPayment bool
	// Now is the clock discount expiry is evaluated against; time.Now when nil.
	Now func() time.Time
}

// Service encapsulates order placement and lifecycle operations.
type Service struct {
	customers customer.Repository
	products  product.Repository
	discounts discount.Repository
	orders    Repository
	cfg       ServiceConfig
	now       func() time.Time

	tracer   trace.Tracer
	placed   metric.Int64Counter
	paid     metric.Int64Counter
	canceled metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	customers customer.Repository,
	products product.Repository,
	discounts discount.Repository,
	orders Repository,
	cfg ServiceConfig,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*Service, error) {
	meter := mp.Meter(instrumentationName)

	s := &Service{
		customers: customers,
		products:  products,
		discounts: discounts,
		orders:    orders,
		cfg:       cfg,
		now:       cfg.Now,
		tracer:    tp.Tracer(instrumentationName),
	}
	if s.now == nil {
		s.now = time.Now
	}

	var err error
	if s.placed, err = meter.Int64Counter("store.orders.placed",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "create placed counter")
	}
	if s.paid, err = meter.Int64Counter("store.orders.paid",
		metric.WithDescription("Orders paid"),
	); err != nil {
		return nil, errors.Wrap(err, "create paid counter")
	}
	if s.canceled, err = meter.Int64Counter("store.orders.canceled",
		metric.WithDescription("Orders canceled"),
	); err != nil {
		return nil, errors.Wrap(err, "create canceled counter")
	}

	return s, nil
}

// PlaceOrder validates the request, resolves customer, products and discount,
// builds the order and persists it.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.Int("order.items", len(req.Items))),
	)
	defer func() { endSpan(span, rerr) }()

	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if !storableMoney(req.DeliveryFee) {
		return nil, ErrInvalidDeliveryFee
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 || item.Quantity > MaxQuantity {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	c, err := s.lookupCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	var d *discount.Discount
	if req.DiscountCode != "" {
		d, err = s.discounts.FindByCode(ctx, req.DiscountCode)
		if err != nil {
			return nil, errors.Wrap(err, "find discount")
		}
	}

	o := New(c, req.DeliveryFee, d).withClock(s.now)
	for _, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		if !p.Active {
			return nil, &ProductUnavailableError{ProductID: item.ProductID}
		}
		if !o.AddItem(&p, item.Quantity) {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
	}
	if !o.IsValid() {
		return nil, ErrInvalidCustomer
	}

	if err := s.create(ctx, o); err != nil {
		return nil, err
	}

	s.placed.Add(ctx, 1)
	span.SetAttributes(attribute.String("order.number", o.Number()))
	zctx.From(ctx).Info("Order placed",
		zap.String("number", o.Number()),
		zap.String("customer_id", c.ID),
		zap.Stringer("total", o.Total()),
	)

	return o, nil
}

// storableMoney reports whether v is non-negative and fits a NUMERIC(12,2)
// column without rounding.
func storableMoney(v decimal.Decimal) bool {
	return !v.IsNegative() && v.LessThan(maxMoney) && v.Equal(v.Truncate(MoneyScale))
}

func (s *Service) lookupCustomer(ctx context.Context, id string) (*customer.Customer, error) {
	if id == "" {
		return nil, ErrInvalidCustomer
	}
	c, err := s.customers.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			return nil, ErrInvalidCustomer
		}
		return nil, errors.Wrap(err, "get customer")
	}
	return c, nil
}

// create persists o, drawing a new number when the generated one collides.
func (s *Service) create(ctx context.Context, o *Order) error {
	for attempt := 1; ; attempt++ {
		err := s.orders.Create(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNumberTaken) || attempt == maxNumberAttempts {
			return errors.Wrap(err, "create order")
		}
		zctx.From(ctx).Warn("Order number collision, regenerating",
			zap.String("number", o.Number()),
			zap.Int("attempt", attempt),
		)
		o.renumber()
	}
}

// Get returns the order with the given number.
func (s *Service) Get(ctx context.Context, number string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Get",
		trace.WithAttributes(attribute.String("order.number", number)),
	)
	defer func() { endSpan(span, rerr) }()

	o, err := s.orders.Get(ctx, number)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	o.withClock(s.now)
	return o, nil
}

// Pay records a payment of amount against the order. With RequireFullPayment
// set, amounts below the total are rejected before the transition.
func (s *Service) Pay(ctx context.Context, number string, amount decimal.Decimal) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Pay",
		trace.WithAttributes(attribute.String("order.number", number)),
	)
	defer func() { endSpan(span, rerr) }()

	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	o, err := s.orders.Get(ctx, number)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	o.withClock(s.now)

	from := o.Status()
	if s.cfg.RequireFullPayment && from == StatusWaitingPayment && !o.Covers(amount) {
		return nil, &InsufficientPaymentError{Number: number, Amount: amount, Total: o.Total()}
	}
	if !o.Pay(amount) {
		return nil, errors.Wrapf(ErrInvalidTransition, "pay order in status %s", from)
	}

	if err := s.orders.UpdateStatus(ctx, number, from, o.Status()); err != nil {
		return nil, errors.Wrap(err, "update order status")
	}

	s.paid.Add(ctx, 1)
	zctx.From(ctx).Info("Order paid",
		zap.String("number", number),
		zap.Stringer("amount", amount),
	)

	return o, nil
}

// Cancel moves the order to Canceled. A status change committed between
// the read and the write is picked up by reloading the order.
func (s *Service) Cancel(ctx context.Context, number string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel",
		trace.WithAttributes(attribute.String("order.number", number)),
	)
	defer func() { endSpan(span, rerr) }()

	var (
		o    *Order
		prev Status
	)
	for attempt := 1; ; attempt++ {
		var err error
		if o, err = s.orders.Get(ctx, number); err != nil {
			return nil, errors.Wrap(err, "get order")
		}
		o.withClock(s.now)

		prev = o.Status()
		o.Cancel()

		err = s.orders.UpdateStatus(ctx, number, prev, o.Status())
		if err == nil {
			break
		}
		if !errors.Is(err, ErrInvalidTransition) || attempt == maxCancelAttempts {
			return nil, errors.Wrap(err, "update order status")
		}
		zctx.From(ctx).Warn("Order status changed concurrently, reloading",
			zap.String("number", number),
			zap.Int("attempt", attempt),
		)
	}

	s.canceled.Add(ctx, 1)
	zctx.From(ctx).Info("Order canceled",
		zap.String("number", number),
		zap.Stringer("previous_status", prev),
	)

	return o, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
