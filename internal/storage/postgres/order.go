package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/store/internal/domain/customer"
	"github.com/xenking/store/internal/domain/discount"
	"github.com/xenking/store/internal/domain/order"
	"github.com/xenking/store/internal/domain/product"
)

const (
	ordersPKey = "orders_pkey"

	createOrderSQL = `INSERT INTO orders (number, customer_id, delivery_fee,
		discount_code, discount_amount, discount_expire_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	createOrderItemSQL = `INSERT INTO order_items (order_number, position, product_id,
		product_name, unit_price, quantity) VALUES ($1, $2, $3, $4, $5, $6)`

	getOrderSQL = `SELECT o.number, o.delivery_fee, o.discount_code, o.discount_amount,
		o.discount_expire_date, o.status, o.created_at, c.id, c.name, c.email
		FROM orders o JOIN customers c ON c.id = o.customer_id
		WHERE o.number = $1`

	getOrderItemsSQL = `SELECT product_id, product_name, unit_price, quantity
		FROM order_items WHERE order_number = $1 ORDER BY position`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = NOW()
		WHERE number = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE number = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items keep a snapshot of product name and price at purchase time.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order and its items in one transaction. It returns
// order.ErrNumberTaken when the order number already exists.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	c := o.Customer()
	if c == nil {
		return order.ErrInvalidCustomer
	}

	var (
		discountCode   *string
		discountAmount *decimal.Decimal
		discountExpire *time.Time
	)
	if d := o.Discount(); d != nil {
		code, amount, expire := d.Code(), d.Amount(), d.ExpireDate()
		if code != "" {
			discountCode = &code
		}
		discountAmount = &amount
		discountExpire = &expire
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createOrderSQL,
			o.Number(), c.ID, o.DeliveryFee(),
			discountCode, discountAmount, discountExpire,
			string(o.Status()), o.CreatedAt(),
		); err != nil {
			return err
		}

		b := &pgx.Batch{}
		for i, item := range o.Items() {
			b.Queue(createOrderItemSQL,
				o.Number(), i, item.Product.ID, item.Product.Name, item.Product.Price, item.Quantity,
			)
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		if isUniqueViolation(err, ordersPKey) {
			return order.ErrNumberTaken
		}
		return errors.Wrapf(err, "creating order %q", o.Number())
	}

	return nil
}

// Get loads an order with its customer and items.
// Returns order.ErrNotFound when no order has the number.
func (r *OrderRepository) Get(ctx context.Context, number string) (*order.Order, error) {
	var (
		s              order.Snapshot
		c              customer.Customer
		status         string
		discountCode   *string
		discountAmount *decimal.Decimal
		discountExpire *time.Time
	)
	err := r.pool.QueryRow(ctx, getOrderSQL, number).Scan(
		&s.Number, &s.DeliveryFee, &discountCode, &discountAmount,
		&discountExpire, &status, &s.CreatedAt, &c.ID, &c.Name, &c.Email,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting order %q", number)
	}

	s.Status = order.Status(status)
	if !s.Status.Valid() {
		return nil, errors.Errorf("order %q has unknown status %q", number, status)
	}
	s.Customer = &c
	if discountAmount != nil && discountExpire != nil {
		var code string
		if discountCode != nil {
			code = *discountCode
		}
		s.Discount = discount.NewWithCode(code, *discountAmount, *discountExpire)
	}

	rows, err := r.pool.Query(ctx, getOrderItemsSQL, number)
	if err != nil {
		return nil, errors.Wrapf(err, "getting items of order %q", number)
	}
	s.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, errors.Wrapf(err, "scanning items of order %q", number)
	}

	return order.Restore(s), nil
}

// UpdateStatus moves an order from one status to another. It returns
// order.ErrInvalidTransition when the stored status is no longer from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, number string, from, to order.Status) error {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, number, string(from), string(to))
	if err != nil {
		return errors.Wrapf(err, "updating status of order %q", number)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, number).Scan(&exists); err != nil {
		return errors.Wrapf(err, "checking order %q", number)
	}
	if !exists {
		return order.ErrNotFound
	}
	return errors.Wrapf(order.ErrInvalidTransition, "order %q is no longer %s", number, from)
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	p := &product.Product{Active: true}
	var quantity int32
	err := row.Scan(&p.ID, &p.Name, &p.Price, &quantity)
	return order.Item{Product: p, Quantity: int(quantity)}, err
}
