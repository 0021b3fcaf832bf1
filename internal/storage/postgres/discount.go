package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/store/internal/domain/discount"
)

const (
	getDiscountByCodeSQL = `SELECT code, amount, expire_date FROM discounts WHERE UPPER(code) = UPPER($1)`

	upsertDiscountSQL = `INSERT INTO discounts (code, amount, expire_date) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET amount = EXCLUDED.amount, expire_date = EXCLUDED.expire_date`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks up a discount by its code (case-insensitive). Expired
// discounts are returned as well; their Value is zero.
// Returns discount.ErrNotFound when no discount matches.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Discount, error) {
	var (
		storedCode string
		amount     decimal.Decimal
		expireDate time.Time
	)
	err := r.pool.QueryRow(ctx, getDiscountByCodeSQL, code).Scan(&storedCode, &amount, &expireDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, errors.Wrapf(err, "finding discount by code %q", code)
	}
	return discount.NewWithCode(storedCode, amount, expireDate), nil
}

// UpsertBatch inserts or updates discounts in a single round trip.
func (r *DiscountRepository) UpsertBatch(ctx context.Context, discounts []*discount.Discount) error {
	if len(discounts) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, d := range discounts {
		b.Queue(upsertDiscountSQL, d.Code(), d.Amount(), d.ExpireDate())
	}
	if err := r.pool.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrapf(err, "upserting %d discounts", len(discounts))
	}
	return nil
}
