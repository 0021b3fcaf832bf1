//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/store/internal/domain/auth"
	"github.com/xenking/store/internal/domain/customer"
	"github.com/xenking/store/internal/domain/discount"
	"github.com/xenking/store/internal/domain/order"
	"github.com/xenking/store/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "store",
				"POSTGRES_PASSWORD": "store",
				"POSTGRES_DB":       "store",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := ctr.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	testPool, err = NewPool(ctx, fmt.Sprintf("postgres://store:store@%s:%s/store?sslmode=disable", host, port.Port()))
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	return m.Run()
}

func seedCatalog(t *testing.T) (*customer.Customer, *product.Product) {
	t.Helper()
	ctx := context.Background()

	c := &customer.Customer{ID: "bruce", Name: "Bruce Wayne", Email: "iamnotbatman@email.com"}
	require.NoError(t, NewCustomerRepository(testPool).Upsert(ctx, c))

	p := &product.Product{ID: "mouse", Name: "Mouse", Price: decimal.RequireFromString("299.00"), Active: true}
	require.NoError(t, NewProductRepository(testPool).Upsert(ctx, p))

	return c, p
}

func TestCustomerRepository(t *testing.T) {
	seedCatalog(t)
	repo := NewCustomerRepository(testPool)

	c, err := repo.GetByID(context.Background(), "bruce")
	require.NoError(t, err)
	assert.Equal(t, "Bruce Wayne", c.Name)

	_, err = repo.GetByID(context.Background(), "nobody")
	require.ErrorIs(t, err, customer.ErrNotFound)
}

func TestProductRepository(t *testing.T) {
	seedCatalog(t)
	repo := NewProductRepository(testPool)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &product.Product{
		ID: "trackball", Name: "Trackball", Price: decimal.NewFromInt(199), Active: false,
	}))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(all), 2)

	p, err := repo.GetByID(ctx, "trackball")
	require.NoError(t, err)
	assert.False(t, p.Active)
	assert.True(t, decimal.NewFromInt(199).Equal(p.Price))

	some, err := repo.GetByIDs(ctx, []string{"mouse", "trackball", "missing"})
	require.NoError(t, err)
	assert.Len(t, some, 2)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestDiscountRepository(t *testing.T) {
	repo := NewDiscountRepository(testPool)
	ctx := context.Background()
	expires := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Microsecond)

	require.NoError(t, repo.UpsertBatch(ctx, []*discount.Discount{
		discount.NewWithCode("WELCOME10", decimal.NewFromInt(10), expires),
		discount.NewWithCode("OLD5", decimal.NewFromInt(5), time.Now().Add(-time.Hour)),
	}))

	d, err := repo.FindByCode(ctx, "welcome10")
	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", d.Code())
	assert.True(t, decimal.NewFromInt(10).Equal(d.Value()))
	assert.True(t, expires.Equal(d.ExpireDate()))

	old, err := repo.FindByCode(ctx, "OLD5")
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(old.Value()))

	_, err = repo.FindByCode(ctx, "BOGUS")
	require.ErrorIs(t, err, discount.ErrNotFound)
}

func TestOrderRepository(t *testing.T) {
	c, p := seedCatalog(t)
	repo := NewOrderRepository(testPool)
	ctx := context.Background()

	d := discount.NewWithCode("TEN", decimal.NewFromInt(10), time.Now().Add(time.Hour))
	o := order.New(c, decimal.NewFromInt(10), d)
	require.True(t, o.AddItem(p, 2))
	require.True(t, o.AddItem(p, 1))
	require.NoError(t, repo.Create(ctx, o))

	got, err := repo.Get(ctx, o.Number())
	require.NoError(t, err)
	assert.Equal(t, o.Number(), got.Number())
	assert.Equal(t, order.StatusWaitingPayment, got.Status())
	assert.Equal(t, "bruce", got.Customer().ID)
	require.Len(t, got.Items(), 2)
	assert.Equal(t, 2, got.Items()[0].Quantity)
	assert.Equal(t, 1, got.Items()[1].Quantity)
	assert.Equal(t, "TEN", got.Discount().Code())
	assert.True(t, o.Total().Equal(got.Total()), "expected %s, got %s", o.Total(), got.Total())

	t.Run("duplicate number", func(t *testing.T) {
		dup := order.Restore(order.Snapshot{
			Number:    o.Number(),
			Customer:  c,
			Status:    order.StatusWaitingPayment,
			CreatedAt: time.Now(),
		})
		require.ErrorIs(t, repo.Create(ctx, dup), order.ErrNumberTaken)
	})

	t.Run("update status", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, o.Number(), order.StatusWaitingPayment, order.StatusCanceled))

		got, err := repo.Get(ctx, o.Number())
		require.NoError(t, err)
		assert.Equal(t, order.StatusCanceled, got.Status())
	})

	t.Run("stale status is not overwritten", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, o.Number(), order.StatusWaitingPayment, order.StatusWaitingDelivery)
		require.ErrorIs(t, err, order.ErrInvalidTransition)

		got, err := repo.Get(ctx, o.Number())
		require.NoError(t, err)
		assert.Equal(t, order.StatusCanceled, got.Status())
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := repo.Get(ctx, "00000000")
		require.ErrorIs(t, err, order.ErrNotFound)
		require.ErrorIs(t, repo.UpdateStatus(ctx, "00000000", order.StatusWaitingPayment, order.StatusCanceled), order.ErrNotFound)
	})

	t.Run("order without discount", func(t *testing.T) {
		plain := order.New(c, decimal.Zero, nil)
		require.True(t, plain.AddItem(p, 1))
		require.NoError(t, repo.Create(ctx, plain))

		got, err := repo.Get(ctx, plain.Number())
		require.NoError(t, err)
		assert.Nil(t, got.Discount())
		assert.True(t, decimal.NewFromInt(299).Equal(got.Total()))
	})
}

func TestAPIKeyRepository(t *testing.T) {
	repo := NewAPIKeyRepository(testPool)
	ctx := context.Background()
	hash := auth.HashKeyHex("integration-key", []byte("pepper"))

	require.NoError(t, repo.Upsert(ctx, &auth.APIKeyInfo{
		ID: "test", KeyHash: hash, Name: "test key", Scopes: []string{auth.ScopeWriteOrders},
	}))

	info, err := repo.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.True(t, info.HasScope(auth.ScopeWriteOrders))

	_, err = repo.FindByHash(ctx, "nope")
	require.ErrorIs(t, err, auth.ErrNotFound)
}
