package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/store/db"
	"github.com/xenking/store/internal/domain/auth"
	"github.com/xenking/store/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "path to catalog JSON file (embedded db/seed/catalog.json when empty)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or STORE_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STORE_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("STORE_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or STORE_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STORE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, pepper string) error {
	data := db.Catalog
	if catalogFile != "" {
		slog.Info("reading catalog file", slog.String("path", catalogFile))
		b, err := os.ReadFile(catalogFile)
		if err != nil {
			return errors.Wrap(err, "read catalog file")
		}
		data = b
	}

	cat, err := parseCatalog(data)
	if err != nil {
		return errors.Wrap(err, "parse catalog")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, pool, cat); err != nil {
		return err
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, cat *catalog) error {
	customers := postgres.NewCustomerRepository(pool)
	for _, c := range cat.customers() {
		if err := customers.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert customer %s", c.ID)
		}
		slog.Info("upserted customer", slog.String("id", c.ID), slog.String("name", c.Name))
	}

	products := postgres.NewProductRepository(pool)
	for _, p := range cat.products() {
		if err := products.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	discounts := cat.discounts(timeNow())
	if err := postgres.NewDiscountRepository(pool).UpsertBatch(ctx, discounts); err != nil {
		return errors.Wrap(err, "upsert discounts")
	}
	slog.Info("upserted discounts", slog.Int("count", len(discounts)))

	return nil
}

type apiKeyUpserter interface {
	Upsert(ctx context.Context, info *auth.APIKeyInfo) error
}

func seedAPIKey(ctx context.Context, repo apiKeyUpserter, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	info := defaultAPIKey(apiKey, pepper)
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))

	return nil
}

func defaultAPIKey(apiKey, pepper string) *auth.APIKeyInfo {
	return &auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKeyHex(apiKey, []byte(pepper)),
		Name:    "Default key",
		Scopes:  []string{auth.ScopeWriteOrders},
	}
}
