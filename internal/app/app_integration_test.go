//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/store/internal/domain/auth"
	"github.com/xenking/store/internal/domain/customer"
	"github.com/xenking/store/internal/domain/discount"
	"github.com/xenking/store/internal/domain/product"
	"github.com/xenking/store/internal/storage/postgres"
	"github.com/xenking/store/pkg/health"
)

const (
	testAPIKey = "integration-test-key"
	testPepper = "test-pepper-for-integration"
)

var (
	baseURL    string
	httpClient *http.Client
)

// Response types are defined locally to keep the tests black-box.

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type productResponse struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Price  json.Number `json:"price"`
	Active bool        `json:"active"`
}

type orderResponse struct {
	Number        string      `json:"number"`
	Status        string      `json:"status"`
	Subtotal      json.Number `json:"subtotal"`
	DiscountValue json.Number `json:"discountValue"`
	DeliveryFee   json.Number `json:"deliveryFee"`
	Total         json.Number `json:"total"`
	Items         []struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

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

	cfg := &Config{
		DatabaseURL:  fmt.Sprintf("postgres://store:store@%s:%s/store?sslmode=disable", host, port.Port()),
		APIKeyPepper: testPepper,
		Orders:       OrdersConfig{RequireFullPayment: true, MaxBodyBytes: 1 << 20},
		RateLimit:    RateLimitConfig{Max: 1000, Window: time.Minute},
		CORS:         CORSConfig{Origins: []string{"*"}},
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	if err := seed(ctx, pool); err != nil {
		log.Fatalf("seed: %v", err)
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.SetReady(true)

	srvCtx, stop := context.WithCancel(ctx)
	defer stop()

	h, err := newHandler(srvCtx, zap.NewNop(), tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), cfg, pool, healthSvc)
	if err != nil {
		log.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	baseURL = srv.URL
	httpClient = &http.Client{Timeout: 10 * time.Second}

	return m.Run()
}

func seed(ctx context.Context, pool *pgxpool.Pool) error {
	c := customer.New("Bruce Wayne", "iamnotbatman@email.com")
	c.ID = "bruce"
	if err := postgres.NewCustomerRepository(pool).Upsert(ctx, c); err != nil {
		return err
	}

	products := postgres.NewProductRepository(pool)
	for _, p := range []*product.Product{
		{ID: "mouse", Name: "Mouse", Price: decimal.RequireFromString("299.00"), Active: true},
		{ID: "trackball", Name: "Trackball", Price: decimal.RequireFromString("199.00"), Active: false},
	} {
		if err := products.Upsert(ctx, p); err != nil {
			return err
		}
	}

	if err := postgres.NewDiscountRepository(pool).UpsertBatch(ctx, []*discount.Discount{
		discount.NewWithCode("WELCOME10", decimal.NewFromInt(10), time.Now().AddDate(0, 0, 30)),
		discount.NewWithCode("EXPIRED50", decimal.NewFromInt(50), time.Now().AddDate(0, 0, -1)),
	}); err != nil {
		return err
	}

	return postgres.NewAPIKeyRepository(pool).Upsert(ctx, &auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKeyHex(testAPIKey, []byte(testPepper)),
		Name:    "integration",
		Scopes:  []string{auth.ScopeWriteOrders},
	})
}

// HTTP helpers.

func doRequest(t *testing.T, method, path string, body any, apiKey string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("api_key", apiKey)
	}

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type placeOrder struct {
	CustomerID   string `json:"customerId"`
	Items        []item `json:"items"`
	DiscountCode string `json:"discountCode,omitempty"`
	DeliveryFee  string `json:"deliveryFee,omitempty"`
}

func placeMouseOrder(t *testing.T, discountCode string) orderResponse {
	t.Helper()

	resp := doRequest(t, http.MethodPost, "/api/order", placeOrder{
		CustomerID:   "bruce",
		Items:        []item{{ProductID: "mouse", Quantity: 1}},
		DiscountCode: discountCode,
		DeliveryFee:  "10",
	}, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeJSON[orderResponse](t, resp)
}

// --- Health and middleware ---

func TestProbes(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		resp := doRequest(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.JSONEq(t, `{"status":"ok"}`, readBody(t, resp), path)
	}
}

func TestMiddleware(t *testing.T) {
	resp := doRequest(t, http.MethodGet, "/api/product", nil, "")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "1000", resp.Header.Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodOptions, baseURL+"/api/order", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	preflight, err := httpClient.Do(req)
	require.NoError(t, err)
	defer preflight.Body.Close()

	assert.Equal(t, http.StatusNoContent, preflight.StatusCode)
	assert.Equal(t, "*", preflight.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, preflight.Header.Get("Access-Control-Allow-Headers"), "api_key")
}

// --- Products ---

func TestProducts(t *testing.T) {
	resp := doRequest(t, http.MethodGet, "/api/product", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	products := decodeJSON[[]productResponse](t, resp)
	require.Len(t, products, 2)
	assert.Equal(t, "mouse", products[0].ID)
	assert.Equal(t, "299", products[0].Price.String())

	resp = doRequest(t, http.MethodGet, "/api/product/trackball", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeJSON[productResponse](t, resp).Active)

	resp = doRequest(t, http.MethodGet, "/api/product/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// --- Orders ---

func TestOrderLifecycle(t *testing.T) {
	o := placeMouseOrder(t, "welcome10")
	assert.Len(t, o.Number, 8)
	assert.Equal(t, "waiting_payment", o.Status)
	assert.Equal(t, "299", o.Total.String())
	assert.Equal(t, "10", o.DiscountValue.String())

	resp := doRequest(t, http.MethodGet, "/api/order/"+o.Number, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeJSON[orderResponse](t, resp)
	assert.Equal(t, o.Number, got.Number)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "mouse", got.Items[0].ProductID)

	resp = doRequest(t, http.MethodPost, "/api/order/"+o.Number+"/pay", map[string]any{"amount": 100}, testAPIKey)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, "/api/order/"+o.Number+"/pay", map[string]any{"amount": "299.00"}, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "waiting_delivery", decodeJSON[orderResponse](t, resp).Status)

	resp = doRequest(t, http.MethodPost, "/api/order/"+o.Number+"/pay", map[string]any{"amount": 299}, testAPIKey)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, "/api/order/"+o.Number+"/cancel", nil, testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "canceled", decodeJSON[orderResponse](t, resp).Status)

	resp = doRequest(t, http.MethodGet, "/api/order/"+o.Number, nil, "")
	assert.Equal(t, "canceled", decodeJSON[orderResponse](t, resp).Status)
}

func TestPlaceOrder_ExpiredDiscount(t *testing.T) {
	o := placeMouseOrder(t, "EXPIRED50")
	assert.Equal(t, "0", o.DiscountValue.String())
	assert.Equal(t, "309", o.Total.String())
}

func TestPlaceOrder_Errors(t *testing.T) {
	tests := []struct {
		name       string
		req        placeOrder
		apiKey     string
		wantStatus int
	}{
		{
			name:       "no auth",
			req:        placeOrder{CustomerID: "bruce", Items: []item{{ProductID: "mouse", Quantity: 1}}},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid key",
			req:        placeOrder{CustomerID: "bruce", Items: []item{{ProductID: "mouse", Quantity: 1}}},
			apiKey:     "wrong-key",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "empty items",
			req:        placeOrder{CustomerID: "bruce", Items: []item{}},
			apiKey:     testAPIKey,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown product",
			req:        placeOrder{CustomerID: "bruce", Items: []item{{ProductID: "999", Quantity: 1}}},
			apiKey:     testAPIKey,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "inactive product",
			req:        placeOrder{CustomerID: "bruce", Items: []item{{ProductID: "trackball", Quantity: 1}}},
			apiKey:     testAPIKey,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "zero quantity",
			req:        placeOrder{CustomerID: "bruce", Items: []item{{ProductID: "mouse", Quantity: 0}}},
			apiKey:     testAPIKey,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "unknown customer",
			req:        placeOrder{CustomerID: "joker", Items: []item{{ProductID: "mouse", Quantity: 1}}},
			apiKey:     testAPIKey,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "unknown discount",
			req:        placeOrder{CustomerID: "bruce", Items: []item{{ProductID: "mouse", Quantity: 1}}, DiscountCode: "NOPE"},
			apiKey:     testAPIKey,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, "/api/order", tt.req, tt.apiKey)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantStatus, decodeJSON[errorResponse](t, resp).Code)
		})
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	resp := doRequest(t, http.MethodGet, "/api/order/00000000", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.String()
}
