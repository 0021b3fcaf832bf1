// Package handler exposes the store HTTP JSON API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/store/internal/domain/auth"
	"github.com/xenking/store/internal/domain/order"
	"github.com/xenking/store/internal/domain/product"
)

// OrderService is the order use-case surface consumed by the API.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
	Get(ctx context.Context, number string) (*order.Order, error)
	Pay(ctx context.Context, number string, amount decimal.Decimal) (*order.Order, error)
	Cancel(ctx context.Context, number string) (*order.Order, error)
}

var _ OrderService = (*order.Service)(nil)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// APIKeyPepper is the HMAC key used to hash incoming API keys.
	APIKeyPepper []byte
	// MaxBodyBytes caps request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the product and order endpoints.
type Handler struct {
	products product.Repository
	orders   OrderService
	apikeys  auth.Repository
	pepper   []byte
	maxBody  int64
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	products product.Repository,
	orders OrderService,
	apikeys auth.Repository,
) *Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{
		products: products,
		orders:   orders,
		apikeys:  apikeys,
		pepper:   cfg.APIKeyPepper,
		maxBody:  maxBody,
	}
}

// Router returns the API routes mounted under /api.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/product", h.ListProducts)
		r.Get("/product/{productID}", h.GetProduct)

		r.Get("/order/{number}", h.GetOrder)
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAPIKey(auth.ScopeWriteOrders))
			r.Post("/order", h.PlaceOrder)
			r.Post("/order/{number}/pay", h.PayOrder)
			r.Post("/order/{number}/cancel", h.CancelOrder)
		})
	})

	return r
}
