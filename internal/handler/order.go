package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/store/internal/domain/discount"
	"github.com/xenking/store/internal/domain/order"
)

// PlaceOrder decodes the request, delegates to the order service and returns
// the created order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodePlaceOrder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	h.writeOrder(w, http.StatusOK, o)
}

// GetOrder returns an order by number.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	h.writeOrder(w, http.StatusOK, o)
}

// PayOrder records a payment against an order.
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	amount, err := decodePayment(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.orders.Pay(r.Context(), chi.URLParam(r, "number"), amount)
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	h.writeOrder(w, http.StatusOK, o)
}

// CancelOrder cancels an order.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	h.writeOrder(w, http.StatusOK, o)
}

func (h *Handler) writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, status, &e)
}

// orderError maps domain errors to API error responses.
func (h *Handler) orderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		iqErr  *order.InvalidQuantityError
		pnfErr *order.ProductNotFoundError
		puErr  *order.ProductUnavailableError
		ipErr  *order.InsufficientPaymentError
	)

	switch {
	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrInvalidDeliveryFee),
		errors.Is(err, order.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &iqErr):
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
	case errors.As(err, &pnfErr):
		writeError(w, http.StatusUnprocessableEntity, pnfErr.Error())
	case errors.As(err, &puErr):
		writeError(w, http.StatusUnprocessableEntity, puErr.Error())
	case errors.As(err, &ipErr):
		writeError(w, http.StatusUnprocessableEntity, ipErr.Error())
	case errors.Is(err, order.ErrInvalidCustomer):
		writeError(w, http.StatusUnprocessableEntity, "invalid customer")
	case errors.Is(err, discount.ErrNotFound):
		writeError(w, http.StatusUnprocessableEntity, "invalid discount code")
	default:
		zctx.From(r.Context()).Error("Order request failed",
			zap.String("route", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
