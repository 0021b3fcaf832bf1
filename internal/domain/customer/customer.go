package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Customer identifies the purchaser of an order.
type Customer struct {
	ID    string
	Name  string
	Email string
}

// New creates a Customer without a persistent identifier.
func New(name, email string) *Customer {
	return &Customer{Name: name, Email: email}
}

// Repository defines read operations for customers.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Customer, error)
}
