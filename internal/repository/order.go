package repository

import (
	"context"

	"delivery/internal/domain"
)

// OrderRepository defines the persistence operations for orders.
// Order status is written exclusively through CompareAndTransition;
// no other component may mutate it.
type OrderRepository interface {
	// Create persists a new order.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by ID.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// GetAll retrieves all orders.
	GetAll(ctx context.Context) ([]*domain.Order, error)

	// CompareAndTransition moves the order from expected to target
	// status. Returns ErrInvalidTransition if (expected, target) is not
	// an edge of the order transition graph, and ErrConflict if the
	// order's current status is no longer expected.
	CompareAndTransition(ctx context.Context, id string, expected, target domain.OrderStatus) error
}
