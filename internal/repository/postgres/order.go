package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"delivery/internal/domain"
	"delivery/internal/repository"
)

// OrderRepository is a PostgreSQL implementation of repository.OrderRepository.
type OrderRepository struct {
	q Querier
}

// NewOrderRepository creates a new PostgreSQL order repository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{q: db}
}

// NewOrderRepositoryWithTx creates an order repository using a transaction.
func NewOrderRepositoryWithTx(tx *sql.Tx) *OrderRepository {
	return &OrderRepository{q: tx}
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, demand_id, journey_id, demander_id, traveler_id, price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	_, err := r.q.ExecContext(ctx, query,
		order.ID,
		order.DemandID,
		order.JourneyID,
		order.DemanderID,
		order.TravelerID,
		order.Price,
		order.Status,
		order.CreatedAt,
		order.UpdatedAt,
	)

	return err
}

// GetByID retrieves an order by ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT id, demand_id, journey_id, demander_id, traveler_id, price, status, created_at, updated_at
		FROM orders WHERE id = $1
	`

	var order domain.Order
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.DemandID,
		&order.JourneyID,
		&order.DemanderID,
		&order.TravelerID,
		&order.Price,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &order, nil
}

// GetAll retrieves all orders.
func (r *OrderRepository) GetAll(ctx context.Context) ([]*domain.Order, error) {
	query := `
		SELECT id, demand_id, journey_id, demander_id, traveler_id, price, status, created_at, updated_at
		FROM orders ORDER BY created_at DESC
	`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(
			&order.ID,
			&order.DemandID,
			&order.JourneyID,
			&order.DemanderID,
			&order.TravelerID,
			&order.Price,
			&order.Status,
			&order.CreatedAt,
			&order.UpdatedAt,
		); err != nil {
			return nil, err
		}
		orders = append(orders, &order)
	}

	return orders, rows.Err()
}

// CompareAndTransition moves the order from expected to target status.
// The transition graph is validated before touching the row; the write
// itself is a compare-and-swap on the current status, so a losing
// concurrent writer observes ErrConflict rather than clobbering state.
func (r *OrderRepository) CompareAndTransition(ctx context.Context, id string, expected, target domain.OrderStatus) error {
	if !domain.CanTransitionOrder(expected, target) {
		return repository.ErrInvalidTransition
	}

	query := `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`

	result, err := r.q.ExecContext(ctx, query, target, time.Now(), id, expected)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Distinguish a missing order from a lost race.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return repository.ErrConflict
	}

	return nil
}
