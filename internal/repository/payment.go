package repository

import (
	"context"

	"delivery/internal/domain"
)

// PaymentRepository defines the persistence operations for payments
// and refunds.
type PaymentRepository interface {
	// Create persists a new payment. Returns ErrDuplicateActivePayment
	// if the order already has a payment in PENDING or PROCESSING.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID retrieves a payment by ID.
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// GetActiveForOrder retrieves the single non-terminal payment for
	// an order. Returns nil if no active payment exists.
	GetActiveForOrder(ctx context.Context, orderID string) (*domain.Payment, error)

	// ListByOrder retrieves all payments for an order.
	ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error)

	// ListByStatus retrieves all payments in the given status.
	ListByStatus(ctx context.Context, status domain.PaymentStatus) ([]*domain.Payment, error)

	// TransitionStatus moves the payment from expected to target
	// status, recording the reason when the target is a failure
	// (empty leaves the stored reason untouched). Returns ErrConflict
	// if the current status is no longer expected.
	TransitionStatus(ctx context.Context, id string, expected, target domain.PaymentStatus, reason string) error

	// MarkProcessing moves a PENDING payment to PROCESSING and records
	// the gateway reference used for confirmation polling. Same
	// compare-and-swap contract as TransitionStatus.
	MarkProcessing(ctx context.Context, id, gatewayRef string) error

	// MarkCompleted moves the payment from expected to COMPLETED and
	// records the gateway transaction reference. Same compare-and-swap
	// contract as TransitionStatus.
	MarkCompleted(ctx context.Context, id string, expected domain.PaymentStatus, transactionRef string) error

	// AddRefund persists a refund against the payment and, for
	// completed refunds, re-derives the payment status (REFUNDED when
	// refunds sum to the payment amount, PARTIALLY_REFUNDED otherwise).
	// Returns ErrNotRefundable unless the payment is COMPLETED or
	// PARTIALLY_REFUNDED, and ErrOverRefund if the refund would push
	// completed refunds above the payment amount.
	AddRefund(ctx context.Context, refund *domain.Refund) error

	// ListRefunds retrieves all refunds recorded against a payment.
	ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error)
}
