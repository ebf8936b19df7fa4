package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a compare-and-transition loses an
	// optimistic concurrency race (current status != expected status).
	ErrConflict = errors.New("status changed concurrently")

	// ErrInvalidTransition is returned when the requested status change
	// is not an edge of the transition graph.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateActivePayment is returned when creating a payment for
	// an order that already has a payment in PENDING or PROCESSING.
	ErrDuplicateActivePayment = errors.New("order already has an active payment")

	// ErrOverRefund is returned when a refund would push cumulative
	// refunds above the payment amount.
	ErrOverRefund = errors.New("refund exceeds refundable balance")

	// ErrNotRefundable is returned when refunding a payment that is not
	// COMPLETED or PARTIALLY_REFUNDED.
	ErrNotRefundable = errors.New("payment is not refundable")
)
