package service

import "errors"

var (
	// ErrInvalidOrderID is returned when order ID is empty.
	ErrInvalidOrderID = errors.New("invalid order id")

	// ErrInvalidPaymentID is returned when payment ID is empty.
	ErrInvalidPaymentID = errors.New("invalid payment id")

	// ErrInvalidPayerID is returned when payer ID is empty.
	ErrInvalidPayerID = errors.New("invalid payer id")

	// ErrInvalidReceiverID is returned when receiver ID is empty.
	ErrInvalidReceiverID = errors.New("invalid receiver id")

	// ErrInvalidAmount is returned when an amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrAmountExceedsPrice is returned when a payment amount exceeds the order price.
	ErrAmountExceedsPrice = errors.New("amount exceeds order price")

	// ErrInvalidPaymentMethod is returned when the payment method is not supported.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")

	// ErrInvalidOrderState is returned when initiating a payment against
	// an order that is not in a payable state.
	ErrInvalidOrderState = errors.New("order is not in a payable state")

	// ErrInvalidTargetStatus is returned when UpdateOrderStatus is asked
	// for a status that is not a manual fulfillment advance.
	ErrInvalidTargetStatus = errors.New("status cannot be set directly")

	// ErrOrderNotCancellable is returned when cancelling an order that
	// has a completed, not fully refunded payment.
	ErrOrderNotCancellable = errors.New("order has a completed payment and cannot be cancelled")

	// ErrOrderLocked is returned when another operation holds the order lock.
	ErrOrderLocked = errors.New("order is being modified by another operation")

	// ErrInvalidPrice is returned when an order price is zero or negative.
	ErrInvalidPrice = errors.New("price must be positive")

	// ErrInvalidParticipants is returned when an order's demand/journey
	// references are empty.
	ErrInvalidParticipants = errors.New("invalid demand or journey reference")
)
