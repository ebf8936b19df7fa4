package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the current status of a payment.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusProcessing        PaymentStatus = "PROCESSING"
	PaymentStatusCompleted         PaymentStatus = "COMPLETED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusCancelled         PaymentStatus = "CANCELLED"
	PaymentStatusExpired           PaymentStatus = "EXPIRED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// IsTerminal reports whether the payment can no longer change status
// through the charge path. PENDING and PROCESSING are the only active
// (non-terminal) statuses.
func (s PaymentStatus) IsTerminal() bool {
	return s != PaymentStatusPending && s != PaymentStatusProcessing
}

// PaymentMethod represents the payment method for an order.
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodWalletQR     PaymentMethod = "WALLET_QR"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// ValidPaymentMethod reports whether the method is supported.
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PaymentMethodCard, PaymentMethodWalletQR, PaymentMethodBankTransfer:
		return true
	}
	return false
}

// Payment represents one attempt to collect an order's price (or part
// of it) via a given method. GatewayReference is set once a pending
// (asynchronous) confirmation is registered; TransactionRef once the
// gateway reports completion; FailureReason once the charge fails,
// expires, or is cancelled.
type Payment struct {
	ID               string
	OrderID          string
	PayerID          string
	ReceiverID       string
	Amount           decimal.Decimal
	Method           PaymentMethod
	Status           PaymentStatus
	GatewayReference string
	TransactionRef   string
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RefundStatus represents the outcome of a refund attempt. Refunds are
// synchronous in this domain, so there is no in-flight status.
type RefundStatus string

const (
	RefundStatusCompleted RefundStatus = "COMPLETED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// Refund represents a reversal of part or all of a completed payment.
// Immutable once created.
type Refund struct {
	ID        string
	PaymentID string
	Amount    decimal.Decimal
	Reason    string
	Status    RefundStatus
	CreatedAt time.Time
}
