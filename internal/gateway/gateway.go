package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"delivery/internal/domain"
)

// ChargeStatus is the outcome of a charge attempt.
type ChargeStatus string

const (
	ChargeCompleted ChargeStatus = "COMPLETED"
	ChargePending   ChargeStatus = "PENDING"
	ChargeFailed    ChargeStatus = "FAILED"
)

// ChargeResult is what the payment rail reports for a charge attempt.
// CARD and BANK_TRANSFER typically resolve synchronously; WALLET_QR
// returns PENDING with a gateway reference used for polling and for
// rendering the QR code.
type ChargeResult struct {
	Status         ChargeStatus
	TransactionRef string // set when Status is COMPLETED
	GatewayRef     string // set when Status is PENDING
	Reason         string // set when Status is FAILED
}

// PollStatus is the state of a pending charge as reported by the rail.
type PollStatus string

const (
	PollCompleted PollStatus = "COMPLETED"
	PollPending   PollStatus = "PENDING"
	PollFailed    PollStatus = "FAILED"
	PollExpired   PollStatus = "EXPIRED"
)

// PollResult is the result of polling a pending charge.
type PollResult struct {
	Status         PollStatus
	TransactionRef string // set when Status is COMPLETED
	Reason         string // set when Status is FAILED
}

// RefundResult is the outcome of a refund attempt. Refunds resolve
// synchronously on every supported rail.
type RefundResult struct {
	Succeeded bool
	Reason    string // set when the refund was rejected
}

// Gateway is the capability surface over external payment rails. It
// holds no retry logic; retry and backoff belong to the confirmation
// poller.
type Gateway interface {
	// Charge submits a charge for the payment. methodDetails carries
	// rail-specific fields (card token, bank account, wallet id) opaque
	// to the caller.
	Charge(ctx context.Context, payment *domain.Payment, methodDetails map[string]string) (ChargeResult, error)

	// PollStatus queries the state of a pending charge.
	PollStatus(ctx context.Context, gatewayRef string) (PollResult, error)

	// Refund reverses part or all of a completed charge.
	Refund(ctx context.Context, transactionRef string, amount decimal.Decimal) (RefundResult, error)
}
