package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"delivery/internal/domain"
)

// Mock is an in-process implementation of Gateway for local runs and
// tests. CARD and BANK_TRANSFER charges complete synchronously;
// WALLET_QR charges go pending and complete after PendingPolls polls.
type Mock struct {
	mu sync.Mutex

	// PendingPolls is how many PENDING poll results a WALLET_QR charge
	// returns before completing. Zero completes on the first poll.
	PendingPolls int

	// FailCharges makes every charge attempt fail.
	FailCharges bool

	// FailRefunds makes every refund attempt fail.
	FailRefunds bool

	pending map[string]*pendingCharge
}

type pendingCharge struct {
	paymentID string
	polls     int
}

// NewMock creates a mock gateway.
func NewMock() *Mock {
	return &Mock{
		PendingPolls: 2,
		pending:      make(map[string]*pendingCharge),
	}
}

// Charge submits a charge for the payment.
func (g *Mock) Charge(ctx context.Context, payment *domain.Payment, methodDetails map[string]string) (ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailCharges {
		return ChargeResult{Status: ChargeFailed, Reason: "charge declined"}, nil
	}

	if payment.Method == domain.PaymentMethodWalletQR {
		ref := fmt.Sprintf("qr-%s", uuid.New().String())
		g.pending[ref] = &pendingCharge{paymentID: payment.ID, polls: g.PendingPolls}
		return ChargeResult{Status: ChargePending, GatewayRef: ref}, nil
	}

	return ChargeResult{
		Status:         ChargeCompleted,
		TransactionRef: fmt.Sprintf("txn-%s", uuid.New().String()),
	}, nil
}

// PollStatus queries the state of a pending charge.
func (g *Mock) PollStatus(ctx context.Context, gatewayRef string) (PollResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	charge, ok := g.pending[gatewayRef]
	if !ok {
		return PollResult{Status: PollExpired}, nil
	}

	if charge.polls > 0 {
		charge.polls--
		return PollResult{Status: PollPending}, nil
	}

	delete(g.pending, gatewayRef)
	return PollResult{
		Status:         PollCompleted,
		TransactionRef: fmt.Sprintf("txn-%s", uuid.New().String()),
	}, nil
}

// Refund reverses part or all of a completed charge.
func (g *Mock) Refund(ctx context.Context, transactionRef string, amount decimal.Decimal) (RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailRefunds {
		return RefundResult{Succeeded: false, Reason: "refund rejected"}, nil
	}

	return RefundResult{Succeeded: true}, nil
}

var _ Gateway = (*Mock)(nil)
