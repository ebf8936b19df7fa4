package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"delivery/internal/domain"
	"delivery/internal/gateway"
	"delivery/internal/redis"
	"delivery/internal/repository"
)

// Watcher is the surface the orchestrator uses to hand pending payments
// to the confirmation poller.
type Watcher interface {
	Watch(paymentID, gatewayRef string)
	Stop(paymentID string)
}

// PaymentService is the lifecycle orchestrator for payments. It is the
// only component that writes cross-entity transitions (payment status
// into order status), and it holds no state of its own: every mutation
// goes through the stores' compare-and-swap operations, so concurrent
// invocations are safe and a losing writer observes a no-op.
type PaymentService struct {
	orderRepo   repository.OrderRepository
	paymentRepo repository.PaymentRepository
	gw          gateway.Gateway
	notifier    *NotificationService
	receipts    *ReceiptService
	lockStore   redis.LockStoreInterface
	cache       redis.CacheStoreInterface
	watcher     Watcher
}

// NewPaymentService creates a new PaymentService. The watcher is set
// separately because the poller and the orchestrator reference each
// other.
func NewPaymentService(
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	gw gateway.Gateway,
	notifier *NotificationService,
	receipts *ReceiptService,
	lockStore redis.LockStoreInterface,
	cache redis.CacheStoreInterface,
) *PaymentService {
	return &PaymentService{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		gw:          gw,
		notifier:    notifier,
		receipts:    receipts,
		lockStore:   lockStore,
		cache:       cache,
	}
}

// SetWatcher wires the confirmation poller in after construction.
func (s *PaymentService) SetWatcher(w Watcher) {
	s.watcher = w
}

// InitiatePaymentRequest contains the parameters for initiating a payment.
type InitiatePaymentRequest struct {
	OrderID       string
	PayerID       string
	ReceiverID    string
	Amount        decimal.Decimal
	Method        domain.PaymentMethod
	MethodDetails map[string]string
}

// InitiatePayment creates a payment for a payable order and submits it
// to the gateway. Synchronous rails (CARD, BANK_TRANSFER) resolve
// before returning; WALLET_QR returns a PROCESSING payment carrying the
// gateway reference for QR rendering, with confirmation handed to the
// poller. A gateway rejection is a normal outcome: the payment comes
// back FAILED, it is not an error.
func (s *PaymentService) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*domain.Payment, error) {
	if req.OrderID == "" {
		return nil, ErrInvalidOrderID
	}
	if req.PayerID == "" {
		return nil, ErrInvalidPayerID
	}
	if req.ReceiverID == "" {
		return nil, ErrInvalidReceiverID
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !domain.ValidPaymentMethod(req.Method) {
		return nil, ErrInvalidPaymentMethod
	}

	payment, err := s.createPayment(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := s.gw.Charge(ctx, payment, req.MethodDetails)
	if err != nil {
		// Adapter failure. Record the terminal outcome so durable state
		// reflects it even if the caller's request has timed out.
		log.Printf("payment %s: gateway charge error: %v", payment.ID, err)
		s.failPayment(ctx, payment, fmt.Sprintf("gateway error: %v", err))
		return payment, nil
	}

	switch result.Status {
	case gateway.ChargeCompleted:
		if err := s.completePayment(ctx, payment.ID, result.TransactionRef); err != nil {
			return nil, err
		}
		return s.paymentRepo.GetByID(ctx, payment.ID)

	case gateway.ChargePending:
		if err := s.paymentRepo.MarkProcessing(ctx, payment.ID, result.GatewayRef); err != nil {
			return nil, err
		}
		payment.Status = domain.PaymentStatusProcessing
		payment.GatewayReference = result.GatewayRef
		if s.watcher != nil {
			s.watcher.Watch(payment.ID, result.GatewayRef)
		}
		return payment, nil

	default:
		s.failPayment(ctx, payment, result.Reason)
		return payment, nil
	}
}

// createPayment validates the order and persists the payment in
// PENDING, all under the same per-order lock CancelOrder takes. The
// lock closes the window where a cancellation has terminated the active
// payment but not yet moved the order to CANCELLED; without it a fresh
// payment could slip in and leave a cancelled order with a live charge.
// The lock is released before the gateway call, which can be slow; a
// cancellation arriving after that finds the payment via
// GetActiveForOrder and terminates it normally.
func (s *PaymentService) createPayment(ctx context.Context, req InitiatePaymentRequest) (*domain.Payment, error) {
	if s.lockStore != nil {
		ok, err := s.lockStore.AcquireOrderLock(ctx, req.OrderID, orderLockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrOrderLocked
		}
		defer func() {
			if err := s.lockStore.ReleaseOrderLock(ctx, req.OrderID); err != nil {
				log.Printf("order %s: failed to release lock: %v", req.OrderID, err)
			}
		}()
	}

	order, err := s.orderRepo.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if !order.Status.IsPayable() {
		return nil, ErrInvalidOrderState
	}

	if req.Amount.GreaterThan(order.Price) {
		return nil, ErrAmountExceedsPrice
	}

	// Creating the payment in PENDING is the idempotency guard against
	// double submission: the store rejects a second active payment for
	// the same order.
	payment := &domain.Payment{
		ID:         uuid.New().String(),
		OrderID:    req.OrderID,
		PayerID:    req.PayerID,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
		Method:     req.Method,
		Status:     domain.PaymentStatusPending,
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, err
	}

	if order.Status == domain.OrderStatusAccepted {
		if err := s.moveOrderToPendingPayment(ctx, payment); err != nil {
			return nil, err
		}
	}

	return payment, nil
}

// moveOrderToPendingPayment transitions an ACCEPTED order to
// PENDING_PAYMENT, retrying once on a lost race. If the order was
// cancelled concurrently, the just-created payment is cancelled too and
// the initiation fails.
func (s *PaymentService) moveOrderToPendingPayment(ctx context.Context, payment *domain.Payment) error {
	err := s.orderRepo.CompareAndTransition(ctx, payment.OrderID, domain.OrderStatusAccepted, domain.OrderStatusPendingPayment)
	if err == nil {
		s.invalidateOrder(ctx, payment.OrderID)
		return nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return err
	}

	order, gerr := s.orderRepo.GetByID(ctx, payment.OrderID)
	if gerr != nil {
		return gerr
	}

	switch order.Status {
	case domain.OrderStatusPendingPayment, domain.OrderStatusPaid:
		return nil
	default:
		// The order left the payable window while we were creating the
		// payment; release the active-payment slot and report it.
		if terr := s.paymentRepo.TransitionStatus(ctx, payment.ID, domain.PaymentStatusPending, domain.PaymentStatusCancelled, "order no longer payable"); terr != nil {
			log.Printf("payment %s: failed to cancel after order state change: %v", payment.ID, terr)
		}
		return ErrInvalidOrderState
	}
}

// failPayment marks a PENDING payment FAILED with the gateway's reason.
// A lost race means another writer already terminated it, which is fine.
func (s *PaymentService) failPayment(ctx context.Context, payment *domain.Payment, reason string) {
	err := s.paymentRepo.TransitionStatus(ctx, payment.ID, domain.PaymentStatusPending, domain.PaymentStatusFailed, reason)
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		log.Printf("payment %s: failed to record FAILED status: %v", payment.ID, err)
		return
	}
	payment.Status = domain.PaymentStatusFailed
	payment.FailureReason = reason
	s.invalidatePayment(ctx, payment.ID)
	if s.notifier != nil {
		_ = s.notifier.NotifyPaymentFailed(ctx, payment, reason)
	}
}

// GetPayment retrieves a payment by ID, serving terminal payments from
// cache when available.
func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	if paymentID == "" {
		return nil, ErrInvalidPaymentID
	}

	if s.cache != nil {
		if cached, err := s.cache.GetPayment(ctx, paymentID); err == nil && cached != nil {
			if payment, ok := paymentFromCache(cached); ok {
				return payment, nil
			}
		}
	}

	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && payment.Status.IsTerminal() {
		_ = s.cache.SetPayment(ctx, paymentToCache(payment))
	}

	return payment, nil
}

// GetRefunds retrieves the refunds recorded against a payment.
func (s *PaymentService) GetRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	if paymentID == "" {
		return nil, ErrInvalidPaymentID
	}
	return s.paymentRepo.ListRefunds(ctx, paymentID)
}

// OnPaymentConfirmed is invoked by the poller (or a gateway callback)
// when a pending payment completes. Safe under duplicate invocation.
func (s *PaymentService) OnPaymentConfirmed(ctx context.Context, paymentID, transactionRef string) error {
	return s.completePayment(ctx, paymentID, transactionRef)
}

// OnPaymentTerminated is invoked by the poller when a pending payment
// fails or expires, carrying the gateway's reason. The order is left
// untouched and stays payable, so the caller may retry with a fresh
// payment.
func (s *PaymentService) OnPaymentTerminated(ctx context.Context, paymentID string, status domain.PaymentStatus, reason string) error {
	switch status {
	case domain.PaymentStatusFailed, domain.PaymentStatusCancelled, domain.PaymentStatusExpired:
	default:
		return fmt.Errorf("status %s is not a termination status", status)
	}

	err := s.paymentRepo.TransitionStatus(ctx, paymentID, domain.PaymentStatusProcessing, status, reason)
	if errors.Is(err, repository.ErrConflict) {
		payment, gerr := s.paymentRepo.GetByID(ctx, paymentID)
		if gerr != nil {
			return gerr
		}
		if payment.Status == domain.PaymentStatusPending {
			err = s.paymentRepo.TransitionStatus(ctx, paymentID, domain.PaymentStatusPending, status, reason)
		} else {
			// Already terminal; the completion path won the race.
			return nil
		}
	}
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return err
	}

	s.invalidatePayment(ctx, paymentID)

	if s.notifier != nil {
		if payment, gerr := s.paymentRepo.GetByID(ctx, paymentID); gerr == nil {
			switch status {
			case domain.PaymentStatusExpired:
				_ = s.notifier.NotifyPaymentExpired(ctx, payment)
			case domain.PaymentStatusFailed:
				_ = s.notifier.NotifyPaymentFailed(ctx, payment, reason)
			}
		}
	}

	return nil
}

// completePayment is the completion path: move the payment to COMPLETED
// and advance the order to PAID. Both writes are compare-and-swap, so
// the path is idempotent: a duplicate gateway callback racing a poll
// result yields exactly one status advance, never corruption.
func (s *PaymentService) completePayment(ctx context.Context, paymentID, transactionRef string) error {
	won := false

	err := s.paymentRepo.MarkCompleted(ctx, paymentID, domain.PaymentStatusProcessing, transactionRef)
	switch {
	case err == nil:
		won = true
	case errors.Is(err, repository.ErrConflict):
		payment, gerr := s.paymentRepo.GetByID(ctx, paymentID)
		if gerr != nil {
			return gerr
		}
		switch payment.Status {
		case domain.PaymentStatusPending:
			// Synchronous rails complete straight from PENDING.
			cerr := s.paymentRepo.MarkCompleted(ctx, paymentID, domain.PaymentStatusPending, transactionRef)
			if cerr == nil {
				won = true
			} else if !errors.Is(cerr, repository.ErrConflict) {
				return cerr
			}
		case domain.PaymentStatusCompleted:
			// Duplicate confirmation; fall through to the order advance,
			// which is itself idempotent.
		default:
			// Termination won the race; the first terminal writer wins.
			return nil
		}
	default:
		return err
	}

	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}

	if err := s.advanceOrderToPaid(ctx, payment); err != nil {
		return err
	}

	s.invalidatePayment(ctx, paymentID)

	if won {
		if s.notifier != nil {
			_ = s.notifier.NotifyPaymentCompleted(ctx, payment)
		}
		if s.receipts != nil {
			if order, gerr := s.orderRepo.GetByID(ctx, payment.OrderID); gerr == nil {
				_, _ = s.receipts.GenerateReceipt(ctx, GenerateReceiptRequest{Order: order, Payment: payment})
			}
		}
	}

	return nil
}

// advanceOrderToPaid moves the order to PAID, handling the
// ACCEPTED→PENDING_PAYMENT→PAID two-step and retrying a lost race once
// with a fresh read. A CANCELLED order is a harmless no-op that raises
// an operator reconciliation alert: the payment completed but the order
// will not be fulfilled.
func (s *PaymentService) advanceOrderToPaid(ctx context.Context, payment *domain.Payment) error {
	err := s.orderRepo.CompareAndTransition(ctx, payment.OrderID, domain.OrderStatusPendingPayment, domain.OrderStatusPaid)
	if err == nil {
		s.invalidateOrder(ctx, payment.OrderID)
		return nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return err
	}

	order, gerr := s.orderRepo.GetByID(ctx, payment.OrderID)
	if gerr != nil {
		return gerr
	}

	switch order.Status {
	case domain.OrderStatusAccepted:
		if terr := s.orderRepo.CompareAndTransition(ctx, payment.OrderID, domain.OrderStatusAccepted, domain.OrderStatusPendingPayment); terr != nil && !errors.Is(terr, repository.ErrConflict) {
			return terr
		}
		terr := s.orderRepo.CompareAndTransition(ctx, payment.OrderID, domain.OrderStatusPendingPayment, domain.OrderStatusPaid)
		if terr != nil && !errors.Is(terr, repository.ErrConflict) {
			return terr
		}
		s.invalidateOrder(ctx, payment.OrderID)
		return nil
	case domain.OrderStatusPaid:
		// Another completion already advanced it.
		return nil
	case domain.OrderStatusCancelled:
		if s.notifier != nil {
			_ = s.notifier.NotifyReconciliationRequired(ctx, order, payment.ID)
		}
		return nil
	default:
		// Order already advanced past PAID; nothing to do.
		return nil
	}
}

// RefundPaymentRequest contains the parameters for refunding a payment.
// A zero Amount refunds the full remaining balance.
type RefundPaymentRequest struct {
	PaymentID string
	Amount    decimal.Decimal
	Reason    string
}

// RefundPayment reverses part or all of a completed payment. The
// resulting payment status (REFUNDED vs PARTIALLY_REFUNDED) is derived
// by the store from the refund-sum invariant, never set here. The order
// is untouched: a refund is a financial event layered on fulfillment.
func (s *PaymentService) RefundPayment(ctx context.Context, req RefundPaymentRequest) (*domain.Refund, error) {
	if req.PaymentID == "" {
		return nil, ErrInvalidPaymentID
	}

	payment, err := s.paymentRepo.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	if payment.Status != domain.PaymentStatusCompleted && payment.Status != domain.PaymentStatusPartiallyRefunded {
		return nil, repository.ErrNotRefundable
	}

	refunds, err := s.paymentRepo.ListRefunds(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	remaining := payment.Amount
	for _, r := range refunds {
		if r.Status == domain.RefundStatusCompleted {
			remaining = remaining.Sub(r.Amount)
		}
	}

	amount := req.Amount
	if amount.IsZero() {
		amount = remaining
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.GreaterThan(remaining) {
		return nil, repository.ErrOverRefund
	}

	refund := &domain.Refund{
		ID:        uuid.New().String(),
		PaymentID: req.PaymentID,
		Amount:    amount,
		Reason:    req.Reason,
		Status:    domain.RefundStatusCompleted,
		CreatedAt: time.Now(),
	}

	result, err := s.gw.Refund(ctx, payment.TransactionRef, amount)
	if err != nil || !result.Succeeded {
		// A rejected refund is recorded as a FAILED refund; it does not
		// count toward the refunded balance.
		refund.Status = domain.RefundStatusFailed
		if err != nil {
			log.Printf("payment %s: gateway refund error: %v", payment.ID, err)
		}
	}

	if err := s.paymentRepo.AddRefund(ctx, refund); err != nil {
		return nil, err
	}

	s.invalidatePayment(ctx, req.PaymentID)

	if refund.Status == domain.RefundStatusCompleted && s.notifier != nil {
		_ = s.notifier.NotifyPaymentRefunded(ctx, payment, refund)
	}

	return refund, nil
}

// ResumePendingConfirmations re-registers every PROCESSING payment with
// the poller. Called on startup so a restart cannot strand an in-flight
// asynchronous payment.
func (s *PaymentService) ResumePendingConfirmations(ctx context.Context) error {
	if s.watcher == nil {
		return nil
	}

	payments, err := s.paymentRepo.ListByStatus(ctx, domain.PaymentStatusProcessing)
	if err != nil {
		return err
	}

	for _, payment := range payments {
		if payment.GatewayReference == "" {
			continue
		}
		s.watcher.Watch(payment.ID, payment.GatewayReference)
	}

	if len(payments) > 0 {
		log.Printf("resumed confirmation polling for %d payment(s)", len(payments))
	}

	return nil
}

func (s *PaymentService) invalidatePayment(ctx context.Context, paymentID string) {
	if s.cache != nil {
		_ = s.cache.InvalidatePayment(ctx, paymentID)
	}
}

func (s *PaymentService) invalidateOrder(ctx context.Context, orderID string) {
	if s.cache != nil {
		_ = s.cache.InvalidateOrder(ctx, orderID)
	}
}

func paymentToCache(p *domain.Payment) *redis.CachedPayment {
	return &redis.CachedPayment{
		ID:               p.ID,
		OrderID:          p.OrderID,
		PayerID:          p.PayerID,
		ReceiverID:       p.ReceiverID,
		Amount:           p.Amount.String(),
		Method:           string(p.Method),
		Status:           string(p.Status),
		GatewayReference: p.GatewayReference,
		TransactionRef:   p.TransactionRef,
		FailureReason:    p.FailureReason,
		CreatedAt:        p.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:        p.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func paymentFromCache(c *redis.CachedPayment) (*domain.Payment, bool) {
	amount, err := decimal.NewFromString(c.Amount)
	if err != nil {
		return nil, false
	}
	createdAt, err := time.Parse(time.RFC3339Nano, c.CreatedAt)
	if err != nil {
		return nil, false
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, c.UpdatedAt)
	if err != nil {
		return nil, false
	}
	return &domain.Payment{
		ID:               c.ID,
		OrderID:          c.OrderID,
		PayerID:          c.PayerID,
		ReceiverID:       c.ReceiverID,
		Amount:           amount,
		Method:           domain.PaymentMethod(c.Method),
		Status:           domain.PaymentStatus(c.Status),
		GatewayReference: c.GatewayReference,
		TransactionRef:   c.TransactionRef,
		FailureReason:    c.FailureReason,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, true
}
