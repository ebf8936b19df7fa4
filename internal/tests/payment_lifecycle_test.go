package tests

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"delivery/internal/domain"
	"delivery/internal/gateway"
	"delivery/internal/repository"
	"delivery/internal/service"
)

type paymentFixture struct {
	orderRepo   *MockOrderRepository
	paymentRepo *MockPaymentRepository
	gw          *MockGateway
	watcher     *MockWatcher
	lockStore   *MockLockStore
	payments    *service.PaymentService
}

func newPaymentFixture() *paymentFixture {
	orderRepo := NewMockOrderRepository()
	paymentRepo := NewMockPaymentRepository()
	gw := NewMockGateway()
	watcher := NewMockWatcher()
	lockStore := NewMockLockStore()
	notifier := service.NewNotificationService()

	payments := service.NewPaymentService(orderRepo, paymentRepo, gw, notifier, service.NewReceiptService(notifier), lockStore, nil)
	payments.SetWatcher(watcher)

	return &paymentFixture{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		gw:          gw,
		watcher:     watcher,
		lockStore:   lockStore,
		payments:    payments,
	}
}

func (f *paymentFixture) initiateRequest(order *domain.Order, amount string) service.InitiatePaymentRequest {
	return service.InitiatePaymentRequest{
		OrderID:    order.ID,
		PayerID:    order.DemanderID,
		ReceiverID: order.TravelerID,
		Amount:     decimal.RequireFromString(amount),
		Method:     domain.PaymentMethodCard,
	}
}

// ──────────────────────────────────────────────
// 1. SYNCHRONOUS RAIL (CARD)
// ──────────────────────────────────────────────

func TestInitiatePayment_CardCompletesSynchronously(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	order := newAcceptedOrder("100.00")
	f.orderRepo.AddOrder(order)

	payment, err := f.payments.InitiatePayment(ctx, f.initiateRequest(order, "100.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if payment.Status != domain.PaymentStatusCompleted {
		t.Errorf("expected payment COMPLETED, got %s", payment.Status)
	}
	if payment.TransactionRef == "" {
		t.Error("expected a transaction reference on the completed payment")
	}
	if got := f.orderRepo.GetOrder(order.ID).Status; got != domain.OrderStatusPaid {
		t.Errorf("expected order PAID, got %s", got)
	}
	if _, watched := f.watcher.Watched(payment.ID); watched {
		t.Error("synchronous completion must not register with the poller")
	}
}

func TestInitiatePayment_GatewayDeclineIsNotAnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	f.gw.ChargeResult = gateway.ChargeResult{Status: gateway.ChargeFailed, Reason: "insufficient funds"}
	order := newAcceptedOrder("100.00")
	f.orderRepo.AddOrder(order)

	payment, err := f.payments.InitiatePayment(ctx, f.initiateRequest(order, "100.00"))
	if err != nil {
		t.Fatalf("a decline is an outcome, not an error; got %v", err)
	}
	if payment.Status != domain.PaymentStatusFailed {
		t.Errorf("expected payment FAILED, got %s", payment.Status)
	}
	if payment.FailureReason != "insufficient funds" {
		t.Errorf("expected the gateway's reason on the payment, got %q", payment.FailureReason)
	}
	if got := f.paymentRepo.GetPayment(payment.ID).FailureReason; got != "insufficient funds" {
		t.Errorf("expected the reason to be persisted, got %q", got)
	}

	// The order stays payable, so the payer may try again.
	if got := f.orderRepo.GetOrder(order.ID).Status; got != domain.OrderStatusPendingPayment {
		t.Errorf("expected order PENDING_PAYMENT, got %s", got)
	}

	f.gw.ChargeResult = gateway.ChargeResult{Status: gateway.ChargeCompleted, TransactionRef: "txn-retry"}
	retry, err := f.payments.InitiatePayment(ctx, f.initiateRequest(order, "100.00"))
	if err != nil {
		t.Fatalf("retry after decline failed: %v", err)
	}
	if retry.Status != domain.PaymentStatusCompleted {
		t.Errorf("expected retry COMPLETED, got %s", retry.Status)
	}
}

func TestInitiatePayment_GatewayErrorFailsPayment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	f.gw.ChargeError = errors.New("connection reset")
	order := newAcceptedOrder("100.00")
	f.orderRepo.AddOrder(order)

	payment, err := f.payments.InitiatePayment(ctx, f.initiateRequest(order, "100.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.Status != domain.PaymentStatusFailed {
		t.Errorf("expected payment FAILED, got %s", payment.Status)
	}
	if f.paymentRepo.CountActiveForOrder(order.ID) != 0 {
		t.Error("failed payment must release the active-payment slot")
	}
}

// ──────────────────────────────────────────────
// 2. ASYNCHRONOUS RAIL (WALLET QR)
// ──────────────────────────────────────────────

func TestInitiatePayment_QRPaymentHandsOffToPoller(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	f.gw.ChargeResult = gateway.ChargeResult{Status: gateway.ChargePending, GatewayRef: "qr-abc"}
	order := newAcceptedOrder("100.00")
	f.orderRepo.AddOrder(order)

	req := f.initiateRequest(order, "100.00")
	req.Method = domain.PaymentMethodWalletQR
	payment, err := f.payments.InitiatePayment(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if payment.Status != domain.PaymentStatusProcessing {
		t.Errorf("expected payment PROCESSING, got %s", payment.Status)
	}
	if payment.GatewayReference != "qr-abc" {
		t.Errorf("expected gateway reference for QR rendering, got %q", payment.GatewayReference)
	}
	if ref, watched := f.watcher.Watched(payment.ID); !watched || ref != "qr-abc" {
		t.Errorf("expected poller registration with qr-abc, got %q (watched=%v)", ref, watched)
	}
	if got := f.orderRepo.GetOrder(order.ID).Status; got != domain.OrderStatusPendingPayment {
		t.Errorf("expected order PENDING_PAYMENT while confirmation is pending, got %s", got)
	}

	// Later the poller observes completion.
	if err := f.payments.OnPaymentConfirmed(ctx, payment.ID, "txn-qr"); err != nil {
		t.Fatalf("confirmation callback failed: %v", err)
	}

	confirmed := f.paymentRepo.GetPayment(payment.ID)
	if confirmed.Status != domain.PaymentStatusCompleted {
		t.Errorf("expected payment COMPLETED, got %s", confirmed.Status)
	}
	if confirmed.TransactionRef != "txn-qr" {
		t.Errorf("expected transaction ref txn-qr, got %q", confirmed.TransactionRef)
	}
	if got := f.orderRepo.GetOrder(order.ID).Status; got != domain.OrderStatusPaid {
		t.Errorf("expected order PAID after confirmation, got %s", got)
	}
}

func TestInitiatePayment_SecondActivePaymentRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	f.gw.ChargeResult = gateway.ChargeResult{Status: gateway.ChargePending, GatewayRef: "qr-1"}
	order := newAcceptedOrder("100.00")
	f.orderRepo.AddOrder(order)

	req := f.initiateRequest(order, "100.00")
	req.Method = domain.PaymentMethodWalletQR
	first, err := f.payments.InitiatePayment(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.payments.InitiatePayment(ctx, req)
	if !errors.Is(err, repository.ErrDuplicateActivePayment) {
		t.Fatalf("expected ErrDuplicateActivePayment, got %v", err)
	}

	// The original payment and the order are untouched.
	if got := f.paymentRepo.GetPayment(first.ID).Status; got != domain.PaymentStatusProcessing {
		t.Errorf("expected first payment to stay PROCESSING, got %s", got)
	}
	if f.paymentRepo.CountActiveForOrder(order.ID) != 1 {
		t.Errorf("expected exactly one active payment, got %d", f.paymentRepo.CountActiveForOrder(order.ID))
	}
	if got := f.orderRepo.GetOrder(order.ID).Status; got != domain.OrderStatusPendingPayment {
		t.Errorf("expected order PENDING_PAYMENT, got %s", got)
	}
}

// ──────────────────────────────────────────────
// 3. VALIDATION AND GUARDS
// ──────────────────────────────────────────────

func TestInitiatePayment_AmountExceedsPrice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	order := newAcceptedOrder("100.00")
	f.orderRepo.AddOrder(order)

	_, err := f.payments.InitiatePayment(ctx, f.initiateRequest(order, "100.01"))
	if !errors.Is(err, service.ErrAmountExceedsPrice) {
		t.Fatalf("expected ErrAmountExceedsPrice, got %v", err)
	}
	if f.gw.ChargeCallCount != 0 {
		t.Error("gateway must not be charged for a rejected amount")
	}
}

func TestInitiatePayment_OrderNotPayable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusCreated,
		domain.OrderStatusPaid,
		domain.OrderStatusCancelled,
	} {
		order := newAcceptedOrder("100.00")
		order.Status = status
		f.orderRepo.AddOrder(order)

		_, err := f.payments.InitiatePayment(ctx, f.initiateRequest(order, "100.00"))
		if !errors.Is(err, service.ErrInvalidOrderState) {
			t.Errorf("order in %s: expected ErrInvalidOrderState, got %v", status, err)
		}
	}
}

func TestInitiatePayment_UnknownMethod(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	order := newAcceptedOrder("100.00")
	f.orderRepo.AddOrder(order)

	req := f.initiateRequest(order, "100.00")
	req.Method = domain.PaymentMethod("CASH")
	_, err := f.payments.InitiatePayment(ctx, req)
	if !errors.Is(err, service.ErrInvalidPaymentMethod) {
		t.Fatalf("expected ErrInvalidPaymentMethod, got %v", err)
	}
}

// ──────────────────────────────────────────────
// 4. IDEMPOTENT COMPLETION
// ──────────────────────────────────────────────

func TestOnPaymentConfirmed_DuplicateDeliveryIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	f.gw.ChargeResult = gateway.ChargeResult{Status: gateway.ChargePending, GatewayRef: "qr-1"}
	order := newAcceptedOrder("100.00")
	f.orderRepo.AddOrder(order)

	req := f.initiateRequest(order, "100.00")
	req.Method = domain.PaymentMethodWalletQR
	payment, err := f.payments.InitiatePayment(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A poll result and a gateway callback may both deliver the same
	// confirmation.
	if err := f.payments.OnPaymentConfirmed(ctx, payment.ID, "txn-1"); err != nil {
		t.Fatalf("first confirmation failed: %v", err)
	}
	if err := f.payments.OnPaymentConfirmed(ctx, payment.ID, "txn-1"); err != nil {
		t.Fatalf("duplicate confirmation must be a no-op, got %v", err)
	}

	if got := f.paymentRepo.GetPayment(payment.ID).Status; got != domain.PaymentStatusCompleted {
		t.Errorf("expected payment COMPLETED, got %s", got)
	}
	if got := f.orderRepo.GetOrder(order.ID).Status; got != domain.OrderStatusPaid {
		t.Errorf("expected order PAID, got %s", got)
	}
}

func TestOnPaymentConfirmed_ConcurrentDeliveries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	f.gw.ChargeResult = gateway.ChargeResult{Status: gateway.ChargePending, GatewayRef: "qr-1"}
	order := newAcceptedOrder("100.00")
	f.orderRepo.AddOrder(order)

	req := f.initiateRequest(order, "100.00")
	req.Method = domain.PaymentMethodWalletQR
	payment, err := f.payments.InitiatePayment(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.payments.OnPaymentConfirmed(ctx, payment.ID, "txn-1")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent confirmation returned error: %v", err)
		}
	}

	if got := f.paymentRepo.GetPayment(payment.ID).Status; got != domain.PaymentStatusCompleted {
		t.Errorf("expected payment COMPLETED, got %s", got)
	}
	if got := f.orderRepo.GetOrder(order.ID).Status; got != domain.OrderStatusPaid {
		t.Errorf("expected order PAID, got %s", got)
	}
}

// ──────────────────────────────────────────────
// 5. TERMINATION AND EXPIRY
// ──────────────────────────────────────────────

func TestOnPaymentTerminated_ExpiryLeavesOrderPayable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	f.gw.ChargeResult = gateway.ChargeResult{Status: gateway.ChargePending, GatewayRef: "qr-1"}
	order := newAcceptedOrder("100.00")
	f.orderRepo.AddOrder(order)

	req := f.initiateRequest(order, "100.00")
	req.Method = domain.PaymentMethodWalletQR
	payment, err := f.payments.InitiatePayment(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.payments.OnPaymentTerminated(ctx, payment.ID, domain.PaymentStatusExpired, "confirmation window elapsed"); err != nil {
		t.Fatalf("termination callback failed: %v", err)
	}

	expired := f.paymentRepo.GetPayment(payment.ID)
	if expired.Status != domain.PaymentStatusExpired {
		t.Errorf("expected payment EXPIRED, got %s", expired.Status)
	}
	if expired.FailureReason != "confirmation window elapsed" {
		t.Errorf("expected the expiry reason to be persisted, got %q", expired.FailureReason)
	}
	if got := f.orderRepo.GetOrder(order.ID).Status; got != domain.OrderStatusPendingPayment {
		t.Errorf("expected order to stay PENDING_PAYMENT, got %s", got)
	}

	// The expired payment no longer occupies the active slot, so a
	// fresh attempt goes through.
	f.gw.ChargeResult = gateway.ChargeResult{Status: gateway.ChargeCompleted, TransactionRef: "txn-2"}
	retry, err := f.payments.InitiatePayment(ctx, f.initiateRequest(order, "100.00"))
	if err != nil {
		t.Fatalf("retry after expiry failed: %v", err)
	}
	if retry.Status != domain.PaymentStatusCompleted {
		t.Errorf("expected retry COMPLETED, got %s", retry.Status)
	}
	if got := f.orderRepo.GetOrder(order.ID).Status; got != domain.OrderStatusPaid {
		t.Errorf("expected order PAID, got %s", got)
	}
}

func TestOnPaymentTerminated_RejectsNonTerminationStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	if err := f.payments.OnPaymentTerminated(ctx, "payment-1", domain.PaymentStatusCompleted, ""); err == nil {
		t.Fatal("expected an error for a non-termination status")
	}
}

func TestOnPaymentTerminated_CompletionWinsTheRace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	f.gw.ChargeResult = gateway.ChargeResult{Status: gateway.ChargePending, GatewayRef: "qr-1"}
	order := newAcceptedOrder("100.00")
	f.orderRepo.AddOrder(order)

	req := f.initiateRequest(order, "100.00")
	req.Method = domain.PaymentMethodWalletQR
	payment, err := f.payments.InitiatePayment(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.payments.OnPaymentConfirmed(ctx, payment.ID, "txn-1"); err != nil {
		t.Fatalf("confirmation failed: %v", err)
	}

	// A late expiry delivery loses quietly; the first terminal writer
	// wins.
	if err := f.payments.OnPaymentTerminated(ctx, payment.ID, domain.PaymentStatusExpired, "confirmation window elapsed"); err != nil {
		t.Fatalf("late termination must be a no-op, got %v", err)
	}
	if got := f.paymentRepo.GetPayment(payment.ID).Status; got != domain.PaymentStatusCompleted {
		t.Errorf("expected payment to stay COMPLETED, got %s", got)
	}
}

// ──────────────────────────────────────────────
// 6. CONFIRMATION AFTER CANCELLATION
// ──────────────────────────────────────────────

func TestOnPaymentConfirmed_CancelledOrderIsReconciliationNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	order := newAcceptedOrder("100.00")
	order.Status = domain.OrderStatusCancelled
	f.orderRepo.AddOrder(order)

	payment := &domain.Payment{
		ID:               "payment-1",
		OrderID:          order.ID,
		PayerID:          order.DemanderID,
		ReceiverID:       order.TravelerID,
		Amount:           decimal.RequireFromString("100.00"),
		Method:           domain.PaymentMethodWalletQR,
		Status:           domain.PaymentStatusProcessing,
		GatewayReference: "qr-1",
	}
	f.paymentRepo.AddPayment(payment)

	// The gateway says the money moved; the payment completes even
	// though the order will never be fulfilled.
	if err := f.payments.OnPaymentConfirmed(ctx, payment.ID, "txn-1"); err != nil {
		t.Fatalf("confirmation after cancellation must not error: %v", err)
	}

	if got := f.paymentRepo.GetPayment(payment.ID).Status; got != domain.PaymentStatusCompleted {
		t.Errorf("expected payment COMPLETED, got %s", got)
	}
	if got := f.orderRepo.GetOrder(order.ID).Status; got != domain.OrderStatusCancelled {
		t.Errorf("expected order to stay CANCELLED, got %s", got)
	}
}

// ──────────────────────────────────────────────
// 7. INITIATE VS CANCEL SERIALIZATION
// ──────────────────────────────────────────────

func TestInitiatePayment_BlockedWhileOrderLockHeld(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	order := newAcceptedOrder("100.00")
	f.orderRepo.AddOrder(order)

	// A cancellation in progress holds the per-order lock between
	// terminating the active payment and moving the order to CANCELLED.
	// A payment initiated in that window would outlive the cancelled
	// order, so it must wait for the lock instead.
	if ok, err := f.lockStore.AcquireOrderLock(ctx, order.ID, 0); err != nil || !ok {
		t.Fatalf("failed to pre-acquire lock: ok=%v err=%v", ok, err)
	}

	_, err := f.payments.InitiatePayment(ctx, f.initiateRequest(order, "100.00"))
	if !errors.Is(err, service.ErrOrderLocked) {
		t.Fatalf("expected ErrOrderLocked, got %v", err)
	}
	if f.paymentRepo.CreateCallCount != 0 {
		t.Error("no payment may be created while the order lock is held")
	}
	if f.gw.ChargeCallCount != 0 {
		t.Error("gateway must not be charged while the order lock is held")
	}

	// Once the cancellation releases the lock the outcome is decided by
	// the order's status, not by timing.
	if err := f.lockStore.ReleaseOrderLock(ctx, order.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payment, err := f.payments.InitiatePayment(ctx, f.initiateRequest(order, "100.00"))
	if err != nil {
		t.Fatalf("initiate after lock release failed: %v", err)
	}
	if payment.Status != domain.PaymentStatusCompleted {
		t.Errorf("expected payment COMPLETED, got %s", payment.Status)
	}
}

func TestInitiatePayment_ReleasesOrderLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	order := newAcceptedOrder("100.00")
	f.orderRepo.AddOrder(order)

	if _, err := f.payments.InitiatePayment(ctx, f.initiateRequest(order, "100.00")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := f.lockStore.AcquireOrderLock(ctx, order.ID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected the per-order lock to be released after initiation")
	}
}

// ──────────────────────────────────────────────
// 8. STARTUP RECOVERY
// ──────────────────────────────────────────────

func TestResumePendingConfirmations_RewatchesProcessingPayments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newPaymentFixture()
	f.paymentRepo.AddPayment(&domain.Payment{
		ID:               "payment-1",
		OrderID:          "order-a",
		Amount:           decimal.RequireFromString("50.00"),
		Method:           domain.PaymentMethodWalletQR,
		Status:           domain.PaymentStatusProcessing,
		GatewayReference: "qr-resume",
	})
	f.paymentRepo.AddPayment(&domain.Payment{
		ID:      "payment-2",
		OrderID: "order-b",
		Amount:  decimal.RequireFromString("60.00"),
		Method:  domain.PaymentMethodCard,
		Status:  domain.PaymentStatusCompleted,
	})

	if err := f.payments.ResumePendingConfirmations(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ref, watched := f.watcher.Watched("payment-1"); !watched || ref != "qr-resume" {
		t.Errorf("expected payment-1 re-watched with qr-resume, got %q (watched=%v)", ref, watched)
	}
	if _, watched := f.watcher.Watched("payment-2"); watched {
		t.Error("terminal payments must not be re-watched")
	}
}
