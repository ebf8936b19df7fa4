package tests

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"delivery/internal/domain"
	"delivery/internal/gateway"
	"delivery/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK ORDER REPOSITORY
// ──────────────────────────────────────────────

// MockOrderRepository is a mock implementation of OrderRepository.
type MockOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order

	// Counters for verification
	CreateCallCount     int32
	TransitionCallCount int32

	// Error injection
	CreateError     error
	TransitionError error
}

// NewMockOrderRepository creates a new mock order repository.
func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders: make(map[string]*domain.Order),
	}
}

// AddOrder adds an order to the mock repository.
func (m *MockOrderRepository) AddOrder(order *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
}

func (m *MockOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	m.orders[order.ID] = order
	return nil
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *order
	return &copy, nil
}

func (m *MockOrderRepository) GetAll(ctx context.Context) ([]*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		copy := *o
		result = append(result, &copy)
	}
	return result, nil
}

func (m *MockOrderRepository) CompareAndTransition(ctx context.Context, id string, expected, target domain.OrderStatus) error {
	atomic.AddInt32(&m.TransitionCallCount, 1)
	if m.TransitionError != nil {
		return m.TransitionError
	}
	if !domain.CanTransitionOrder(expected, target) {
		return repository.ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	if order.Status != expected {
		return repository.ErrConflict
	}
	order.Status = target
	order.UpdatedAt = time.Now()
	return nil
}

// GetOrder returns the order by ID (for test assertions).
func (m *MockOrderRepository) GetOrder(id string) *domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orders[id]
}

// ──────────────────────────────────────────────
// MOCK PAYMENT REPOSITORY
// ──────────────────────────────────────────────

// MockPaymentRepository is a mock implementation of PaymentRepository.
// It enforces the same invariants as the PostgreSQL store: at most one
// active payment per order, compare-and-swap status transitions, and
// refund-sum derivation.
type MockPaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment
	refunds  map[string][]*domain.Refund

	// Counters for verification
	CreateCallCount     int32
	TransitionCallCount int32
	AddRefundCallCount  int32

	// Error injection
	CreateError     error
	TransitionError error
	AddRefundError  error
}

// NewMockPaymentRepository creates a new mock payment repository.
func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{
		payments: make(map[string]*domain.Payment),
		refunds:  make(map[string][]*domain.Refund),
	}
}

// AddPayment adds a payment to the mock repository.
func (m *MockPaymentRepository) AddPayment(payment *domain.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[payment.ID] = payment
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.OrderID == payment.OrderID && !p.Status.IsTerminal() {
			return repository.ErrDuplicateActivePayment
		}
	}
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt
	m.payments[payment.ID] = payment
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payment, ok := m.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *payment
	return &copy, nil
}

func (m *MockPaymentRepository) GetActiveForOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments {
		if p.OrderID == orderID && !p.Status.IsTerminal() {
			copy := *p
			return &copy, nil
		}
	}
	return nil, nil
}

func (m *MockPaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Payment
	for _, p := range m.payments {
		if p.OrderID == orderID {
			copy := *p
			result = append(result, &copy)
		}
	}
	return result, nil
}

func (m *MockPaymentRepository) ListByStatus(ctx context.Context, status domain.PaymentStatus) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Payment
	for _, p := range m.payments {
		if p.Status == status {
			copy := *p
			result = append(result, &copy)
		}
	}
	return result, nil
}

func (m *MockPaymentRepository) TransitionStatus(ctx context.Context, id string, expected, target domain.PaymentStatus, reason string) error {
	return m.cas(id, expected, func(p *domain.Payment) {
		p.Status = target
		if reason != "" {
			p.FailureReason = reason
		}
	})
}

func (m *MockPaymentRepository) MarkProcessing(ctx context.Context, id, gatewayRef string) error {
	return m.cas(id, domain.PaymentStatusPending, func(p *domain.Payment) {
		p.Status = domain.PaymentStatusProcessing
		p.GatewayReference = gatewayRef
	})
}

func (m *MockPaymentRepository) MarkCompleted(ctx context.Context, id string, expected domain.PaymentStatus, transactionRef string) error {
	return m.cas(id, expected, func(p *domain.Payment) {
		p.Status = domain.PaymentStatusCompleted
		p.TransactionRef = transactionRef
	})
}

func (m *MockPaymentRepository) cas(id string, expected domain.PaymentStatus, apply func(*domain.Payment)) error {
	atomic.AddInt32(&m.TransitionCallCount, 1)
	if m.TransitionError != nil {
		return m.TransitionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	if payment.Status != expected {
		return repository.ErrConflict
	}
	apply(payment)
	payment.UpdatedAt = time.Now()
	return nil
}

func (m *MockPaymentRepository) AddRefund(ctx context.Context, refund *domain.Refund) error {
	atomic.AddInt32(&m.AddRefundCallCount, 1)
	if m.AddRefundError != nil {
		return m.AddRefundError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[refund.PaymentID]
	if !ok {
		return repository.ErrNotFound
	}
	if payment.Status != domain.PaymentStatusCompleted && payment.Status != domain.PaymentStatusPartiallyRefunded {
		return repository.ErrNotRefundable
	}

	refunded := decimal.Zero
	for _, r := range m.refunds[refund.PaymentID] {
		if r.Status == domain.RefundStatusCompleted {
			refunded = refunded.Add(r.Amount)
		}
	}

	if refund.Status == domain.RefundStatusCompleted && refunded.Add(refund.Amount).GreaterThan(payment.Amount) {
		return repository.ErrOverRefund
	}

	m.refunds[refund.PaymentID] = append(m.refunds[refund.PaymentID], refund)

	if refund.Status == domain.RefundStatusCompleted {
		if refunded.Add(refund.Amount).Equal(payment.Amount) {
			payment.Status = domain.PaymentStatusRefunded
		} else {
			payment.Status = domain.PaymentStatusPartiallyRefunded
		}
		payment.UpdatedAt = time.Now()
	}

	return nil
}

func (m *MockPaymentRepository) ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Refund, 0, len(m.refunds[paymentID]))
	for _, r := range m.refunds[paymentID] {
		copy := *r
		result = append(result, &copy)
	}
	return result, nil
}

// GetPayment returns the payment by ID (for test assertions).
func (m *MockPaymentRepository) GetPayment(id string) *domain.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.payments[id]
}

// CountActiveForOrder returns the number of non-terminal payments for
// an order.
func (m *MockPaymentRepository) CountActiveForOrder(orderID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, p := range m.payments {
		if p.OrderID == orderID && !p.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// ──────────────────────────────────────────────
// MOCK GATEWAY
// ──────────────────────────────────────────────

// MockGateway is a scriptable implementation of gateway.Gateway.
type MockGateway struct {
	mu sync.Mutex

	// ChargeResult is returned by every Charge call.
	ChargeResult gateway.ChargeResult
	// ChargeError is returned by Charge when set.
	ChargeError error

	// PollResults is consumed one per PollStatus call; the last entry
	// repeats once the script runs out.
	PollResults []gateway.PollResult
	// PollError is returned by PollStatus when set.
	PollError error

	// RefundResult is returned by every Refund call.
	RefundResult gateway.RefundResult
	// RefundError is returned by Refund when set.
	RefundError error

	// Counters for verification
	ChargeCallCount int32
	PollCallCount   int32
	RefundCallCount int32

	pollIndex int
}

// NewMockGateway creates a mock gateway that completes every charge
// synchronously.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		ChargeResult: gateway.ChargeResult{Status: gateway.ChargeCompleted, TransactionRef: "txn-1"},
		RefundResult: gateway.RefundResult{Succeeded: true},
	}
}

func (g *MockGateway) Charge(ctx context.Context, payment *domain.Payment, methodDetails map[string]string) (gateway.ChargeResult, error) {
	atomic.AddInt32(&g.ChargeCallCount, 1)
	if g.ChargeError != nil {
		return gateway.ChargeResult{}, g.ChargeError
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ChargeResult, nil
}

func (g *MockGateway) PollStatus(ctx context.Context, gatewayRef string) (gateway.PollResult, error) {
	atomic.AddInt32(&g.PollCallCount, 1)
	if g.PollError != nil {
		return gateway.PollResult{}, g.PollError
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.PollResults) == 0 {
		return gateway.PollResult{Status: gateway.PollPending}, nil
	}
	result := g.PollResults[g.pollIndex]
	if g.pollIndex < len(g.PollResults)-1 {
		g.pollIndex++
	}
	return result, nil
}

func (g *MockGateway) Refund(ctx context.Context, transactionRef string, amount decimal.Decimal) (gateway.RefundResult, error) {
	atomic.AddInt32(&g.RefundCallCount, 1)
	if g.RefundError != nil {
		return gateway.RefundResult{}, g.RefundError
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.RefundResult, nil
}

// ──────────────────────────────────────────────
// MOCK WATCHER
// ──────────────────────────────────────────────

// MockWatcher records poller registrations.
type MockWatcher struct {
	mu      sync.Mutex
	watched map[string]string
	stopped map[string]bool
}

// NewMockWatcher creates a new mock watcher.
func NewMockWatcher() *MockWatcher {
	return &MockWatcher{
		watched: make(map[string]string),
		stopped: make(map[string]bool),
	}
}

func (w *MockWatcher) Watch(paymentID, gatewayRef string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[paymentID] = gatewayRef
}

func (w *MockWatcher) Stop(paymentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped[paymentID] = true
}

// Watched returns the gateway reference the payment was registered
// with, if any.
func (w *MockWatcher) Watched(paymentID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ref, ok := w.watched[paymentID]
	return ref, ok
}

// Stopped reports whether Stop was called for the payment.
func (w *MockWatcher) Stopped(paymentID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped[paymentID]
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is an in-memory implementation of LockStoreInterface.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]bool
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{locks: make(map[string]bool)}
}

func (s *MockLockStore) AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[orderID] {
		return false, nil
	}
	s.locks[orderID] = true
	return true, nil
}

func (s *MockLockStore) ReleaseOrderLock(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, orderID)
	return nil
}

// ──────────────────────────────────────────────
// TEST HELPERS
// ──────────────────────────────────────────────

var orderSeq int32

// newAcceptedOrder builds an order in ACCEPTED with the given price.
func newAcceptedOrder(price string) *domain.Order {
	n := atomic.AddInt32(&orderSeq, 1)
	return &domain.Order{
		ID:         fmt.Sprintf("order-%d", n),
		DemandID:   fmt.Sprintf("demand-%d", n),
		JourneyID:  fmt.Sprintf("journey-%d", n),
		DemanderID: "demander-1",
		TravelerID: "traveler-1",
		Price:      decimal.RequireFromString(price),
		Status:     domain.OrderStatusAccepted,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}
