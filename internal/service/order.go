package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"delivery/internal/domain"
	"delivery/internal/redis"
	"delivery/internal/repository"
)

const orderLockTTL = 10 * time.Second

// manualTargets are the statuses UpdateOrderStatus may set. PAID is
// payment-driven, CANCELLED goes through CancelOrder, and
// PENDING_PAYMENT is entered by payment initiation.
var manualTargets = map[domain.OrderStatus]bool{
	domain.OrderStatusConfirmed: true,
	domain.OrderStatusAccepted:  true,
	domain.OrderStatusPickedUp:  true,
	domain.OrderStatusInTransit: true,
	domain.OrderStatusArrived:   true,
	domain.OrderStatusDelivered: true,
	domain.OrderStatusCompleted: true,
	domain.OrderStatusDisputed:  true,
}

// OrderService handles order operations.
type OrderService struct {
	orderRepo   repository.OrderRepository
	paymentRepo repository.PaymentRepository
	lockStore   redis.LockStoreInterface
	cache       redis.CacheStoreInterface
	notifier    *NotificationService
	watcher     Watcher
}

// NewOrderService creates a new OrderService.
func NewOrderService(
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	lockStore redis.LockStoreInterface,
	cache redis.CacheStoreInterface,
	notifier *NotificationService,
) *OrderService {
	return &OrderService{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		lockStore:   lockStore,
		cache:       cache,
		notifier:    notifier,
	}
}

// SetWatcher wires the confirmation poller in after construction.
func (s *OrderService) SetWatcher(w Watcher) {
	s.watcher = w
}

// CreateOrderRequest contains the parameters for creating an order.
type CreateOrderRequest struct {
	DemandID   string
	JourneyID  string
	DemanderID string
	TravelerID string
	Price      decimal.Decimal
}

// CreateOrder creates an order in CREATED. Invoked by the matching
// workflow once a demand and a journey are paired.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	if req.DemandID == "" || req.JourneyID == "" {
		return nil, ErrInvalidParticipants
	}
	if req.DemanderID == "" {
		return nil, ErrInvalidPayerID
	}
	if req.TravelerID == "" {
		return nil, ErrInvalidReceiverID
	}
	if !req.Price.IsPositive() {
		return nil, ErrInvalidPrice
	}

	order := &domain.Order{
		ID:         uuid.New().String(),
		DemandID:   req.DemandID,
		JourneyID:  req.JourneyID,
		DemanderID: req.DemanderID,
		TravelerID: req.TravelerID,
		Price:      req.Price,
		Status:     domain.OrderStatusCreated,
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// GetOrder retrieves an order by ID, served from cache when fresh.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, ErrInvalidOrderID
	}

	if s.cache != nil {
		if cached, err := s.cache.GetOrder(ctx, orderID); err == nil && cached != nil {
			if order, ok := orderFromCache(cached); ok {
				return order, nil
			}
		}
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.SetOrder(ctx, orderToCache(order))
	}

	return order, nil
}

// GetAllOrders retrieves all orders.
func (s *OrderService) GetAllOrders(ctx context.Context) ([]*domain.Order, error) {
	return s.orderRepo.GetAll(ctx)
}

// UpdateOrderStatus advances an order through its fulfillment stages.
// The transition is validated against the order transition graph by the
// store; payment state is not consulted.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID string, target domain.OrderStatus) (*domain.Order, error) {
	if orderID == "" {
		return nil, ErrInvalidOrderID
	}
	if !manualTargets[target] {
		return nil, ErrInvalidTargetStatus
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := s.transitionWithRetry(ctx, orderID, order.Status, target); err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.InvalidateOrder(ctx, orderID)
	}

	return s.orderRepo.GetByID(ctx, orderID)
}

// CancelOrder cancels an order. An order with a completed, not fully
// refunded payment cannot be cancelled; an active payment is terminated
// before the order transition (cancel-the-payment-then-cancel-the-order
// ordering, enforced under a per-order lock so a racing InitiatePayment
// cannot slip a fresh payment in between).
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, ErrInvalidOrderID
	}

	if s.lockStore != nil {
		ok, err := s.lockStore.AcquireOrderLock(ctx, orderID, orderLockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrOrderLocked
		}
		defer func() {
			if err := s.lockStore.ReleaseOrderLock(ctx, orderID); err != nil {
				log.Printf("order %s: failed to release lock: %v", orderID, err)
			}
		}()
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == domain.OrderStatusCancelled {
		return order, nil
	}

	payments, err := s.paymentRepo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		if p.Status == domain.PaymentStatusCompleted || p.Status == domain.PaymentStatusPartiallyRefunded {
			return nil, ErrOrderNotCancellable
		}
	}

	if err := s.terminateActivePayment(ctx, orderID); err != nil {
		return nil, err
	}

	if err := s.transitionWithRetry(ctx, orderID, order.Status, domain.OrderStatusCancelled); err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.InvalidateOrder(ctx, orderID)
	}

	order, err = s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		_ = s.notifier.NotifyOrderCancelled(ctx, order)
	}

	return order, nil
}

// terminateActivePayment cancels the order's active payment, if any,
// stopping its confirmation poll first. If the payment completed while
// we were cancelling, the order can no longer be cancelled.
func (s *OrderService) terminateActivePayment(ctx context.Context, orderID string) error {
	active, err := s.paymentRepo.GetActiveForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}

	if active.Status == domain.PaymentStatusProcessing && s.watcher != nil {
		s.watcher.Stop(active.ID)
	}

	err = s.paymentRepo.TransitionStatus(ctx, active.ID, active.Status, domain.PaymentStatusCancelled, "order cancelled")
	if errors.Is(err, repository.ErrConflict) {
		payment, gerr := s.paymentRepo.GetByID(ctx, active.ID)
		if gerr != nil {
			return gerr
		}
		switch payment.Status {
		case domain.PaymentStatusCompleted, domain.PaymentStatusPartiallyRefunded, domain.PaymentStatusRefunded:
			return ErrOrderNotCancellable
		case domain.PaymentStatusPending, domain.PaymentStatusProcessing:
			err = s.paymentRepo.TransitionStatus(ctx, active.ID, payment.Status, domain.PaymentStatusCancelled, "order cancelled")
		default:
			// Already terminal some other way; nothing to do.
			err = nil
		}
	}
	if err != nil {
		return err
	}

	if s.cache != nil {
		_ = s.cache.InvalidatePayment(ctx, active.ID)
	}

	return nil
}

// transitionWithRetry runs a compare-and-transition and, on a lost
// optimistic-concurrency race, retries exactly once with a fresh read
// before surfacing the error.
func (s *OrderService) transitionWithRetry(ctx context.Context, orderID string, expected, target domain.OrderStatus) error {
	err := s.orderRepo.CompareAndTransition(ctx, orderID, expected, target)
	if !errors.Is(err, repository.ErrConflict) {
		return err
	}

	order, gerr := s.orderRepo.GetByID(ctx, orderID)
	if gerr != nil {
		return gerr
	}
	if order.Status == target {
		return nil
	}

	return s.orderRepo.CompareAndTransition(ctx, orderID, order.Status, target)
}

func orderToCache(o *domain.Order) *redis.CachedOrder {
	return &redis.CachedOrder{
		ID:         o.ID,
		DemandID:   o.DemandID,
		JourneyID:  o.JourneyID,
		DemanderID: o.DemanderID,
		TravelerID: o.TravelerID,
		Price:      o.Price.String(),
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  o.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func orderFromCache(c *redis.CachedOrder) (*domain.Order, bool) {
	price, err := decimal.NewFromString(c.Price)
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
	return &domain.Order{
		ID:         c.ID,
		DemandID:   c.DemandID,
		JourneyID:  c.JourneyID,
		DemanderID: c.DemanderID,
		TravelerID: c.TravelerID,
		Price:      price,
		Status:     domain.OrderStatus(c.Status),
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, true
}
