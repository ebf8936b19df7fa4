package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// Cache TTL constants
const (
	OrderCacheTTL   = 10 * time.Second // Order status changes during fulfillment
	PaymentCacheTTL = 5 * time.Minute  // Only terminal payments are cached
)

// Key prefixes
const (
	orderCachePrefix   = "cache:order:"
	paymentCachePrefix = "cache:payment:"
)

// CachedOrder represents a cached order entity.
type CachedOrder struct {
	ID         string `json:"id"`
	DemandID   string `json:"demand_id"`
	JourneyID  string `json:"journey_id"`
	DemanderID string `json:"demander_id"`
	TravelerID string `json:"traveler_id"`
	Price      string `json:"price"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// CachedPayment represents a cached payment entity.
type CachedPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	PayerID          string `json:"payer_id"`
	ReceiverID       string `json:"receiver_id"`
	Amount           string `json:"amount"`
	Method           string `json:"method"`
	Status           string `json:"status"`
	GatewayReference string `json:"gateway_reference,omitempty"`
	TransactionRef   string `json:"transaction_ref,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// GetOrder retrieves an order from cache.
func (s *CacheStore) GetOrder(ctx context.Context, orderID string) (*CachedOrder, error) {
	key := orderCachePrefix + orderID
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var order CachedOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// SetOrder stores an order in cache.
func (s *CacheStore) SetOrder(ctx context.Context, order *CachedOrder) error {
	key := orderCachePrefix + order.ID
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, OrderCacheTTL).Err()
}

// InvalidateOrder removes an order from cache.
func (s *CacheStore) InvalidateOrder(ctx context.Context, orderID string) error {
	key := orderCachePrefix + orderID
	return s.client.Del(ctx, key).Err()
}

// GetPayment retrieves a payment from cache.
func (s *CacheStore) GetPayment(ctx context.Context, paymentID string) (*CachedPayment, error) {
	key := paymentCachePrefix + paymentID
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var payment CachedPayment
	if err := json.Unmarshal(data, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// SetPayment stores a payment in cache.
func (s *CacheStore) SetPayment(ctx context.Context, payment *CachedPayment) error {
	key := paymentCachePrefix + payment.ID
	data, err := json.Marshal(payment)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, PaymentCacheTTL).Err()
}

// InvalidatePayment removes a payment from cache.
func (s *CacheStore) InvalidatePayment(ctx context.Context, paymentID string) error {
	key := paymentCachePrefix + paymentID
	return s.client.Del(ctx, key).Err()
}
