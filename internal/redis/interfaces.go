package redis

import (
	"context"
	"time"
)

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (bool, error)
	ReleaseOrderLock(ctx context.Context, orderID string) error
}

// CacheStoreInterface defines the interface for entity caching.
type CacheStoreInterface interface {
	GetOrder(ctx context.Context, orderID string) (*CachedOrder, error)
	SetOrder(ctx context.Context, order *CachedOrder) error
	InvalidateOrder(ctx context.Context, orderID string) error
	GetPayment(ctx context.Context, paymentID string) (*CachedPayment, error)
	SetPayment(ctx context.Context, payment *CachedPayment) error
	InvalidatePayment(ctx context.Context, paymentID string) error
}

// Ensure concrete types implement interfaces.
var (
	_ LockStoreInterface  = (*LockStore)(nil)
	_ CacheStoreInterface = (*CacheStore)(nil)
)
