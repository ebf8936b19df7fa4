package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the current status of an order.
type OrderStatus string

const (
	OrderStatusCreated        OrderStatus = "CREATED"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusAccepted       OrderStatus = "ACCEPTED"
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusPickedUp       OrderStatus = "PICKED_UP"
	OrderStatusInTransit      OrderStatus = "IN_TRANSIT"
	OrderStatusArrived        OrderStatus = "ARRIVED"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusDisputed       OrderStatus = "DISPUTED"
)

// orderTransitions defines the valid order status transitions.
// The key is the current status, the value is the set of statuses
// reachable from it. COMPLETED and CANCELLED are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:        {OrderStatusConfirmed, OrderStatusAccepted, OrderStatusCancelled},
	OrderStatusConfirmed:      {OrderStatusAccepted, OrderStatusCancelled},
	OrderStatusAccepted:       {OrderStatusPendingPayment, OrderStatusCancelled},
	OrderStatusPendingPayment: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:           {OrderStatusPickedUp, OrderStatusCancelled},
	OrderStatusPickedUp:       {OrderStatusInTransit, OrderStatusCancelled},
	OrderStatusInTransit:      {OrderStatusArrived, OrderStatusCancelled, OrderStatusDisputed},
	OrderStatusArrived:        {OrderStatusDelivered, OrderStatusCancelled, OrderStatusDisputed},
	OrderStatusDelivered:      {OrderStatusCompleted, OrderStatusDisputed},
	OrderStatusDisputed:       {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:      {},
	OrderStatusCancelled:      {},
}

// CanTransitionOrder reports whether an order may move from one status
// to another. Unknown statuses never transition.
func CanTransitionOrder(from, to OrderStatus) bool {
	allowed, ok := orderTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// IsPayable reports whether a payment may be initiated against an order
// in this status.
func (s OrderStatus) IsPayable() bool {
	return s == OrderStatusAccepted || s == OrderStatusPendingPayment
}

// Order represents a matched demand/journey pair with an agreed price,
// tracked through fulfillment stages.
type Order struct {
	ID         string
	DemandID   string
	JourneyID  string
	DemanderID string // payer
	TravelerID string // payee
	Price      decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
