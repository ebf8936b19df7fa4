package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"delivery/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationPaymentCompleted       NotificationType = "PAYMENT_COMPLETED"
	NotificationPaymentFailed          NotificationType = "PAYMENT_FAILED"
	NotificationPaymentExpired         NotificationType = "PAYMENT_EXPIRED"
	NotificationPaymentRefunded        NotificationType = "PAYMENT_REFUNDED"
	NotificationOrderCancelled         NotificationType = "ORDER_CANCELLED"
	NotificationReceiptReady           NotificationType = "RECEIPT_READY"
	NotificationReconciliationRequired NotificationType = "RECONCILIATION_REQUIRED"
)

// Notification represents a notification to be sent.
type Notification struct {
	ID          string
	Type        NotificationType
	RecipientID string
	Title       string
	Message     string
	Data        map[string]interface{}
	CreatedAt   time.Time
}

// NotificationService handles notification delivery. Delivery is
// best-effort; a failed notification never rolls back a state
// transition.
type NotificationService struct {
	// In a real system, this would have:
	// - Push notification client (FCM, APNS)
	// - SMS client (Twilio)
	// - Email client (SendGrid)
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService() *NotificationService {
	return &NotificationService{}
}

// NotifyPaymentCompleted notifies the payer of a completed payment.
func (s *NotificationService) NotifyPaymentCompleted(ctx context.Context, payment *domain.Payment) error {
	notification := Notification{
		Type:        NotificationPaymentCompleted,
		RecipientID: payment.PayerID,
		Title:       "Payment Completed",
		Message:     fmt.Sprintf("Payment of %s was completed", payment.Amount.StringFixed(2)),
		Data: map[string]interface{}{
			"payment_id": payment.ID,
			"order_id":   payment.OrderID,
			"amount":     payment.Amount.String(),
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// NotifyPaymentFailed notifies the payer of a failed payment.
func (s *NotificationService) NotifyPaymentFailed(ctx context.Context, payment *domain.Payment, reason string) error {
	notification := Notification{
		Type:        NotificationPaymentFailed,
		RecipientID: payment.PayerID,
		Title:       "Payment Failed",
		Message:     fmt.Sprintf("Payment of %s failed. Please try again.", payment.Amount.StringFixed(2)),
		Data: map[string]interface{}{
			"payment_id": payment.ID,
			"order_id":   payment.OrderID,
			"reason":     reason,
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// NotifyPaymentExpired notifies the payer that a pending payment was
// never confirmed by the gateway.
func (s *NotificationService) NotifyPaymentExpired(ctx context.Context, payment *domain.Payment) error {
	notification := Notification{
		Type:        NotificationPaymentExpired,
		RecipientID: payment.PayerID,
		Title:       "Payment Expired",
		Message:     "Your payment was not confirmed in time. You can start a new payment.",
		Data: map[string]interface{}{
			"payment_id": payment.ID,
			"order_id":   payment.OrderID,
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// NotifyPaymentRefunded notifies the payer of a refund.
func (s *NotificationService) NotifyPaymentRefunded(ctx context.Context, payment *domain.Payment, refund *domain.Refund) error {
	notification := Notification{
		Type:        NotificationPaymentRefunded,
		RecipientID: payment.PayerID,
		Title:       "Refund Issued",
		Message:     fmt.Sprintf("A refund of %s was issued", refund.Amount.StringFixed(2)),
		Data: map[string]interface{}{
			"payment_id": payment.ID,
			"refund_id":  refund.ID,
			"amount":     refund.Amount.String(),
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// NotifyOrderCancelled notifies both parties about order cancellation.
func (s *NotificationService) NotifyOrderCancelled(ctx context.Context, order *domain.Order) error {
	for _, recipientID := range []string{order.DemanderID, order.TravelerID} {
		if recipientID == "" {
			continue
		}
		notification := Notification{
			Type:        NotificationOrderCancelled,
			RecipientID: recipientID,
			Title:       "Order Cancelled",
			Message:     "The delivery order has been cancelled",
			Data: map[string]interface{}{
				"order_id": order.ID,
			},
			CreatedAt: time.Now(),
		}
		s.send(ctx, notification)
	}
	return nil
}

// NotifyReceiptReady notifies the payer that the receipt is ready.
func (s *NotificationService) NotifyReceiptReady(ctx context.Context, receipt *domain.Receipt) error {
	notification := Notification{
		Type:        NotificationReceiptReady,
		RecipientID: receipt.PayerID,
		Title:       "Receipt Ready",
		Message:     fmt.Sprintf("Your receipt for %s is ready", receipt.Amount.StringFixed(2)),
		Data: map[string]interface{}{
			"receipt_id": receipt.ID,
			"order_id":   receipt.OrderID,
			"payment_id": receipt.PaymentID,
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// NotifyReconciliationRequired alerts an operator that a payment
// completed against an order that was cancelled through another path.
// The money was collected but the order will not be fulfilled; an
// operator decides between refund and reinstatement.
func (s *NotificationService) NotifyReconciliationRequired(ctx context.Context, order *domain.Order, paymentID string) error {
	notification := Notification{
		Type:        NotificationReconciliationRequired,
		RecipientID: "operations",
		Title:       "Reconciliation Required",
		Message:     fmt.Sprintf("Payment %s completed against cancelled order %s", paymentID, order.ID),
		Data: map[string]interface{}{
			"order_id":   order.ID,
			"payment_id": paymentID,
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// send delivers a notification (mock implementation).
func (s *NotificationService) send(ctx context.Context, notification Notification) error {
	// In a real implementation, this would:
	// 1. Store notification in database
	// 2. Send push notification via FCM/APNS
	// 3. Send email/SMS if enabled

	log.Printf("[NOTIFICATION] Type=%s, Recipient=%s, Title=%s, Message=%s",
		notification.Type, notification.RecipientID, notification.Title, notification.Message)

	return nil
}
