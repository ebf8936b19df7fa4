package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"delivery/internal/domain"
)

// ReceiptService builds payment receipts.
type ReceiptService struct {
	notificationService *NotificationService
}

// NewReceiptService creates a new ReceiptService.
func NewReceiptService(notificationService *NotificationService) *ReceiptService {
	return &ReceiptService{notificationService: notificationService}
}

// GenerateReceiptRequest contains the parameters for generating a receipt.
type GenerateReceiptRequest struct {
	Order   *domain.Order
	Payment *domain.Payment
}

// GenerateReceipt builds a receipt for a completed payment and notifies
// the payer.
func (s *ReceiptService) GenerateReceipt(ctx context.Context, req GenerateReceiptRequest) (*domain.Receipt, error) {
	receipt := &domain.Receipt{
		ID:             uuid.New().String(),
		OrderID:        req.Order.ID,
		PaymentID:      req.Payment.ID,
		PayerID:        req.Payment.PayerID,
		ReceiverID:     req.Payment.ReceiverID,
		Amount:         req.Payment.Amount,
		Method:         req.Payment.Method,
		TransactionRef: req.Payment.TransactionRef,
		IssuedAt:       time.Now(),
	}

	if s.notificationService != nil {
		_ = s.notificationService.NotifyReceiptReady(ctx, receipt)
	}

	return receipt, nil
}
