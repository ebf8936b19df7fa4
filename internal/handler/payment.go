package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"delivery/internal/domain"
	"delivery/internal/service"
)

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	paymentService *service.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// InitiatePaymentRequest is the HTTP request body for initiating a payment.
type InitiatePaymentRequest struct {
	OrderID       string            `json:"order_id"`
	PayerID       string            `json:"payer_id"`
	ReceiverID    string            `json:"receiver_id"`
	Amount        string            `json:"amount"`
	Method        string            `json:"method"`
	MethodDetails map[string]string `json:"method_details,omitempty"`
}

// RefundRequest is the HTTP request body for refunding a payment.
// A missing amount refunds the full remaining balance.
type RefundRequest struct {
	Amount string `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// PaymentResponse is the HTTP response for payment operations.
// GatewayReference is what a client renders as a QR code while the
// payment is PROCESSING; confirmation is asynchronous and the client
// should poll GET /v1/payments/:id.
type PaymentResponse struct {
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

// RefundResponse is the HTTP response for refund operations.
type RefundResponse struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func toPaymentResponse(payment *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:               payment.ID,
		OrderID:          payment.OrderID,
		PayerID:          payment.PayerID,
		ReceiverID:       payment.ReceiverID,
		Amount:           payment.Amount.String(),
		Method:           string(payment.Method),
		Status:           string(payment.Status),
		GatewayReference: payment.GatewayReference,
		TransactionRef:   payment.TransactionRef,
		FailureReason:    payment.FailureReason,
		CreatedAt:        payment.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        payment.UpdatedAt.Format(time.RFC3339),
	}
}

func toRefundResponse(refund *domain.Refund) RefundResponse {
	return RefundResponse{
		ID:        refund.ID,
		PaymentID: refund.PaymentID,
		Amount:    refund.Amount.String(),
		Reason:    refund.Reason,
		Status:    string(refund.Status),
		CreatedAt: refund.CreatedAt.Format(time.RFC3339),
	}
}

// InitiatePayment handles POST /v1/payments
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "amount must be a decimal number"})
		return
	}

	payment, err := h.paymentService.InitiatePayment(c.Request.Context(), service.InitiatePaymentRequest{
		OrderID:       req.OrderID,
		PayerID:       req.PayerID,
		ReceiverID:    req.ReceiverID,
		Amount:        amount,
		Method:        domain.PaymentMethod(req.Method),
		MethodDetails: req.MethodDetails,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toPaymentResponse(payment))
}

// GetPayment handles GET /v1/payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, err := h.paymentService.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toPaymentResponse(payment))
}

// GetRefunds handles GET /v1/payments/:id/refunds
func (h *PaymentHandler) GetRefunds(c *gin.Context) {
	refunds, err := h.paymentService.GetRefunds(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]RefundResponse, 0, len(refunds))
	for _, refund := range refunds {
		response = append(response, toRefundResponse(refund))
	}

	respondJSON(c, http.StatusOK, response)
}

// RefundPayment handles POST /v1/payments/:id/refund
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	var amount decimal.Decimal
	if req.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "amount must be a decimal number"})
			return
		}
	}

	refund, err := h.paymentService.RefundPayment(c.Request.Context(), service.RefundPaymentRequest{
		PaymentID: c.Param("id"),
		Amount:    amount,
		Reason:    req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toRefundResponse(refund))
}
