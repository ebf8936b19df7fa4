package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"delivery/internal/repository"
	"delivery/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidOrderID),
		errors.Is(err, service.ErrInvalidPaymentID),
		errors.Is(err, service.ErrInvalidPayerID),
		errors.Is(err, service.ErrInvalidReceiverID),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidPrice),
		errors.Is(err, service.ErrInvalidParticipants),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrInvalidTargetStatus):
		return http.StatusBadRequest

	// Conflict errors - the request is well-formed but the entity's
	// current state does not allow it
	case errors.Is(err, service.ErrInvalidOrderState),
		errors.Is(err, service.ErrOrderNotCancellable),
		errors.Is(err, service.ErrOrderLocked),
		errors.Is(err, repository.ErrDuplicateActivePayment),
		errors.Is(err, repository.ErrInvalidTransition),
		errors.Is(err, repository.ErrConflict):
		return http.StatusConflict

	// Business rule errors
	case errors.Is(err, service.ErrAmountExceedsPrice),
		errors.Is(err, repository.ErrOverRefund),
		errors.Is(err, repository.ErrNotRefundable):
		return http.StatusUnprocessableEntity

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
