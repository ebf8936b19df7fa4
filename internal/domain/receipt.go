package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt represents a payment receipt issued once a payment completes.
type Receipt struct {
	ID             string
	OrderID        string
	PaymentID      string
	PayerID        string
	ReceiverID     string
	Amount         decimal.Decimal
	Method         PaymentMethod
	TransactionRef string
	IssuedAt       time.Time
}
