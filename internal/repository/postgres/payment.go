package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"delivery/internal/domain"
	"delivery/internal/repository"
)

const paymentColumns = `id, order_id, payer_id, receiver_id, amount, method, status, gateway_reference, transaction_ref, failure_reason, created_at, updated_at`

// PaymentRepository is a PostgreSQL implementation of repository.PaymentRepository.
type PaymentRepository struct {
	q  Querier
	db *sql.DB
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{q: db, db: db}
}

// NewPaymentRepositoryWithTx creates a payment repository using a transaction.
// AddRefund is not available on a transaction-scoped repository.
func NewPaymentRepositoryWithTx(tx *sql.Tx) *PaymentRepository {
	return &PaymentRepository{q: tx}
}

// Create persists a new payment. The insert is conditional on the order
// having no payment in PENDING or PROCESSING, which makes this the
// enforcement point for the at-most-one-active-payment invariant: two
// racing inserts serialize on the row scan and the loser affects zero rows.
func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		WHERE NOT EXISTS (
			SELECT 1 FROM payments
			WHERE order_id = $2 AND status IN ('PENDING', 'PROCESSING')
		)
	`

	now := time.Now()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	result, err := r.q.ExecContext(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.PayerID,
		payment.ReceiverID,
		payment.Amount,
		payment.Method,
		payment.Status,
		nullString(payment.GatewayReference),
		nullString(payment.TransactionRef),
		nullString(payment.FailureReason),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrDuplicateActivePayment
	}

	return nil
}

// GetByID retrieves a payment by ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	payment, err := scanPayment(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return payment, nil
}

// GetActiveForOrder retrieves the single non-terminal payment for an
// order. Returns nil if no active payment exists.
func (r *PaymentRepository) GetActiveForOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + ` FROM payments
		WHERE order_id = $1 AND status IN ('PENDING', 'PROCESSING')
	`

	payment, err := scanPayment(r.q.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return payment, nil
}

// ListByOrder retrieves all payments for an order.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at`
	return r.list(ctx, query, orderID)
}

// ListByStatus retrieves all payments in the given status.
func (r *PaymentRepository) ListByStatus(ctx context.Context, status domain.PaymentStatus) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE status = $1 ORDER BY created_at`
	return r.list(ctx, query, status)
}

func (r *PaymentRepository) list(ctx context.Context, query string, arg any) ([]*domain.Payment, error) {
	rows, err := r.q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}

	return payments, rows.Err()
}

// TransitionStatus moves the payment from expected to target status,
// recording the failure reason when one is given.
func (r *PaymentRepository) TransitionStatus(ctx context.Context, id string, expected, target domain.PaymentStatus, reason string) error {
	query := `
		UPDATE payments SET status = $1, failure_reason = COALESCE(NULLIF($2, ''), failure_reason), updated_at = $3
		WHERE id = $4 AND status = $5
	`
	return r.casUpdate(ctx, id, query, target, reason, time.Now(), id, expected)
}

// MarkProcessing moves a PENDING payment to PROCESSING and records the
// gateway reference used for confirmation polling.
func (r *PaymentRepository) MarkProcessing(ctx context.Context, id, gatewayRef string) error {
	query := `
		UPDATE payments SET status = $1, gateway_reference = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	return r.casUpdate(ctx, id, query,
		domain.PaymentStatusProcessing, gatewayRef, time.Now(), id, domain.PaymentStatusPending)
}

// MarkCompleted moves the payment from expected to COMPLETED and records
// the gateway transaction reference.
func (r *PaymentRepository) MarkCompleted(ctx context.Context, id string, expected domain.PaymentStatus, transactionRef string) error {
	query := `
		UPDATE payments SET status = $1, transaction_ref = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	return r.casUpdate(ctx, id, query,
		domain.PaymentStatusCompleted, transactionRef, time.Now(), id, expected)
}

// casUpdate runs a conditional update and maps an unmatched row to
// ErrNotFound or ErrConflict.
func (r *PaymentRepository) casUpdate(ctx context.Context, id, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return repository.ErrConflict
	}

	return nil
}

// AddRefund persists a refund and re-derives the payment status from
// the sum of completed refunds, all inside one transaction holding a
// row lock on the payment.
func (r *PaymentRepository) AddRefund(ctx context.Context, refund *domain.Refund) error {
	if r.db == nil {
		return errors.New("AddRefund requires a non-transactional repository")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Lock the payment row so concurrent refunds serialize.
	var status domain.PaymentStatus
	var amount decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT status, amount FROM payments WHERE id = $1 FOR UPDATE`,
		refund.PaymentID,
	).Scan(&status, &amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repository.ErrNotFound
		}
		return err
	}

	if status != domain.PaymentStatusCompleted && status != domain.PaymentStatusPartiallyRefunded {
		err = repository.ErrNotRefundable
		return err
	}

	var refunded decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = $1 AND status = 'COMPLETED'`,
		refund.PaymentID,
	).Scan(&refunded)
	if err != nil {
		return err
	}

	if refund.Status == domain.RefundStatusCompleted && refunded.Add(refund.Amount).GreaterThan(amount) {
		err = repository.ErrOverRefund
		return err
	}

	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO refunds (id, payment_id, amount, reason, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		refund.ID,
		refund.PaymentID,
		refund.Amount,
		nullString(refund.Reason),
		refund.Status,
		refund.CreatedAt,
	)
	if err != nil {
		return err
	}

	// Derive the payment status from the refund sum. Failed refunds do
	// not count toward the balance and leave the status untouched.
	if refund.Status == domain.RefundStatusCompleted {
		newStatus := domain.PaymentStatusPartiallyRefunded
		if refunded.Add(refund.Amount).Equal(amount) {
			newStatus = domain.PaymentStatusRefunded
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE payments SET status = $1, updated_at = $2 WHERE id = $3`,
			newStatus, time.Now(), refund.PaymentID,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListRefunds retrieves all refunds recorded against a payment.
func (r *PaymentRepository) ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	query := `
		SELECT id, payment_id, amount, reason, status, created_at
		FROM refunds WHERE payment_id = $1 ORDER BY created_at
	`

	rows, err := r.q.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []*domain.Refund
	for rows.Next() {
		var refund domain.Refund
		var reason sql.NullString
		if err := rows.Scan(
			&refund.ID,
			&refund.PaymentID,
			&refund.Amount,
			&reason,
			&refund.Status,
			&refund.CreatedAt,
		); err != nil {
			return nil, err
		}
		refund.Reason = reason.String
		refunds = append(refunds, &refund)
	}

	return refunds, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var payment domain.Payment
	var gatewayRef, transactionRef, failureReason sql.NullString

	err := row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.PayerID,
		&payment.ReceiverID,
		&payment.Amount,
		&payment.Method,
		&payment.Status,
		&gatewayRef,
		&transactionRef,
		&failureReason,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	payment.GatewayReference = gatewayRef.String
	payment.TransactionRef = transactionRef.String
	payment.FailureReason = failureReason.String
	return &payment, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
