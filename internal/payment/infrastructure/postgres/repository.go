package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecommerce/payment-service/internal/payment/application"
	"github.com/ecommerce/payment-service/internal/payment/domain"
)

const paymentColumns = `id, order_id, amount_cents, currency, method, status,
	transaction_id, payment_intent_id, provider_response, error_message,
	created_at, updated_at, authorized_at, captured_at, refunded_at`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// EnsureSchema creates the payments and refunds tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
			currency TEXT NOT NULL,
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			transaction_id TEXT UNIQUE,
			payment_intent_id TEXT UNIQUE,
			provider_response JSONB,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			authorized_at TIMESTAMPTZ,
			captured_at TIMESTAMPTZ,
			refunded_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS payments_order_id_idx ON payments (order_id);
		CREATE INDEX IF NOT EXISTS payments_status_idx ON payments (status);

		CREATE TABLE IF NOT EXISTS refunds (
			id TEXT PRIMARY KEY,
			payment_id TEXT NOT NULL REFERENCES payments (id),
			refund_id TEXT NOT NULL UNIQUE,
			amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS refunds_payment_id_idx ON refunds (payment_id);
	`)
	return err
}

func (r *Repository) Create(ctx context.Context, orderID string, amountCents int64, currency domain.Currency, method domain.Method) (domain.Payment, error) {
	now := time.Now().UTC()
	p := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		AmountCents: amountCents,
		Currency:    currency,
		Method:      method,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := r.pool.Exec(ctx, `INSERT INTO payments (id, order_id, amount_cents, currency, method, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.OrderID, p.AmountCents, string(p.Currency), string(p.Method), string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.Payment{}, err
	}

	r.log.Info("payment record created", "payment_id", p.ID, "order_id", orderID)
	return p, nil
}

// Transition applies a single conditional UPDATE. With a non-nil `from` the
// row only moves when its current status is still in `from`; losing that
// race yields domain.ErrStaleStatus carrying the status that won.
func (r *Repository) Transition(ctx context.Context, paymentID string, from []domain.Status, to domain.Status, fields application.TransitionFields) (domain.Payment, error) {
	var fromList []string
	if from != nil {
		fromList = make([]string, 0, len(from))
		for _, s := range from {
			fromList = append(fromList, string(s))
		}
	}

	row := r.pool.QueryRow(ctx, `UPDATE payments SET
			status = $2,
			transaction_id = COALESCE($3, transaction_id),
			payment_intent_id = COALESCE($4, payment_intent_id),
			provider_response = COALESCE($5, provider_response),
			error_message = COALESCE($6, error_message),
			authorized_at = COALESCE($7, authorized_at),
			captured_at = COALESCE($8, captured_at),
			refunded_at = COALESCE($9, refunded_at),
			updated_at = $10
		WHERE id = $1 AND ($11::text[] IS NULL OR status = ANY($11))
		RETURNING `+paymentColumns,
		paymentID, string(to),
		nullIfEmpty(fields.TransactionID), nullIfEmpty(fields.PaymentIntentID),
		fields.ProviderResponse, nullIfEmpty(fields.ErrorMessage),
		fields.AuthorizedAt, fields.CapturedAt, fields.RefundedAt,
		time.Now().UTC(), fromList)

	p, err := scanPayment(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, err
	}

	// No row updated: the id is unknown, or the status guard lost a race.
	var current string
	err = r.pool.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1`, paymentID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Payment{}, err
	}
	return domain.Payment{}, fmt.Errorf("%w: status %s", domain.ErrStaleStatus, current)
}

// AddRefund appends a refund row and moves the payment to REFUNDED or
// PARTIALLY_REFUNDED based on the cumulative refunded sum. The payment row
// is locked for the duration of the transaction so concurrent refunds
// serialize and never double-count.
func (r *Repository) AddRefund(ctx context.Context, paymentID, gatewayRefundID string, amountCents int64, reason string) (domain.Payment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Payment{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var total int64
	var status string
	err = tx.QueryRow(ctx, `SELECT amount_cents, status FROM payments WHERE id = $1 FOR UPDATE`, paymentID).
		Scan(&total, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Payment{}, err
	}
	if !domain.Status(status).Refundable() {
		return domain.Payment{}, fmt.Errorf("%w: status %s", domain.ErrStaleStatus, status)
	}

	var refunded int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount_cents), 0) FROM refunds WHERE payment_id = $1`, paymentID).
		Scan(&refunded); err != nil {
		return domain.Payment{}, err
	}
	if refunded+amountCents > total {
		return domain.Payment{}, fmt.Errorf("%w: requested %d, refundable %d", domain.ErrOverRefund, amountCents, total-refunded)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `INSERT INTO refunds (id, payment_id, refund_id, amount_cents, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.NewString(), paymentID, gatewayRefundID, amountCents, nullIfEmpty(reason), now)
	if err != nil {
		return domain.Payment{}, err
	}

	newStatus := domain.StatusPartiallyRefunded
	var refundedAt *time.Time
	if refunded+amountCents == total {
		newStatus = domain.StatusRefunded
		refundedAt = &now
	}

	row := tx.QueryRow(ctx, `UPDATE payments SET
			status = $2,
			refunded_at = COALESCE($3, refunded_at),
			updated_at = $4
		WHERE id = $1
		RETURNING `+paymentColumns,
		paymentID, string(newStatus), refundedAt, now)

	p, err := scanPayment(row)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Payment{}, err
	}

	r.log.Info("refund recorded", "payment_id", paymentID, "refund_id", gatewayRefundID, "status", p.Status)
	return p, nil
}

func (r *Repository) RefundedCents(ctx context.Context, paymentID string) (int64, error) {
	var refunded int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount_cents), 0) FROM refunds WHERE payment_id = $1`, paymentID).
		Scan(&refunded)
	return refunded, err
}

func (r *Repository) ListRefunds(ctx context.Context, paymentID string) ([]domain.Refund, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, payment_id, refund_id, amount_cents, reason, created_at
		FROM refunds WHERE payment_id = $1 ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		var rf domain.Refund
		var reason *string
		if err := rows.Scan(&rf.ID, &rf.PaymentID, &rf.RefundID, &rf.AmountCents, &reason, &rf.CreatedAt); err != nil {
			return nil, err
		}
		if reason != nil {
			rf.Reason = *reason
		}
		refunds = append(refunds, rf)
	}
	return refunds, rows.Err()
}

func (r *Repository) GetByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	return r.getBy(ctx, "id", paymentID)
}

func (r *Repository) GetByOrderID(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.getBy(ctx, "order_id", orderID)
}

func (r *Repository) GetByTransactionID(ctx context.Context, transactionID string) (domain.Payment, error) {
	return r.getBy(ctx, "transaction_id", transactionID)
}

func (r *Repository) getBy(ctx context.Context, column, value string) (domain.Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+column+` = $1`, value)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, domain.ErrNotFound
	}
	return p, err
}

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var p domain.Payment
	var currency, method, status string
	var txID, intentID, errMsg *string
	if err := row.Scan(&p.ID, &p.OrderID, &p.AmountCents, &currency, &method, &status,
		&txID, &intentID, &p.ProviderResponse, &errMsg,
		&p.CreatedAt, &p.UpdatedAt, &p.AuthorizedAt, &p.CapturedAt, &p.RefundedAt); err != nil {
		return domain.Payment{}, err
	}
	p.Currency = domain.Currency(currency)
	p.Method = domain.Method(method)
	p.Status = domain.Status(status)
	if txID != nil {
		p.TransactionID = *txID
	}
	if intentID != nil {
		p.PaymentIntentID = *intentID
	}
	if errMsg != nil {
		p.ErrorMessage = *errMsg
	}
	return p, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
