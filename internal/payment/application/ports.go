package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ecommerce/payment-service/internal/payment/domain"
)

// TransitionFields is the optional subset of payment fields a status
// transition may set. Zero values leave the stored field untouched.
type TransitionFields struct {
	TransactionID    string
	PaymentIntentID  string
	ProviderResponse json.RawMessage
	ErrorMessage     string
	AuthorizedAt     *time.Time
	CapturedAt       *time.Time
	RefundedAt       *time.Time
}

// Repository is the durable record store for payments and refunds. It is a
// dumb ledger: state-machine legality lives in the Service, the store only
// guarantees atomicity and the conditional-update guard.
type Repository interface {
	Create(ctx context.Context, orderID string, amountCents int64, currency domain.Currency, method domain.Method) (domain.Payment, error)

	// Transition atomically moves a payment to status `to` and applies
	// fields. When `from` is non-nil the update only applies while the
	// current status is in `from`; a mismatch yields ErrStaleStatus.
	Transition(ctx context.Context, paymentID string, from []domain.Status, to domain.Status, fields TransitionFields) (domain.Payment, error)

	// AddRefund appends a refund row and derives the payment's new status
	// from the cumulative refunded sum, all in one atomic step. Returns the
	// updated payment.
	AddRefund(ctx context.Context, paymentID, gatewayRefundID string, amountCents int64, reason string) (domain.Payment, error)

	RefundedCents(ctx context.Context, paymentID string) (int64, error)
	ListRefunds(ctx context.Context, paymentID string) ([]domain.Refund, error)

	GetByID(ctx context.Context, paymentID string) (domain.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (domain.Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (domain.Payment, error)
}

type AuthorizeResult struct {
	PaymentIntentID string
	TransactionID   string
	Response        json.RawMessage
}

type CaptureResult struct {
	TransactionID string
	Response      json.RawMessage
}

type ProcessResult struct {
	PaymentIntentID string
	TransactionID   string
	Response        json.RawMessage
}

type RefundResult struct {
	RefundID string
	Response json.RawMessage
}

// Gateway adapts an external payment provider. Calls are blocking I/O and
// are never retried here; failures come back as *domain.GatewayError.
type Gateway interface {
	Authorize(ctx context.Context, amountCents int64, currency domain.Currency, method domain.Method, details map[string]string) (AuthorizeResult, error)
	Capture(ctx context.Context, paymentIntentID string, amountCents int64) (CaptureResult, error)

	// Process is authorize+capture in one step. An authorize failure is
	// surfaced verbatim and capture is never attempted.
	Process(ctx context.Context, amountCents int64, currency domain.Currency, method domain.Method, details map[string]string) (ProcessResult, error)

	Refund(ctx context.Context, transactionID string, amountCents int64, reason string) (RefundResult, error)
	Void(ctx context.Context, paymentIntentID string) error
}

// EventPublisher emits domain events keyed by payment id. Publication is
// best-effort: implementations log and swallow failures, the committed store
// transition stays authoritative.
type EventPublisher interface {
	PaymentSuccessful(ctx context.Context, p domain.Payment)
	PaymentFailed(ctx context.Context, p domain.Payment, errorMessage string)
	PaymentRefunded(ctx context.Context, p domain.Payment, refundID string, amountCents int64)
}
