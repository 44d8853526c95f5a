package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ecommerce/payment-service/internal/payment/application"
	"github.com/ecommerce/payment-service/internal/payment/domain"
)

var errorMessages = map[string]string{
	"insufficient_funds": "Insufficient funds in account",
	"card_declined":      "Card was declined by issuer",
	"expired_card":       "Card has expired",
	"invalid_card":       "Invalid card number",
	"capture_failed":     "Failed to capture payment",
	"refund_failed":      "Failed to process refund",
}

var declineCodes = []string{"insufficient_funds", "card_declined", "expired_card"}

// Simulator is a provider adapter that mimics Stripe/PayPal semantics
// without calling out anywhere. Outcomes are driven by an injectable random
// source and success rate, so tests pin behavior with WithSuccessRate(1) or
// (0) and a seeded source.
type Simulator struct {
	log         *slog.Logger
	successRate float64
	rng         *rand.Rand
	latency     time.Duration
	now         func() time.Time
}

type Option func(*Simulator)

// WithSuccessRate sets the fraction of gateway calls that succeed, 0 to 1.
func WithSuccessRate(rate float64) Option {
	return func(s *Simulator) { s.successRate = rate }
}

func WithRand(rng *rand.Rand) Option {
	return func(s *Simulator) { s.rng = rng }
}

func WithLatency(d time.Duration) Option {
	return func(s *Simulator) { s.latency = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

func NewSimulator(log *slog.Logger, opts ...Option) *Simulator {
	s := &Simulator{
		log:         log,
		successRate: 0.95,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		latency:     100 * time.Millisecond,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ application.Gateway = (*Simulator)(nil)

func (s *Simulator) Authorize(ctx context.Context, amountCents int64, currency domain.Currency, method domain.Method, details map[string]string) (application.AuthorizeResult, error) {
	s.log.Info("authorizing payment", "amount_cents", amountCents, "method", method)

	if err := s.wait(ctx); err != nil {
		return application.AuthorizeResult{}, err
	}
	if !s.succeeds() {
		code := declineCodes[s.rng.Intn(len(declineCodes))]
		s.log.Warn("authorization failed", "code", code)
		return application.AuthorizeResult{}, s.failure(code)
	}

	intentID := "pi_" + randomHex(24)
	txID := "txn_" + randomHex(16)
	raw, _ := json.Marshal(map[string]any{
		"status":            "authorized",
		"payment_intent_id": intentID,
		"transaction_id":    txID,
		"amount_cents":      amountCents,
		"currency":          currency,
		"authorized_at":     s.now().Format(time.RFC3339Nano),
	})

	s.log.Info("payment authorized", "transaction_id", txID)
	return application.AuthorizeResult{PaymentIntentID: intentID, TransactionID: txID, Response: raw}, nil
}

func (s *Simulator) Capture(ctx context.Context, paymentIntentID string, amountCents int64) (application.CaptureResult, error) {
	s.log.Info("capturing payment", "payment_intent_id", paymentIntentID, "amount_cents", amountCents)

	if err := s.wait(ctx); err != nil {
		return application.CaptureResult{}, err
	}
	if !s.succeeds() {
		s.log.Warn("capture failed", "payment_intent_id", paymentIntentID)
		return application.CaptureResult{}, s.failure("capture_failed")
	}

	txID := "txn_" + randomHex(16)
	raw, _ := json.Marshal(map[string]any{
		"status":            "captured",
		"payment_intent_id": paymentIntentID,
		"transaction_id":    txID,
		"amount_cents":      amountCents,
		"captured_at":       s.now().Format(time.RFC3339Nano),
	})

	s.log.Info("payment captured", "transaction_id", txID)
	return application.CaptureResult{TransactionID: txID, Response: raw}, nil
}

func (s *Simulator) Process(ctx context.Context, amountCents int64, currency domain.Currency, method domain.Method, details map[string]string) (application.ProcessResult, error) {
	auth, err := s.Authorize(ctx, amountCents, currency, method, details)
	if err != nil {
		return application.ProcessResult{}, err
	}

	capture, err := s.Capture(ctx, auth.PaymentIntentID, amountCents)
	if err != nil {
		return application.ProcessResult{}, err
	}

	return application.ProcessResult{
		PaymentIntentID: auth.PaymentIntentID,
		TransactionID:   capture.TransactionID,
		Response:        capture.Response,
	}, nil
}

func (s *Simulator) Refund(ctx context.Context, transactionID string, amountCents int64, reason string) (application.RefundResult, error) {
	s.log.Info("processing refund", "transaction_id", transactionID, "amount_cents", amountCents, "reason", reason)

	if err := s.wait(ctx); err != nil {
		return application.RefundResult{}, err
	}
	if !s.succeeds() {
		s.log.Warn("refund failed", "transaction_id", transactionID)
		return application.RefundResult{}, s.failure("refund_failed")
	}

	refundID := "re_" + randomHex(16)
	raw, _ := json.Marshal(map[string]any{
		"status":         "refunded",
		"refund_id":      refundID,
		"transaction_id": transactionID,
		"amount_cents":   amountCents,
		"refunded_at":    s.now().Format(time.RFC3339Nano),
	})

	s.log.Info("refund processed", "refund_id", refundID)
	return application.RefundResult{RefundID: refundID, Response: raw}, nil
}

func (s *Simulator) Void(ctx context.Context, paymentIntentID string) error {
	s.log.Info("voiding authorization", "payment_intent_id", paymentIntentID)
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.log.Info("authorization voided", "payment_intent_id", paymentIntentID)
	return nil
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Simulator) succeeds() bool {
	return s.rng.Float64() < s.successRate
}

func (s *Simulator) failure(code string) *domain.GatewayError {
	msg, ok := errorMessages[code]
	if !ok {
		msg = "Payment processing error"
	}
	raw, _ := json.Marshal(map[string]any{
		"status":        "failed",
		"error_code":    code,
		"error_message": msg,
	})
	return &domain.GatewayError{Code: code, Message: msg, Response: raw}
}

func randomHex(n int) string {
	id := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	if n > len(id) {
		n = len(id)
	}
	return id[:n]
}
