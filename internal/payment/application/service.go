package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecommerce/payment-service/internal/payment/domain"
)

const DefaultGatewayTimeout = 30 * time.Second

type ProcessPaymentRequest struct {
	OrderID       string
	AmountCents   int64
	Currency      domain.Currency
	Method        domain.Method
	MethodDetails map[string]string
}

type ProcessPaymentResponse struct {
	Success         bool
	PaymentID       string
	TransactionID   string
	PaymentIntentID string
	Status          domain.Status
	Error           string
}

type RefundRequest struct {
	TransactionID string
	AmountCents   int64
	Reason        string
}

type RefundResponse struct {
	Success     bool
	RefundID    string
	AmountCents int64
	Status      domain.Status
	Error       string
}

// Service drives a payment through its lifecycle, coordinating the record
// store, the gateway and the event publisher. It holds no state across
// requests; correctness under concurrency rests on the store's conditional
// transitions.
type Service struct {
	log            *slog.Logger
	repo           Repository
	gateway        Gateway
	events         EventPublisher
	gatewayTimeout time.Duration
}

func NewService(log *slog.Logger, repo Repository, gateway Gateway, events EventPublisher, gatewayTimeout time.Duration) *Service {
	if gatewayTimeout <= 0 {
		gatewayTimeout = DefaultGatewayTimeout
	}
	return &Service{
		log:            log,
		repo:           repo,
		gateway:        gateway,
		events:         events,
		gatewayTimeout: gatewayTimeout,
	}
}

// ProcessPayment runs the full charge flow: PENDING record, PROCESSING,
// gateway authorize+capture, then CAPTURED or FAILED plus one event. A
// declined gateway call is a handled outcome, not an error; only a
// persistence fault before any record exists escapes as an error.
func (s *Service) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (ProcessPaymentResponse, error) {
	if req.AmountCents <= 0 {
		return ProcessPaymentResponse{}, fmt.Errorf("%w: %d cents", domain.ErrInvalidAmount, req.AmountCents)
	}

	p, err := s.repo.Create(ctx, req.OrderID, req.AmountCents, req.Currency, req.Method)
	if err != nil {
		return ProcessPaymentResponse{}, fmt.Errorf("create payment record: %w", err)
	}
	paymentID := p.ID
	log := s.log.With("payment_id", paymentID, "order_id", p.OrderID)
	log.Info("processing payment", "amount_cents", p.AmountCents, "currency", p.Currency)

	p, err = s.repo.Transition(ctx, paymentID, []domain.Status{domain.StatusPending}, domain.StatusProcessing, TransitionFields{})
	if err != nil {
		return s.abortPayment(ctx, log, paymentID, fmt.Errorf("mark processing: %w", err)), nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	result, gwErr := s.gateway.Process(gctx, req.AmountCents, req.Currency, req.Method, req.MethodDetails)
	cancel()

	if gwErr != nil {
		// Declines and timeouts land here; both are recorded and reported
		// the same way.
		msg := gwErr.Error()
		var raw json.RawMessage
		var gerr *domain.GatewayError
		if errors.As(gwErr, &gerr) {
			msg = gerr.Message
			raw = gerr.Response
		}

		p, err = s.repo.Transition(ctx, paymentID, []domain.Status{domain.StatusProcessing}, domain.StatusFailed, TransitionFields{
			ErrorMessage:     msg,
			ProviderResponse: raw,
		})
		if err != nil {
			return s.abortPayment(ctx, log, paymentID, fmt.Errorf("record gateway failure: %w", err)), nil
		}

		s.events.PaymentFailed(ctx, p, msg)
		log.Warn("payment declined", "error", msg)
		return ProcessPaymentResponse{
			PaymentID: paymentID,
			Status:    domain.StatusFailed,
			Error:     msg,
		}, nil
	}

	now := time.Now().UTC()
	p, err = s.repo.Transition(ctx, paymentID, []domain.Status{domain.StatusProcessing}, domain.StatusCaptured, TransitionFields{
		TransactionID:    result.TransactionID,
		PaymentIntentID:  result.PaymentIntentID,
		ProviderResponse: result.Response,
		AuthorizedAt:     &now,
		CapturedAt:       &now,
	})
	if err != nil {
		// The gateway captured the charge but the store update failed. The
		// charge now exists with no local record of success; reconciliation
		// happens out of band.
		log.Error("charge captured at gateway but store update failed",
			"transaction_id", result.TransactionID, "error", err)
		return s.abortPayment(ctx, log, paymentID, fmt.Errorf("record capture: %w", err)), nil
	}

	s.events.PaymentSuccessful(ctx, p)
	log.Info("payment captured", "transaction_id", p.TransactionID)
	return ProcessPaymentResponse{
		Success:         true,
		PaymentID:       paymentID,
		TransactionID:   p.TransactionID,
		PaymentIntentID: p.PaymentIntentID,
		Status:          p.Status,
	}, nil
}

// abortPayment marks the record FAILED on a best-effort basis after an
// unexpected fault mid-flow and builds the structured failure outcome.
func (s *Service) abortPayment(ctx context.Context, log *slog.Logger, paymentID string, cause error) ProcessPaymentResponse {
	msg := cause.Error()
	if _, err := s.repo.Transition(context.WithoutCancel(ctx), paymentID, nil, domain.StatusFailed, TransitionFields{ErrorMessage: msg}); err != nil {
		log.Error("could not record payment failure", "error", err, "cause", msg)
	}
	return ProcessPaymentResponse{
		PaymentID: paymentID,
		Status:    domain.StatusFailed,
		Error:     msg,
	}
}

// RefundPayment refunds part or all of a captured payment. Domain
// rejections (unknown transaction, non-refundable status, over-refund) are
// returned as errors satisfying domain.DomainRejected and never reach the
// gateway. A gateway decline leaves the record untouched.
func (s *Service) RefundPayment(ctx context.Context, req RefundRequest) (RefundResponse, error) {
	resp := RefundResponse{AmountCents: req.AmountCents}

	if req.AmountCents <= 0 {
		return resp, fmt.Errorf("%w: %d cents", domain.ErrInvalidAmount, req.AmountCents)
	}

	p, err := s.repo.GetByTransactionID(ctx, req.TransactionID)
	if err != nil {
		return resp, err
	}
	log := s.log.With("payment_id", p.ID, "transaction_id", req.TransactionID)

	if !p.Status.Refundable() {
		log.Warn("refund rejected", "status", p.Status)
		return resp, fmt.Errorf("%w: status %s", domain.ErrNotRefundable, p.Status)
	}

	refunded, err := s.repo.RefundedCents(ctx, p.ID)
	if err != nil {
		return resp, fmt.Errorf("sum refunds: %w", err)
	}
	if refunded+req.AmountCents > p.AmountCents {
		log.Warn("over-refund rejected", "requested_cents", req.AmountCents, "refundable_cents", p.AmountCents-refunded)
		return resp, fmt.Errorf("%w: requested %d, refundable %d", domain.ErrOverRefund, req.AmountCents, p.AmountCents-refunded)
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	result, gwErr := s.gateway.Refund(gctx, req.TransactionID, req.AmountCents, req.Reason)
	cancel()

	if gwErr != nil {
		msg := gwErr.Error()
		var gerr *domain.GatewayError
		if errors.As(gwErr, &gerr) {
			msg = gerr.Message
		}
		log.Warn("gateway refund failed", "error", msg)
		resp.Error = msg
		return resp, nil
	}

	p, err = s.repo.AddRefund(ctx, p.ID, result.RefundID, req.AmountCents, req.Reason)
	if err != nil {
		// The gateway refund already went through; an append rejection here
		// means a concurrent refund won the race. The gateway-side money
		// movement is left to reconciliation.
		log.Error("gateway refund succeeded but refund append failed",
			"refund_id", result.RefundID, "error", err)
		return resp, err
	}

	s.events.PaymentRefunded(ctx, p, result.RefundID, req.AmountCents)
	log.Info("refund processed", "refund_id", result.RefundID, "status", p.Status)
	return RefundResponse{
		Success:     true,
		RefundID:    result.RefundID,
		AmountCents: req.AmountCents,
		Status:      p.Status,
	}, nil
}

func (s *Service) GetPayment(ctx context.Context, paymentID string) (domain.Payment, error) {
	return s.repo.GetByID(ctx, paymentID)
}

func (s *Service) GetPaymentByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	return s.repo.GetByOrderID(ctx, orderID)
}

func (s *Service) GetPaymentByTransaction(ctx context.Context, transactionID string) (domain.Payment, error) {
	return s.repo.GetByTransactionID(ctx, transactionID)
}

func (s *Service) ListRefunds(ctx context.Context, paymentID string) ([]domain.Refund, error) {
	return s.repo.ListRefunds(ctx, paymentID)
}
