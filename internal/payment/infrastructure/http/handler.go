package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecommerce/payment-service/internal/payment/application"
	"github.com/ecommerce/payment-service/internal/payment/domain"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("payment-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/payments/process", h.processPayment)
	r.Post("/payments/refund", h.refundPayment)
	r.Get("/payments/payment/{id}", h.getPayment)
	r.Get("/payments/payment/{id}/refunds", h.listRefunds)
	r.Get("/payments/order/{orderID}", h.getPaymentByOrder)
	r.Get("/payments/transaction/{transactionID}", h.getPaymentByTransaction)
	r.Get("/health", h.health)

	return r
}

type processPaymentReq struct {
	OrderID       string            `json:"order_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Method        string            `json:"payment_method"`
	MethodDetails map[string]string `json:"payment_method_details,omitempty"`
}

type processPaymentResp struct {
	Success         bool   `json:"success"`
	PaymentID       string `json:"payment_id,omitempty"`
	TransactionID   string `json:"transaction_id,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
}

func (h *Handler) processPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ProcessPayment")
	defer span.End()

	var req processPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	if req.Currency == "" {
		req.Currency = string(domain.CurrencyUSD)
	}
	currency, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	method, err := domain.ParseMethod(req.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amountCents, err := currency.MinorUnits(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.ProcessPayment(ctx, application.ProcessPaymentRequest{
		OrderID:       req.OrderID,
		AmountCents:   amountCents,
		Currency:      currency,
		Method:        method,
		MethodDetails: req.MethodDetails,
	})
	if err != nil {
		h.log.Error("payment processing fault", "order_id", req.OrderID, "err", err)
		writeError(w, http.StatusInternalServerError, "payment processing failed")
		return
	}

	// Business failure is a handled outcome, still 200.
	writeJSON(w, http.StatusOK, processPaymentResp{
		Success:         resp.Success,
		PaymentID:       resp.PaymentID,
		TransactionID:   resp.TransactionID,
		PaymentIntentID: resp.PaymentIntentID,
		Status:          string(resp.Status),
		Error:           resp.Error,
	})
}

type refundReq struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason,omitempty"`
}

type refundResp struct {
	Success  bool            `json:"success"`
	RefundID string          `json:"refund_id,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Status   string          `json:"status,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func (h *Handler) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RefundPayment")
	defer span.End()

	var req refundReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	// Conversion depends on the payment's currency, so resolve the record
	// before touching the amount.
	p, err := h.service.GetPaymentByTransaction(ctx, req.TransactionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusBadRequest, refundResp{
				Amount: req.Amount,
				Error:  err.Error(),
			})
			return
		}
		h.log.Error("payment lookup failed", "transaction_id", req.TransactionID, "err", err)
		writeError(w, http.StatusInternalServerError, "refund processing failed")
		return
	}
	amountCents, err := p.Currency.MinorUnits(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.RefundPayment(ctx, application.RefundRequest{
		TransactionID: req.TransactionID,
		AmountCents:   amountCents,
		Reason:        req.Reason,
	})
	if err != nil {
		if domain.DomainRejected(err) {
			writeJSON(w, http.StatusBadRequest, refundResp{
				Amount: req.Amount,
				Error:  err.Error(),
			})
			return
		}
		h.log.Error("refund processing fault", "transaction_id", req.TransactionID, "err", err)
		writeError(w, http.StatusInternalServerError, "refund processing failed")
		return
	}

	writeJSON(w, http.StatusOK, refundResp{
		Success:  resp.Success,
		RefundID: resp.RefundID,
		Amount:   req.Amount,
		Status:   string(resp.Status),
		Error:    resp.Error,
	})
}

type paymentResp struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Method           string          `json:"payment_method"`
	Status           string          `json:"status"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	PaymentIntentID  string          `json:"payment_intent_id,omitempty"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	AuthorizedAt     *time.Time      `json:"authorized_at,omitempty"`
	CapturedAt       *time.Time      `json:"captured_at,omitempty"`
	RefundedAt       *time.Time      `json:"refunded_at,omitempty"`
}

func toPaymentResp(p domain.Payment) paymentResp {
	return paymentResp{
		ID:               p.ID,
		OrderID:          p.OrderID,
		Amount:           p.Currency.Amount(p.AmountCents),
		Currency:         string(p.Currency),
		Method:           string(p.Method),
		Status:           string(p.Status),
		TransactionID:    p.TransactionID,
		PaymentIntentID:  p.PaymentIntentID,
		ProviderResponse: p.ProviderResponse,
		ErrorMessage:     p.ErrorMessage,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
		AuthorizedAt:     p.AuthorizedAt,
		CapturedAt:       p.CapturedAt,
		RefundedAt:       p.RefundedAt,
	}
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	h.respondPayment(w, r, "GetPayment", func(ctx context.Context) (domain.Payment, error) {
		return h.service.GetPayment(ctx, chi.URLParam(r, "id"))
	})
}

func (h *Handler) getPaymentByOrder(w http.ResponseWriter, r *http.Request) {
	h.respondPayment(w, r, "GetPaymentByOrder", func(ctx context.Context) (domain.Payment, error) {
		return h.service.GetPaymentByOrder(ctx, chi.URLParam(r, "orderID"))
	})
}

func (h *Handler) getPaymentByTransaction(w http.ResponseWriter, r *http.Request) {
	h.respondPayment(w, r, "GetPaymentByTransaction", func(ctx context.Context) (domain.Payment, error) {
		return h.service.GetPaymentByTransaction(ctx, chi.URLParam(r, "transactionID"))
	})
}

func (h *Handler) respondPayment(w http.ResponseWriter, r *http.Request, spanName string, fetch func(context.Context) (domain.Payment, error)) {
	ctx, span := h.tracer.Start(r.Context(), spanName)
	defer span.End()

	p, err := fetch(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}
	if err != nil {
		h.log.Error("payment lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "payment lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResp(p))
}

type refundRow struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	RefundID  string          `json:"refund_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (h *Handler) listRefunds(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListRefunds")
	defer span.End()

	paymentID := chi.URLParam(r, "id")
	p, err := h.service.GetPayment(ctx, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}
	if err != nil {
		h.log.Error("payment lookup failed", "payment_id", paymentID, "err", err)
		writeError(w, http.StatusInternalServerError, "payment lookup failed")
		return
	}

	refunds, err := h.service.ListRefunds(ctx, paymentID)
	if err != nil {
		h.log.Error("refund listing failed", "payment_id", paymentID, "err", err)
		writeError(w, http.StatusInternalServerError, "refund listing failed")
		return
	}

	rows := make([]refundRow, 0, len(refunds))
	for _, rf := range refunds {
		rows = append(rows, refundRow{
			ID:        rf.ID,
			PaymentID: rf.PaymentID,
			RefundID:  rf.RefundID,
			Amount:    p.Currency.Amount(rf.AmountCents),
			Reason:    rf.Reason,
			CreatedAt: rf.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "payment-service",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
