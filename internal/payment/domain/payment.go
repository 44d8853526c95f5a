package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusAuthorized        Status = "authorized"
	StatusCaptured          Status = "captured"
	StatusFailed            Status = "failed"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// Refundable reports whether a payment in this status may accept a refund.
func (s Status) Refundable() bool {
	return s == StatusCaptured || s == StatusPartiallyRefunded
}

// Terminal reports whether no further transitions are allowed from this status.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

type Method string

const (
	MethodCreditCard Method = "credit_card"
	MethodDebitCard  Method = "debit_card"
	MethodPayPal     Method = "paypal"
	MethodStripe     Method = "stripe"
)

func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodCreditCard, MethodDebitCard, MethodPayPal, MethodStripe:
		return Method(s), nil
	}
	return "", fmt.Errorf("unsupported payment method %q", s)
}

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

func ParseCurrency(s string) (Currency, error) {
	switch Currency(s) {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return Currency(s), nil
	}
	return "", fmt.Errorf("unsupported currency %q", s)
}

// All supported currencies carry two fractional digits.
func (c Currency) exponent() int32 { return 2 }

// MinorUnits converts a decimal amount into the currency's integer minor
// units. Amounts with sub-minor-unit precision are rejected rather than
// rounded, so refund sums never drift.
func (c Currency) MinorUnits(d decimal.Decimal) (int64, error) {
	scaled := d.Shift(c.exponent())
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %s exceeds %s precision", ErrInvalidAmount, d, c)
	}
	if !scaled.IsPositive() {
		return 0, fmt.Errorf("%w: must be positive, got %s", ErrInvalidAmount, d)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, d)
	}
	return scaled.IntPart(), nil
}

// Amount renders minor units back as a decimal amount.
func (c Currency) Amount(cents int64) decimal.Decimal {
	return decimal.New(cents, -c.exponent())
}

// Payment is the authoritative record of one charge attempt against an
// order. The record store owns it; only the orchestrator mutates it, and it
// is never deleted.
type Payment struct {
	ID               string
	OrderID          string
	AmountCents      int64
	Currency         Currency
	Method           Method
	Status           Status
	TransactionID    string
	PaymentIntentID  string
	ProviderResponse json.RawMessage
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	AuthorizedAt     *time.Time
	CapturedAt       *time.Time
	RefundedAt       *time.Time
}

// Refund is an append-only row recording one gateway-confirmed refund
// against a payment.
type Refund struct {
	ID          string
	PaymentID   string
	RefundID    string
	AmountCents int64
	Reason      string
	CreatedAt   time.Time
}

var (
	ErrNotFound      = errors.New("payment not found")
	ErrNotRefundable = errors.New("payment not refundable")
	ErrOverRefund    = errors.New("refund exceeds refundable amount")
	ErrStaleStatus   = errors.New("payment status changed concurrently")
	ErrInvalidAmount = errors.New("invalid amount")
)

// DomainRejected reports whether err is an expected business rejection, as
// opposed to a persistence or gateway fault.
func DomainRejected(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotRefundable) ||
		errors.Is(err, ErrOverRefund) ||
		errors.Is(err, ErrStaleStatus) ||
		errors.Is(err, ErrInvalidAmount)
}

// GatewayError is a declined or failed gateway call. Code and Message come
// from the provider verbatim; Response carries the raw provider payload for
// the payment record.
type GatewayError struct {
	Code     string
	Message  string
	Response json.RawMessage
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %s", e.Code, e.Message)
}
