package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ecommerce/payment-service/internal/payment/domain"
	"github.com/ecommerce/payment-service/pkg/tracing"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Event is the wire envelope for payment events.
type Event struct {
	EventType string         `json:"event_type"`
	PaymentID string         `json:"payment_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Publisher emits payment events keyed by payment id. Delivery is
// best-effort at-least-once: a failed write is logged and swallowed because
// the record store, not the stream, is the source of truth.
type Publisher struct {
	log      *slog.Logger
	producer Producer
	topic    string
}

func NewPublisher(log *slog.Logger, producer Producer, topic string) *Publisher {
	return &Publisher{log: log, producer: producer, topic: topic}
}

func (p *Publisher) PaymentSuccessful(ctx context.Context, pay domain.Payment) {
	p.publish(ctx, domain.EventPaymentSuccessful, pay.ID, map[string]any{
		"order_id":          pay.OrderID,
		"amount_cents":      pay.AmountCents,
		"currency":          pay.Currency,
		"payment_method":    pay.Method,
		"transaction_id":    pay.TransactionID,
		"payment_intent_id": pay.PaymentIntentID,
	})
}

func (p *Publisher) PaymentFailed(ctx context.Context, pay domain.Payment, errorMessage string) {
	p.publish(ctx, domain.EventPaymentFailed, pay.ID, map[string]any{
		"order_id":       pay.OrderID,
		"amount_cents":   pay.AmountCents,
		"currency":       pay.Currency,
		"payment_method": pay.Method,
		"error":          errorMessage,
	})
}

func (p *Publisher) PaymentRefunded(ctx context.Context, pay domain.Payment, refundID string, amountCents int64) {
	p.publish(ctx, domain.EventPaymentRefunded, pay.ID, map[string]any{
		"order_id":              pay.OrderID,
		"refund_id":             refundID,
		"amount_cents":          amountCents,
		"original_amount_cents": pay.AmountCents,
		"currency":              pay.Currency,
	})
}

func (p *Publisher) publish(ctx context.Context, eventType, paymentID string, data map[string]any) {
	event := Event{
		EventType: eventType,
		PaymentID: paymentID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	value, err := json.Marshal(event)
	if err != nil {
		p.log.Error("event marshal failed", "event_type", eventType, "payment_id", paymentID, "err", err)
		return
	}

	headers := []kafka.Header{{Key: "event_type", Value: []byte(eventType)}}
	headers = tracing.InjectKafkaHeaders(ctx, headers)

	msg := kafka.Message{
		Topic:   p.topic,
		Key:     []byte(paymentID),
		Value:   value,
		Headers: headers,
		Time:    event.Timestamp,
	}
	if err := p.producer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("event publish failed", "event_type", eventType, "payment_id", paymentID, "err", err)
		return
	}
	p.log.Debug("event published", "event_type", eventType, "payment_id", paymentID)
}
