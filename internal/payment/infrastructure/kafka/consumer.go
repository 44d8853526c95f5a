package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecommerce/payment-service/internal/payment/application"
	"github.com/ecommerce/payment-service/internal/payment/domain"
	"github.com/ecommerce/payment-service/pkg/idempotency"
	"github.com/ecommerce/payment-service/pkg/tracing"
)

// orderCreated mirrors the order service's OrderCreated payload. Field names
// match its JSON encoding; only what payment processing needs is decoded.
type orderCreated struct {
	OrderID    string `json:"OrderID"`
	Customer   string `json:"Customer"`
	TotalCents int64  `json:"TotalCents"`
}

type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type dedup interface {
	Key(topic string, partition int, offset int64) string
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type paymentProcessor interface {
	ProcessPayment(ctx context.Context, req application.ProcessPaymentRequest) (application.ProcessPaymentResponse, error)
}

// Consumer drives payments from the order event stream. Consumed messages
// are deduplicated through the idempotency store so a redelivered
// OrderCreated never charges twice. Handled outcomes (captured, declined,
// malformed) are committed; an infrastructure fault releases the dedup key
// and leaves the message uncommitted so redelivery retries the order.
type Consumer struct {
	log    *slog.Logger
	reader messageSource
	svc    paymentProcessor
	idem   dedup
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, svc *application.Service, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("payment-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			c.log.Error("idempotency check failed", "err", err)
			continue
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, "ConsumeOrderCreated")

		var event orderCreated
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.log.Error("unmarshal failed", "err", err)
			span.End()
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}
		if event.OrderID == "" || event.TotalCents <= 0 {
			c.log.Warn("order event skipped", "order_id", event.OrderID, "total_cents", event.TotalCents)
			span.End()
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		resp, err := c.svc.ProcessPayment(msgCtx, application.ProcessPaymentRequest{
			OrderID:     event.OrderID,
			AmountCents: event.TotalCents,
			Currency:    domain.CurrencyUSD,
			Method:      domain.MethodCreditCard,
		})
		if err != nil {
			c.log.Error("payment process failed", "order_id", event.OrderID, "err", err)
			if ferr := c.idem.Forget(ctx, key); ferr != nil {
				c.log.Error("idempotency release failed", "key", key, "err", ferr)
			}
			span.End()
			continue
		}
		if !resp.Success {
			c.log.Warn("payment declined", "order_id", event.OrderID, "error", resp.Error)
		} else {
			c.log.Info("payment captured", "order_id", event.OrderID, "transaction_id", resp.TransactionID)
		}
		span.End()
		_ = c.reader.CommitMessages(ctx, msg)
	}
}
