package integration

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecommerce/payment-service/internal/payment/application"
	"github.com/ecommerce/payment-service/internal/payment/domain"
	"github.com/ecommerce/payment-service/internal/payment/infrastructure/gateway"
	paymentkafka "github.com/ecommerce/payment-service/internal/payment/infrastructure/kafka"
	pg "github.com/ecommerce/payment-service/internal/payment/infrastructure/postgres"
)

// Full charge-and-refund lifecycle against real postgres and kafka.
func TestPaymentFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	ctx := context.Background()
	env, err := Setup(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { env.Teardown(context.Background()) })

	log := slog.New(slog.DiscardHandler)

	pool, err := pgxpool.New(ctx, env.PGURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := pg.NewRepository(log, pool)
	require.NoError(t, repo.EnsureSchema(ctx))

	const topic = "payment-events"
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(env.KAddr...),
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	t.Cleanup(func() { _ = writer.Close() })
	publisher := paymentkafka.NewPublisher(log, writer, topic)

	gw := gateway.NewSimulator(log, gateway.WithSuccessRate(1), gateway.WithLatency(0))
	svc := application.NewService(log, repo, gw, publisher, 5*time.Second)

	resp, err := svc.ProcessPayment(ctx, application.ProcessPaymentRequest{
		OrderID:     "ORD-IT-1",
		AmountCents: 10000,
		Currency:    domain.CurrencyUSD,
		Method:      domain.MethodCreditCard,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, domain.StatusCaptured, resp.Status)

	p, err := repo.GetByTransactionID(ctx, resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCaptured, p.Status)
	assert.NotNil(t, p.CapturedAt)

	partial, err := svc.RefundPayment(ctx, application.RefundRequest{
		TransactionID: resp.TransactionID,
		AmountCents:   4000,
		Reason:        "customer request",
	})
	require.NoError(t, err)
	assert.True(t, partial.Success)
	assert.Equal(t, domain.StatusPartiallyRefunded, partial.Status)

	_, err = svc.RefundPayment(ctx, application.RefundRequest{
		TransactionID: resp.TransactionID,
		AmountCents:   6001,
	})
	assert.ErrorIs(t, err, domain.ErrOverRefund)

	full, err := svc.RefundPayment(ctx, application.RefundRequest{
		TransactionID: resp.TransactionID,
		AmountCents:   6000,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, full.Status)

	_, err = svc.RefundPayment(ctx, application.RefundRequest{
		TransactionID: resp.TransactionID,
		AmountCents:   1,
	})
	assert.ErrorIs(t, err, domain.ErrNotRefundable)

	refunds, err := repo.ListRefunds(ctx, resp.PaymentID)
	require.NoError(t, err)
	require.Len(t, refunds, 2)
	assert.Equal(t, int64(10000), refunds[0].AmountCents+refunds[1].AmountCents)

	// Conditional transitions must refuse to move a closed-out payment.
	_, err = repo.Transition(ctx, resp.PaymentID,
		[]domain.Status{domain.StatusProcessing}, domain.StatusCaptured, application.TransitionFields{})
	assert.ErrorIs(t, err, domain.ErrStaleStatus)

	// Every published event should be on the topic, keyed by payment id.
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     env.KAddr,
		Topic:       topic,
		GroupID:     "flow-verify",
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	t.Cleanup(func() { _ = reader.Close() })

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	types := make(map[string]int)
	for i := 0; i < 3; i++ {
		msg, err := reader.ReadMessage(readCtx)
		require.NoError(t, err)
		assert.Equal(t, resp.PaymentID, string(msg.Key))

		var event paymentkafka.Event
		require.NoError(t, json.Unmarshal(msg.Value, &event))
		assert.Equal(t, resp.PaymentID, event.PaymentID)
		types[event.EventType]++
	}
	assert.Equal(t, 1, types[domain.EventPaymentSuccessful])
	assert.Equal(t, 2, types[domain.EventPaymentRefunded])
}
