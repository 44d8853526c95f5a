package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/ecommerce/payment-service/internal/payment/application"
	"github.com/ecommerce/payment-service/internal/payment/domain"
)

type scriptedSource struct {
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (s *scriptedSource) FetchMessage(context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return msg, nil
}

func (s *scriptedSource) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		s.committed = append(s.committed, m.Offset)
	}
	return nil
}

func (s *scriptedSource) Close() error {
	s.closed = true
	return nil
}

type memDedup struct {
	seen      map[string]bool
	forgotten []string
}

func newMemDedup() *memDedup {
	return &memDedup{seen: make(map[string]bool)}
}

func (d *memDedup) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:%s:%d:%d", topic, partition, offset)
}

func (d *memDedup) Seen(_ context.Context, key string) (bool, error) {
	if d.seen[key] {
		return true, nil
	}
	d.seen[key] = true
	return false, nil
}

func (d *memDedup) Forget(_ context.Context, key string) error {
	delete(d.seen, key)
	d.forgotten = append(d.forgotten, key)
	return nil
}

type scriptedProcessor struct {
	err   error
	resp  application.ProcessPaymentResponse
	calls int
	reqs  []application.ProcessPaymentRequest
}

func (p *scriptedProcessor) ProcessPayment(_ context.Context, req application.ProcessPaymentRequest) (application.ProcessPaymentResponse, error) {
	p.calls++
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return application.ProcessPaymentResponse{}, p.err
	}
	return p.resp, nil
}

func testConsumer(src *scriptedSource, proc *scriptedProcessor, dd *memDedup) *Consumer {
	return &Consumer{
		log:    slog.New(slog.DiscardHandler),
		reader: src,
		svc:    proc,
		idem:   dd,
		tracer: otel.Tracer("payment-consumer"),
	}
}

func orderMessage(offset int64, value string) kafka.Message {
	return kafka.Message{
		Topic:     "order.events",
		Partition: 0,
		Offset:    offset,
		Value:     []byte(value),
	}
}

func TestConsumerCommitsHandledOutcomes(t *testing.T) {
	src := &scriptedSource{msgs: []kafka.Message{
		orderMessage(1, `{"OrderID":"ORD-1","Customer":"c-1","TotalCents":10000}`),
	}}
	proc := &scriptedProcessor{resp: application.ProcessPaymentResponse{
		Success:       true,
		Status:        domain.StatusCaptured,
		TransactionID: "txn_1",
	}}
	c := testConsumer(src, proc, newMemDedup())

	err := c.Run(context.Background())
	require.ErrorIs(t, err, io.EOF)

	require.Equal(t, 1, proc.calls)
	assert.Equal(t, "ORD-1", proc.reqs[0].OrderID)
	assert.Equal(t, int64(10000), proc.reqs[0].AmountCents)
	assert.Equal(t, []int64{1}, src.committed)
	assert.True(t, src.closed)
}

func TestConsumerCommitsDeclines(t *testing.T) {
	src := &scriptedSource{msgs: []kafka.Message{
		orderMessage(1, `{"OrderID":"ORD-1","Customer":"c-1","TotalCents":10000}`),
	}}
	proc := &scriptedProcessor{resp: application.ProcessPaymentResponse{
		Status: domain.StatusFailed,
		Error:  "Card was declined by issuer",
	}}
	c := testConsumer(src, proc, newMemDedup())

	require.ErrorIs(t, c.Run(context.Background()), io.EOF)
	assert.Equal(t, []int64{1}, src.committed, "a decline is a handled outcome")
}

func TestConsumerRetriesInfraFailure(t *testing.T) {
	src := &scriptedSource{msgs: []kafka.Message{
		orderMessage(7, `{"OrderID":"ORD-1","Customer":"c-1","TotalCents":10000}`),
	}}
	proc := &scriptedProcessor{err: errors.New("connection refused")}
	dd := newMemDedup()
	c := testConsumer(src, proc, dd)

	require.ErrorIs(t, c.Run(context.Background()), io.EOF)

	require.Equal(t, 1, proc.calls)
	assert.Empty(t, src.committed, "an uncommitted message is redelivered")
	require.Len(t, dd.forgotten, 1)
	assert.Equal(t, dd.Key("order.events", 0, 7), dd.forgotten[0])
	assert.False(t, dd.seen[dd.forgotten[0]], "the redelivery must not be treated as a duplicate")
}

func TestConsumerSkipsDuplicates(t *testing.T) {
	src := &scriptedSource{msgs: []kafka.Message{
		orderMessage(3, `{"OrderID":"ORD-1","Customer":"c-1","TotalCents":10000}`),
	}}
	proc := &scriptedProcessor{}
	dd := newMemDedup()
	dd.seen[dd.Key("order.events", 0, 3)] = true
	c := testConsumer(src, proc, dd)

	require.ErrorIs(t, c.Run(context.Background()), io.EOF)
	assert.Zero(t, proc.calls)
	assert.Equal(t, []int64{3}, src.committed)
}

func TestConsumerCommitsUnprocessableMessages(t *testing.T) {
	src := &scriptedSource{msgs: []kafka.Message{
		orderMessage(1, `{"OrderID":`),
		orderMessage(2, `{"OrderID":"","TotalCents":10000}`),
		orderMessage(3, `{"OrderID":"ORD-1","TotalCents":0}`),
	}}
	proc := &scriptedProcessor{}
	c := testConsumer(src, proc, newMemDedup())

	require.ErrorIs(t, c.Run(context.Background()), io.EOF)
	assert.Zero(t, proc.calls)
	assert.Equal(t, []int64{1, 2, 3}, src.committed)
}
