package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"order-svc/models"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"
)

type fakeSettler struct {
	calls int
	errs  []error
}

func (s *fakeSettler) UnlockOrder(_ context.Context, _, _ int64, _ string, _ bool) error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

type fakeLedger struct {
	settled map[int64]bool
	err     error
}

func (l *fakeLedger) IsSettled(_ context.Context, paymentID int64) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	return l.settled[paymentID], nil
}

func (l *fakeLedger) MarkSettled(_ context.Context, paymentID int64) error {
	if l.settled == nil {
		l.settled = map[int64]bool{}
	}
	l.settled[paymentID] = true
	return nil
}

type fakeDLQ struct {
	msgs []*sarama.ConsumerMessage
	err  error
}

func (d *fakeDLQ) SendToDLQ(_ context.Context, msg *sarama.ConsumerMessage, _ error) error {
	if d.err != nil {
		return d.err
	}
	d.msgs = append(d.msgs, msg)
	return nil
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func newTestConsumer(t *testing.T, settler *fakeSettler, ledger *fakeLedger, dlq *fakeDLQ) *PaymentResultConsumer {
	c := NewPaymentResultConsumer(settler, ledger, dlq, 3, zaptest.NewLogger(t))
	c.backoff = time.Millisecond
	return c
}

func paymentResultMessage(t *testing.T, offset int64, event models.PaymentResultEvent) *sarama.ConsumerMessage {
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "payment-result-topic", Offset: offset, Value: value}
}

func TestHandleMessage_SettlesAndMarksLedger(t *testing.T) {
	settler := &fakeSettler{}
	ledger := &fakeLedger{}
	c := newTestConsumer(t, settler, ledger, &fakeDLQ{})

	msg := paymentResultMessage(t, 1, models.PaymentResultEvent{OrderID: 1, PaymentID: 10, TransactionID: "txn", Success: true})
	if err := c.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if settler.calls != 1 {
		t.Errorf("Expected 1 settlement call, got %d", settler.calls)
	}
	if !ledger.settled[10] {
		t.Error("Expected payment 10 to be marked settled")
	}
}

func TestHandleMessage_AlreadySettledSkipped(t *testing.T) {
	settler := &fakeSettler{}
	ledger := &fakeLedger{settled: map[int64]bool{10: true}}
	c := newTestConsumer(t, settler, ledger, &fakeDLQ{})

	msg := paymentResultMessage(t, 1, models.PaymentResultEvent{OrderID: 1, PaymentID: 10, Success: true})
	if err := c.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if settler.calls != 0 {
		t.Errorf("Expected settlement to be skipped, got %d calls", settler.calls)
	}
}

func TestHandleMessage_LedgerErrorFallsThrough(t *testing.T) {
	settler := &fakeSettler{}
	c := newTestConsumer(t, settler, &fakeLedger{err: errors.New("redis down")}, &fakeDLQ{})

	msg := paymentResultMessage(t, 1, models.PaymentResultEvent{OrderID: 1, PaymentID: 10})
	if err := c.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if settler.calls != 1 {
		t.Errorf("Expected settlement despite ledger error, got %d calls", settler.calls)
	}
}

func TestHandleMessage_RetriesThenSucceeds(t *testing.T) {
	settler := &fakeSettler{errs: []error{errors.New("db busy"), errors.New("db busy")}}
	dlq := &fakeDLQ{}
	c := newTestConsumer(t, settler, &fakeLedger{}, dlq)

	msg := paymentResultMessage(t, 1, models.PaymentResultEvent{OrderID: 1, PaymentID: 10})
	if err := c.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if settler.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", settler.calls)
	}
	if len(dlq.msgs) != 0 {
		t.Errorf("Expected nothing dead-lettered, got %d", len(dlq.msgs))
	}
}

func TestHandleMessage_ExhaustedRetriesDeadLettered(t *testing.T) {
	boom := errors.New("db busy")
	settler := &fakeSettler{errs: []error{boom, boom, boom}}
	ledger := &fakeLedger{}
	dlq := &fakeDLQ{}
	c := newTestConsumer(t, settler, ledger, dlq)

	msg := paymentResultMessage(t, 1, models.PaymentResultEvent{OrderID: 1, PaymentID: 10})
	if err := c.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("Expected no error after dead-lettering, got %v", err)
	}
	if len(dlq.msgs) != 1 {
		t.Errorf("Expected 1 dead-lettered message, got %d", len(dlq.msgs))
	}
	if ledger.settled[10] {
		t.Error("Expected failed settlement not to be marked settled")
	}
}

func TestHandleMessage_MalformedDeadLettered(t *testing.T) {
	settler := &fakeSettler{}
	dlq := &fakeDLQ{}
	c := newTestConsumer(t, settler, &fakeLedger{}, dlq)

	tests := []*sarama.ConsumerMessage{
		{Offset: 1, Value: []byte("not json")},
		paymentResultMessage(t, 2, models.PaymentResultEvent{OrderID: 0, PaymentID: 10}),
		paymentResultMessage(t, 3, models.PaymentResultEvent{OrderID: 1, PaymentID: -1}),
	}
	for _, msg := range tests {
		if err := c.handleMessage(context.Background(), msg); err != nil {
			t.Errorf("Offset %d: expected no error, got %v", msg.Offset, err)
		}
	}
	if len(dlq.msgs) != len(tests) {
		t.Errorf("Expected %d dead-lettered messages, got %d", len(tests), len(dlq.msgs))
	}
	if settler.calls != 0 {
		t.Errorf("Expected no settlement attempts, got %d", settler.calls)
	}
}

func TestConsumeClaim_MarksHandledMessages(t *testing.T) {
	c := newTestConsumer(t, &fakeSettler{}, &fakeLedger{}, &fakeDLQ{})

	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 2)}
	claim.msgs <- paymentResultMessage(t, 5, models.PaymentResultEvent{OrderID: 1, PaymentID: 10})
	claim.msgs <- &sarama.ConsumerMessage{Offset: 6, Value: []byte("{")}
	close(claim.msgs)

	session := &fakeSession{ctx: context.Background()}
	if err := c.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(session.marked) != 2 || session.marked[0] != 5 || session.marked[1] != 6 {
		t.Errorf("Expected offsets [5 6] marked, got %v", session.marked)
	}
}

func TestConsumeClaim_DLQFailureLeavesOffsetUnmarked(t *testing.T) {
	c := newTestConsumer(t, &fakeSettler{}, &fakeLedger{}, &fakeDLQ{err: errors.New("broker down")})

	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 1)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 9, Value: []byte("{")}
	close(claim.msgs)

	session := &fakeSession{ctx: context.Background()}
	if err := c.ConsumeClaim(session, claim); err == nil {
		t.Error("Expected error when the message cannot be dead-lettered")
	}
	if len(session.marked) != 0 {
		t.Errorf("Expected no offsets marked, got %v", session.marked)
	}
}
