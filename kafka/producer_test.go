package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"order-svc/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

func TestEventProducer_PublishOrderEvent(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	defer mock.Close()

	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event models.OrderEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.EventType != models.EventOrderPaid || event.OrderNumber != "ORD-00000001" {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})

	producer := NewEventProducer(mock, "order_events", "payment-result-dlq", zaptest.NewLogger(t))
	order := &models.Order{
		ID:          1,
		OrderNumber: "ORD-00000001",
		UserID:      7,
		Status:      models.OrderStatusPending,
		TotalAmount: decimal.NewFromInt(42),
	}

	if err := producer.PublishOrderEvent(context.Background(), models.NewOrderEvent(models.EventOrderPaid, order)); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestEventProducer_PublishOrderEvent_SendFails(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	defer mock.Close()
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewEventProducer(mock, "order_events", "dlq", zaptest.NewLogger(t))
	err := producer.PublishOrderEvent(context.Background(), models.OrderEvent{OrderNumber: "ORD-1"})
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("Expected ErrOutOfBrokers, got %v", err)
	}
}

type recordingSyncProducer struct {
	sarama.SyncProducer
	sent []*sarama.ProducerMessage
}

func (p *recordingSyncProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	p.sent = append(p.sent, msg)
	return 0, int64(len(p.sent)), nil
}

func TestEventProducer_SendToDLQ_Headers(t *testing.T) {
	rec := &recordingSyncProducer{}
	producer := NewEventProducer(rec, "order_events", "payment-result-dlq", zaptest.NewLogger(t))

	msg := &sarama.ConsumerMessage{
		Topic:     "payment-result-topic",
		Partition: 2,
		Offset:    41,
		Key:       []byte("k"),
		Value:     []byte(`{"orderId":0}`),
		Headers:   []*sarama.RecordHeader{{Key: []byte("traceparent"), Value: []byte("00-abc")}},
	}

	if err := producer.SendToDLQ(context.Background(), msg, errors.New("bad payload")); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("Expected 1 message sent, got %d", len(rec.sent))
	}

	sent := rec.sent[0]
	if sent.Topic != "payment-result-dlq" {
		t.Errorf("Expected DLQ topic, got %s", sent.Topic)
	}

	headers := map[string]string{}
	for _, h := range sent.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	want := map[string]string{
		"traceparent":          "00-abc",
		"x-original-topic":     "payment-result-topic",
		"x-original-partition": "2",
		"x-original-offset":    "41",
		"x-error":              "bad payload",
	}
	for k, v := range want {
		if headers[k] != v {
			t.Errorf("Expected header %s=%q, got %q", k, v, headers[k])
		}
	}
}
