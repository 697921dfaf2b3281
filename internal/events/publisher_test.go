package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"medalert/internal/config"
	"medalert/internal/model"
)

type captureWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func TestPublishWritesKeyedEvent(t *testing.T) {
	w := &captureWriter{}
	p := newPublisher(w)
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	alert := model.Alert{ID: "a1", MedicineID: "m7", Type: model.AlertExpiring, Priority: model.PriorityWarning, Status: model.StatusNew}
	if err := p.Publish(context.Background(), alert); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "m7" {
		t.Fatalf("key = %q", msg.Key)
	}
	var ev AlertEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Event != EventAlertCreated || ev.Alert.ID != "a1" || !ev.OccurredAt.Equal(at) {
		t.Fatalf("event: %+v", ev)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestNewPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatalf("expected error without alerts topic")
	}
}
