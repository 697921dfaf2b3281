package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"medalert/internal/config"
	"medalert/internal/model"
)

const EventAlertCreated = "alert.created"

// AlertEvent is the message body written for each persisted alert.
type AlertEvent struct {
	Event      string      `json:"event"`
	OccurredAt time.Time   `json:"occurred_at"`
	Alert      model.Alert `json:"alert"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes alert events to a Kafka topic, keyed by medicine id so
// every alert of one medicine lands on the same partition.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

func NewPublisher(cfg config.KafkaConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 || cfg.AlertsTopic == "" {
		return nil, errors.New("kafka brokers and alerts topic are required")
	}
	return newPublisher(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AlertsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}), nil
}

func newPublisher(w messageWriter) *Publisher {
	return &Publisher{writer: w, now: func() time.Time { return time.Now().UTC() }}
}

func (p *Publisher) Publish(ctx context.Context, alert model.Alert) error {
	body, err := json.Marshal(AlertEvent{Event: EventAlertCreated, OccurredAt: p.now(), Alert: alert})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.MedicineID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(EventAlertCreated)},
		},
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
