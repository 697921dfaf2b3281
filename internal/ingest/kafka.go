package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"medalert/internal/config"
)

// StartKafka consumes inventory change events until ctx is cancelled.
func StartKafka(ctx context.Context, cfg config.KafkaConfig, handler *Handler, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.InventoryTopic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.InventoryTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	go func() {
		defer reader.Close()
		backoff := 200 * time.Millisecond
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, backoff) {
					return
				}
				if backoff < 5*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = 200 * time.Millisecond
			triggered, err := handler.Handle(ctx, m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("inventory event rejected", "partition", m.Partition, "offset", m.Offset, "err", err)
				}
				continue
			}
			if logger != nil {
				logger.Debug("inventory event applied", "key", string(m.Key), "triggered", triggered)
			}
		}
	}()
}
