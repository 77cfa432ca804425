// Package events consumes scan completion messages from Kafka and feeds them
// to the same fan-out the internal HTTP endpoint uses.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/checkvibe/threatwatch/internal/config"
	"github.com/checkvibe/threatwatch/internal/logger"
	"github.com/checkvibe/threatwatch/internal/services"
)

// ScanHandler runs the scan completion fan-out.
type ScanHandler interface {
	Handle(ctx context.Context, evt services.ScanCompleted) (services.ScanCompletionResult, error)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads scan.completed messages. Offsets are committed by the group
// reader as messages are read, so a crash may drop at most the in-flight one.
type Consumer struct {
	reader  messageReader
	handler ScanHandler
	backoff time.Duration
}

func NewConsumer(cfg config.KafkaConfig, handler ScanHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, handler: handler, backoff: time.Second}
}

// Run blocks until ctx is cancelled. Malformed messages are logged and skipped.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()
	log := logger.Log().WithField("component", "kafka")
	log.Info("scan completion consumer started")
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info("scan completion consumer stopped")
				return
			}
			log.WithError(err).Warn("kafka read error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}
		c.handleMessage(ctx, m)
	}
}

func (c *Consumer) handleMessage(ctx context.Context, m kafka.Message) bool {
	log := logger.Log().WithField("component", "kafka").WithField("offset", m.Offset).WithField("partition", m.Partition)

	var evt services.ScanCompleted
	if err := json.Unmarshal(m.Value, &evt); err != nil {
		log.WithError(err).Warn("skipping malformed scan event")
		return false
	}
	if err := evt.Validate(); err != nil {
		log.WithError(err).Warn("skipping invalid scan event")
		return false
	}

	res, err := c.handler.Handle(ctx, evt)
	if err != nil {
		logger.ForProject("kafka", evt.ProjectID).WithError(err).Error("scan event handling failed")
		return false
	}
	logger.ForProject("kafka", evt.ProjectID).
		WithField("scan_id", evt.ScanID).
		WithField("rules", len(res.Rules)).
		WithField("webhooks", len(res.Webhooks)).
		Info("scan event handled")
	return true
}
