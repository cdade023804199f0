package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/pkg/metrics"
)

// KafkaConfig holds audit stream producer settings
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
}

// DefaultKafkaConfig returns producer settings suitable for local use
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "action-audit-events",
		ClientID:     "action-engine",
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		MaxRetries:   3,
	}
}

// KafkaAuditPublisher mirrors ledger entries to a Kafka topic for
// downstream compliance consumers. The durable table is the system of
// record; this stream is an additional sink.
type KafkaAuditPublisher struct {
	writer  *kafka.Writer
	config  KafkaConfig
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewKafkaAuditPublisher creates the audit stream producer
func NewKafkaAuditPublisher(cfg KafkaConfig, logger *logging.Logger, collector *metrics.Collector) *KafkaAuditPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		MaxAttempts:  cfg.MaxRetries,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
	}
	return &KafkaAuditPublisher{
		writer:  writer,
		config:  cfg,
		logger:  logger.WithComponent("kafka_audit_publisher"),
		metrics: collector,
	}
}

// Publish sends one ledger entry to the audit topic. Messages are keyed by
// action ID so one action's history stays in partition order.
func (p *KafkaAuditPublisher) Publish(ctx context.Context, event *entity.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.ActionID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "producer_id", Value: []byte(p.config.ClientID)},
			{Key: "produced_at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.metrics.MessagesSent.WithLabelValues(p.config.Topic, "failed").Inc()
		p.logger.Error("failed to publish audit event",
			zap.String("event_id", event.ID.String()),
			zap.String("topic", p.config.Topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish audit event: %w", err)
	}

	p.metrics.MessagesSent.WithLabelValues(p.config.Topic, "success").Inc()
	return nil
}

// Close flushes and closes the underlying writer
func (p *KafkaAuditPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close audit publisher: %w", err)
	}
	return nil
}
