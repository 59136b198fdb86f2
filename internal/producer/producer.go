// Package producer publishes consolidated alerts to Kafka.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/internal/events"
	"github.com/afikmenashe/smart-alerts/internal/retry"
	kafkautil "github.com/afikmenashe/smart-alerts/pkg/kafka"
)

// Writer is the subset of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer wraps a Kafka writer for the consolidated alerts topic.
type Producer struct {
	writer Writer
	topic  string
	retry  retry.Config
}

// NewProducer creates a new Kafka producer with the specified brokers and topic.
// Writes are synchronous and wait for the leader's ack.
func NewProducer(brokers, topic string, retryCfg retry.Config) (*Producer, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka producer",
		"brokers", brokerList,
		"topic", topic,
	)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: kafkautil.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	slog.Info("Kafka producer configured",
		"write_timeout", kafkautil.WriteTimeout,
		"required_acks", "RequireOne",
		"balancer", "Hash",
		"partition_key", "user_id",
	)

	return &Producer{writer: writer, topic: topic, retry: retryCfg}, nil
}

// NewWithWriter wraps an existing writer.
func NewWithWriter(w Writer, topic string, retryCfg retry.Config) *Producer {
	return &Producer{writer: w, topic: topic, retry: retryCfg}
}

// buildMessage keys the message by user id so a user's alerts stay ordered.
func buildMessage(ca *alert.ConsolidatedAlert) (kafka.Message, error) {
	payload, err := events.EncodeConsolidatedAlert(ca)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode consolidated alert: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ca.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "schema_version", Value: []byte(strconv.Itoa(events.SchemaVersion))},
			{Key: "consolidated_alert_id", Value: []byte(ca.ID)},
			{Key: "priority", Value: []byte(ca.Priority)},
		},
		Time: time.Now(),
	}, nil
}

// Publish writes the consolidated alert, retrying transient broker errors.
func (p *Producer) Publish(ctx context.Context, ca *alert.ConsolidatedAlert) error {
	msg, err := buildMessage(ca)
	if err != nil {
		slog.Error("Failed to build consolidated alert message",
			"consolidated_alert_id", ca.ID,
			"user_id", ca.UserID,
			"error", err,
		)
		return err
	}

	err = retry.WithRetry(ctx, p.retry, "publish_consolidated_alert", func() error {
		return p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		slog.Error("Failed to write message to Kafka",
			"consolidated_alert_id", ca.ID,
			"topic", p.topic,
			"error", err,
		)
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	slog.Debug("Published consolidated alert",
		"consolidated_alert_id", ca.ID,
		"user_id", ca.UserID,
		"count", ca.Count,
	)
	return nil
}

// Close gracefully closes the Kafka writer and releases resources.
func (p *Producer) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka producer", "error", err)
		return err
	}
	slog.Info("Kafka producer closed successfully")
	return nil
}
