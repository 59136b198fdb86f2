// Package consumer reads market events and user actions from Kafka.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/afikmenashe/smart-alerts/internal/events"
	kafkautil "github.com/afikmenashe/smart-alerts/pkg/kafka"
)

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer wraps a Kafka reader for one topic. Offsets are committed
// explicitly after processing.
type Consumer struct {
	reader Reader
	topic  string
}

// NewConsumer creates a new Kafka consumer with the specified brokers, topic, and group ID.
func NewConsumer(brokers, topic, groupID string) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	cfg := kafkautil.NewReaderConfig(brokerList, topic, groupID)
	kafkautil.LogReaderConfig(cfg)

	return &Consumer{
		reader: kafka.NewReader(cfg),
		topic:  topic,
	}, nil
}

// NewWithReader wraps an existing reader.
func NewWithReader(r Reader, topic string) *Consumer {
	return &Consumer{reader: r, topic: topic}
}

// Topic returns the topic the consumer reads.
func (c *Consumer) Topic() string {
	return c.topic
}

func (c *Consumer) fetch(ctx context.Context) (*kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}
	return &msg, nil
}

// ReadMarketEvent fetches the next message and decodes it as a market event.
// A decode failure still returns the message so the caller can commit past it.
func (c *Consumer) ReadMarketEvent(ctx context.Context) (*events.MarketEvent, *kafka.Message, error) {
	msg, err := c.fetch(ctx)
	if err != nil {
		return nil, nil, err
	}
	ev, err := events.DecodeMarketEvent(msg.Value)
	if err != nil {
		return nil, msg, fmt.Errorf("failed to decode market event: %w", err)
	}
	return ev, msg, nil
}

// ReadActionEvent fetches the next message and decodes it as a user action.
func (c *Consumer) ReadActionEvent(ctx context.Context) (*events.ActionEvent, *kafka.Message, error) {
	msg, err := c.fetch(ctx)
	if err != nil {
		return nil, nil, err
	}
	ev, err := events.DecodeActionEvent(msg.Value)
	if err != nil {
		return nil, msg, fmt.Errorf("failed to decode action event: %w", err)
	}
	return ev, msg, nil
}

// CommitMessage commits the offset for the given message.
func (c *Consumer) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	return c.reader.CommitMessages(ctx, *msg)
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	slog.Info("Kafka consumer closed successfully")
	return nil
}
