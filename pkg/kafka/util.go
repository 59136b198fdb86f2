// Package kafka provides shared Kafka helpers for the smart-alerts readers and writers.
package kafka

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	// MaxPollWait bounds how long a fetch waits for new data before returning.
	MaxPollWait = 500 * time.Millisecond
	// CommitInterval is zero so offsets are committed synchronously after processing.
	CommitInterval = 0 * time.Second
	// DefaultPartitions is used when a topic has to be created.
	DefaultPartitions = 3
	// WriteTimeout bounds a synchronous produce.
	WriteTimeout = 10 * time.Second
)

// ParseBrokers parses a comma-separated broker list, trimming whitespace and
// dropping empty entries.
func ParseBrokers(brokers string) []string {
	if brokers == "" {
		return nil
	}
	parts := strings.Split(brokers, ",")
	brokerList := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokerList = append(brokerList, p)
		}
	}
	return brokerList
}

// ValidateConsumerParams validates common consumer parameters.
func ValidateConsumerParams(brokers, topic, groupID string) error {
	if len(ParseBrokers(brokers)) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if groupID == "" {
		return fmt.Errorf("groupID cannot be empty")
	}
	return nil
}

// ValidateProducerParams validates common producer parameters.
func ValidateProducerParams(brokers, topic string) error {
	if len(ParseBrokers(brokers)) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	return nil
}

// NewReaderConfig creates the reader configuration shared by every consumer:
// at-least-once delivery with explicit commits after processing.
func NewReaderConfig(brokers []string, topic, groupID string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        MaxPollWait,
		CommitInterval: CommitInterval,
		StartOffset:    kafka.LastOffset,
	}
}

// LogReaderConfig logs the values a reader was configured with.
func LogReaderConfig(cfg kafka.ReaderConfig) {
	slog.Info("Kafka consumer configured",
		"topic", cfg.Topic,
		"group_id", cfg.GroupID,
		"min_bytes", cfg.MinBytes,
		"max_bytes", cfg.MaxBytes,
		"max_wait", cfg.MaxWait.String(),
		"commit_interval", cfg.CommitInterval.String(),
	)
}

// EnsureTopic creates the topic if it does not exist. Failures are logged and
// ignored because most deployments provision topics ahead of time.
func EnsureTopic(broker, topic string) {
	conn, err := kafka.Dial("tcp", broker)
	if err != nil {
		slog.Warn("Could not connect to Kafka to check topic",
			"broker", broker,
			"topic", topic,
			"error", err,
		)
		return
	}
	defer conn.Close()

	if partitions, err := conn.ReadPartitions(topic); err == nil && len(partitions) > 0 {
		slog.Debug("Topic already exists", "topic", topic, "partitions", len(partitions))
		return
	}

	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     DefaultPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		slog.Warn("Could not create topic", "topic", topic, "error", err)
		return
	}
	slog.Info("Created topic", "topic", topic, "partitions", DefaultPartitions)
}
