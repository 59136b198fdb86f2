// Package config provides configuration parsing and validation for the smart-alerts service.
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration parameters for the smart-alerts service.
type Config struct {
	KafkaBrokers      string
	MarketEventsTopic string
	ActionsTopic      string
	ConsolidatedTopic string
	ConsumerGroupID   string
	ActionsGroupID    string
	PostgresDSN       string
	RedisAddr         string
	TuningFile        string
	ReloadInterval    time.Duration
	MetricsInterval   time.Duration

	EmailFrom        string
	EmailProvider    string
	ResendAPIKey     string
	AWSRegion        string
	TelegramBotToken string
	SMSGatewayURL    string
	SMSAPIKey        string
	SMSSenderID      string
}

// Validate checks that all required configuration fields are set and have valid values.
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.MarketEventsTopic == "" {
		return fmt.Errorf("market-events-topic cannot be empty")
	}
	if c.ActionsTopic == "" {
		return fmt.Errorf("actions-topic cannot be empty")
	}
	if c.ConsolidatedTopic == "" {
		return fmt.Errorf("consolidated-topic cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.ActionsGroupID == "" {
		return fmt.Errorf("actions-group-id cannot be empty")
	}
	if c.ConsumerGroupID == c.ActionsGroupID {
		return fmt.Errorf("consumer-group-id and actions-group-id must differ")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.ReloadInterval <= 0 {
		return fmt.Errorf("reload-interval must be > 0")
	}
	if c.MetricsInterval <= 0 {
		return fmt.Errorf("metrics-interval must be > 0")
	}
	switch c.EmailProvider {
	case "resend", "ses":
	default:
		return fmt.Errorf("email-provider must be resend or ses, got %q", c.EmailProvider)
	}
	if c.EmailFrom == "" {
		return fmt.Errorf("email-from cannot be empty")
	}
	return nil
}
