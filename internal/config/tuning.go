package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds the algorithm and worker settings read from the optional YAML
// tuning file. Keys missing from the file keep their defaults.
type Tuning struct {
	Consolidation struct {
		Window     time.Duration `yaml:"window"`
		MaxPending int           `yaml:"max_pending"`
		SweepSpec  string        `yaml:"sweep_spec"`
	} `yaml:"consolidation"`

	Learning struct {
		LearningRate      float64 `yaml:"learning_rate"`
		MinActions        int     `yaml:"min_actions"`
		CycleSpec         string  `yaml:"cycle_spec"`
		MaxActionsPerUser int     `yaml:"max_actions_per_user"`
		Timezone          string  `yaml:"timezone"`
	} `yaml:"learning"`

	Delivery struct {
		Workers            int           `yaml:"workers"`
		QueueSize          int           `yaml:"queue_size"`
		SendTimeout        time.Duration `yaml:"send_timeout"`
		HistoryLimit       int           `yaml:"history_limit"`
		SMSRatePerSecond   float64       `yaml:"sms_rate_per_second"`
		WebhookPerHostRate float64       `yaml:"webhook_per_host_rate"`
		InboxSize          int           `yaml:"inbox_size"`
		InboxTTL           time.Duration `yaml:"inbox_ttl"`
	} `yaml:"delivery"`

	Retry struct {
		MaxRetries     int           `yaml:"max_retries"`
		InitialBackoff time.Duration `yaml:"initial_backoff"`
		MaxBackoff     time.Duration `yaml:"max_backoff"`
		BackoffFactor  float64       `yaml:"backoff_factor"`
	} `yaml:"retry"`

	Pipeline struct {
		AlertIndexSize int `yaml:"alert_index_size"`
	} `yaml:"pipeline"`
}

// DefaultTuning returns the built-in settings.
func DefaultTuning() Tuning {
	var t Tuning
	t.Consolidation.Window = 5 * time.Minute
	t.Consolidation.MaxPending = 10
	t.Consolidation.SweepSpec = "@every 30s"

	t.Learning.LearningRate = 0.1
	t.Learning.MinActions = 10
	t.Learning.CycleSpec = "@every 15m"
	t.Learning.MaxActionsPerUser = 5000
	t.Learning.Timezone = "UTC"

	t.Delivery.Workers = 8
	t.Delivery.QueueSize = 1024
	t.Delivery.SendTimeout = 10 * time.Second
	t.Delivery.HistoryLimit = 500
	t.Delivery.SMSRatePerSecond = 5
	t.Delivery.WebhookPerHostRate = 2
	t.Delivery.InboxSize = 100
	t.Delivery.InboxTTL = 7 * 24 * time.Hour

	t.Retry.MaxRetries = 3
	t.Retry.InitialBackoff = 100 * time.Millisecond
	t.Retry.MaxBackoff = 5 * time.Second
	t.Retry.BackoffFactor = 2.0

	t.Pipeline.AlertIndexSize = 10000
	return t
}

// LoadTuning reads path over the defaults. An empty path returns the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("failed to read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("failed to parse tuning file: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("invalid tuning file %s: %w", path, err)
	}
	return t, nil
}

// Validate checks ranges that the components cannot default on their own.
func (t *Tuning) Validate() error {
	if t.Consolidation.Window <= 0 {
		return fmt.Errorf("consolidation.window must be > 0")
	}
	if t.Consolidation.MaxPending < 1 {
		return fmt.Errorf("consolidation.max_pending must be >= 1")
	}
	if t.Consolidation.SweepSpec == "" {
		return fmt.Errorf("consolidation.sweep_spec cannot be empty")
	}
	if t.Learning.LearningRate <= 0 || t.Learning.LearningRate > 1 {
		return fmt.Errorf("learning.learning_rate must be in (0, 1]")
	}
	if t.Learning.MinActions < 1 {
		return fmt.Errorf("learning.min_actions must be >= 1")
	}
	if t.Learning.CycleSpec == "" {
		return fmt.Errorf("learning.cycle_spec cannot be empty")
	}
	if _, err := time.LoadLocation(t.Learning.Timezone); err != nil {
		return fmt.Errorf("learning.timezone: %w", err)
	}
	if t.Delivery.Workers < 1 {
		return fmt.Errorf("delivery.workers must be >= 1")
	}
	if t.Delivery.QueueSize < 1 {
		return fmt.Errorf("delivery.queue_size must be >= 1")
	}
	if t.Delivery.SendTimeout <= 0 {
		return fmt.Errorf("delivery.send_timeout must be > 0")
	}
	if t.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	if t.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be >= 1")
	}
	if t.Pipeline.AlertIndexSize < 1 {
		return fmt.Errorf("pipeline.alert_index_size must be >= 1")
	}
	return nil
}
