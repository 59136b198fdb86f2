package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/afikmenashe/smart-alerts/internal/config"
	"github.com/afikmenashe/smart-alerts/internal/consolidator"
	"github.com/afikmenashe/smart-alerts/internal/learning"
	"github.com/afikmenashe/smart-alerts/internal/notifier"
	"github.com/afikmenashe/smart-alerts/internal/notifier/email"
	"github.com/afikmenashe/smart-alerts/internal/notifier/email/provider"
	"github.com/afikmenashe/smart-alerts/internal/notifier/inapp"
	"github.com/afikmenashe/smart-alerts/internal/notifier/push"
	"github.com/afikmenashe/smart-alerts/internal/notifier/sms"
	"github.com/afikmenashe/smart-alerts/internal/notifier/strategy"
	"github.com/afikmenashe/smart-alerts/internal/notifier/webhook"
	"github.com/afikmenashe/smart-alerts/internal/pipeline"
	"github.com/afikmenashe/smart-alerts/internal/retry"
)

// componentConfigs maps the tuning file onto the component configs.
func componentConfigs(t config.Tuning) (pipeline.Config, notifier.Config, error) {
	loc, err := time.LoadLocation(t.Learning.Timezone)
	if err != nil {
		return pipeline.Config{}, notifier.Config{}, fmt.Errorf("failed to load learning timezone: %w", err)
	}

	retryCfg := retry.Config{
		MaxRetries:     t.Retry.MaxRetries,
		InitialBackoff: t.Retry.InitialBackoff,
		MaxBackoff:     t.Retry.MaxBackoff,
		BackoffFactor:  t.Retry.BackoffFactor,
	}

	pc := pipeline.DefaultConfig()
	pc.Consolidation = consolidator.Config{
		Window:     t.Consolidation.Window,
		MaxPending: t.Consolidation.MaxPending,
		SweepSpec:  t.Consolidation.SweepSpec,
	}
	pc.Learning = learning.Config{
		LearningRate:      t.Learning.LearningRate,
		MinActions:        t.Learning.MinActions,
		CycleSpec:         t.Learning.CycleSpec,
		Location:          loc,
		MaxActionsPerUser: t.Learning.MaxActionsPerUser,
	}
	pc.Workers = t.Delivery.Workers
	pc.QueueSize = t.Delivery.QueueSize
	pc.AlertIndexSize = t.Pipeline.AlertIndexSize
	pc.Retry = retryCfg

	nc := notifier.Config{
		Workers:      t.Delivery.Workers,
		SendTimeout:  t.Delivery.SendTimeout,
		HistoryLimit: t.Delivery.HistoryLimit,
		Retry:        retryCfg,
	}
	return pc, nc, nil
}

// buildHandlers registers a handler for every channel that has its backing
// service configured. In-app and webhook delivery need no credentials.
func buildHandlers(ctx context.Context, cfg *config.Config, t config.Tuning, redisClient *redis.Client) (*strategy.Registry, error) {
	handlers := strategy.NewRegistry(
		inapp.NewHandler(redisClient, inapp.Config{
			MaxEntries: t.Delivery.InboxSize,
			TTL:        t.Delivery.InboxTTL,
		}),
		webhook.NewHandler(webhook.Config{
			Timeout:     t.Delivery.SendTimeout,
			PerHostRate: t.Delivery.WebhookPerHostRate,
		}),
	)

	emailProviders, err := buildEmailProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}
	handlers.Register(email.NewHandler(emailProviders, cfg.EmailFrom))

	if cfg.TelegramBotToken != "" {
		tg, err := push.NewTelegramProvider(cfg.TelegramBotToken)
		if err != nil {
			return nil, err
		}
		handlers.Register(push.NewHandler(tg))
	} else {
		slog.Warn("Telegram bot token not set, push delivery disabled")
	}

	if cfg.SMSGatewayURL != "" {
		handlers.Register(sms.NewHandler(sms.Config{
			URL:           cfg.SMSGatewayURL,
			APIKey:        cfg.SMSAPIKey,
			SenderID:      cfg.SMSSenderID,
			RatePerSecond: t.Delivery.SMSRatePerSecond,
			Timeout:       t.Delivery.SendTimeout,
		}))
	} else {
		slog.Warn("SMS gateway not configured, SMS delivery disabled")
	}

	slog.Info("Delivery channels initialized", "channels", handlers.List())
	return handlers, nil
}

// buildEmailProviders registers Resend and SES with the configured one as
// primary and the other as fallback.
func buildEmailProviders(ctx context.Context, cfg *config.Config) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	reg.Register(provider.NewResendProvider(cfg.ResendAPIKey))
	reg.Register(provider.NewSESProvider(ctx, cfg.AWSRegion))

	fallback := "ses"
	if cfg.EmailProvider == "ses" {
		fallback = "resend"
	}
	if err := reg.SetPrimary(cfg.EmailProvider); err != nil {
		return nil, fmt.Errorf("failed to set primary email provider: %w", err)
	}
	if err := reg.SetFallback(fallback); err != nil {
		return nil, fmt.Errorf("failed to set fallback email provider: %w", err)
	}
	if !reg.Configured() {
		slog.Warn("No email provider is configured, email delivery will fail")
	}
	return reg, nil
}
