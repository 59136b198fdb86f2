// Package inapp stores consolidated alerts in a per-user Redis inbox list.
package inapp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/internal/notifier/payload"
)

const keyPrefix = "inbox:"

// Config bounds each inbox.
type Config struct {
	MaxEntries int
	TTL        time.Duration
}

// DefaultConfig keeps 100 entries for 7 days.
func DefaultConfig() Config {
	return Config{MaxEntries: 100, TTL: 7 * 24 * time.Hour}
}

// Handler implements in-app delivery.
type Handler struct {
	client *redis.Client
	cfg    Config
}

// NewHandler creates an in-app handler.
func NewHandler(client *redis.Client, cfg Config) *Handler {
	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	return &Handler{client: client, cfg: cfg}
}

// Key returns the inbox key of userID.
func Key(userID string) string {
	return keyPrefix + userID
}

// Type returns the channel this handler delivers to.
func (h *Handler) Type() alert.Channel {
	return alert.ChannelInApp
}

// Available is true whenever the inbox store is reachable by configuration.
func (h *Handler) Available(prefs *alert.DeliveryPreference) bool {
	return h.client != nil && prefs.UserID != ""
}

// Send pushes the entry to the head of the user's inbox, trims the list and
// refreshes its expiry in one pipeline.
func (h *Handler) Send(ctx context.Context, ca *alert.ConsolidatedAlert, prefs *alert.DeliveryPreference) error {
	data, err := json.Marshal(payload.BuildInboxEntry(ca))
	if err != nil {
		return fmt.Errorf("failed to marshal inbox entry: %w", err)
	}

	key := Key(ca.UserID)
	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(h.cfg.MaxEntries-1))
	pipe.Expire(ctx, key, h.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write inbox: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first.
func (h *Handler) List(ctx context.Context, userID string, limit int) ([]payload.InboxEntry, error) {
	if limit <= 0 {
		limit = h.cfg.MaxEntries
	}
	raw, err := h.client.LRange(ctx, Key(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}
	entries := make([]payload.InboxEntry, 0, len(raw))
	for _, r := range raw {
		var e payload.InboxEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
