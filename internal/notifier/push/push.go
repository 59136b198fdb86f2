// Package push delivers consolidated alerts to the user's registered push tokens.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/internal/notifier/payload"
	"github.com/afikmenashe/smart-alerts/internal/notifier/strategy"
)

// MaxTextLength caps the notification text.
const MaxTextLength = 1024

// Provider sends one notification to one device token.
type Provider interface {
	Name() string
	Push(ctx context.Context, token, text string) error
}

// Handler implements push delivery.
type Handler struct {
	provider Provider
}

// NewHandler creates a push handler.
func NewHandler(p Provider) *Handler {
	return &Handler{provider: p}
}

// Type returns the channel this handler delivers to.
func (h *Handler) Type() alert.Channel {
	return alert.ChannelPush
}

// Available reports whether the user has at least one token.
func (h *Handler) Available(prefs *alert.DeliveryPreference) bool {
	return len(tokens(prefs)) > 0
}

// Send pushes to every token. It fails only when no token succeeds.
func (h *Handler) Send(ctx context.Context, ca *alert.ConsolidatedAlert, prefs *alert.DeliveryPreference) error {
	targets := tokens(prefs)
	if len(targets) == 0 {
		return strategy.ErrEndpointUnavailable
	}

	text := payload.BuildShortText(ca, MaxTextLength)
	var errs []string
	for _, token := range targets {
		if err := h.provider.Push(ctx, token, text); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) == len(targets) {
		return fmt.Errorf("all pushes failed via %s: %s", h.provider.Name(), strings.Join(errs, "; "))
	}
	if len(errs) > 0 {
		slog.Warn("Some pushes failed",
			"consolidated_alert_id", ca.ID,
			"user_id", ca.UserID,
			"successful", len(targets)-len(errs),
			"failed", len(errs),
		)
	}
	return nil
}

func tokens(prefs *alert.DeliveryPreference) []string {
	out := make([]string, 0, len(prefs.PushTokens))
	for _, t := range prefs.PushTokens {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
