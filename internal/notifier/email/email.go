// Package email delivers consolidated alerts by email through a provider registry.
package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/internal/notifier/email/provider"
	"github.com/afikmenashe/smart-alerts/internal/notifier/payload"
	"github.com/afikmenashe/smart-alerts/internal/notifier/strategy"
)

// Sender is the subset of the provider registry the handler uses.
type Sender interface {
	Send(ctx context.Context, req *provider.EmailRequest) error
}

// Handler implements email delivery.
type Handler struct {
	sender Sender
	from   string
}

// NewHandler creates an email handler sending from the given address.
func NewHandler(sender Sender, from string) *Handler {
	return &Handler{sender: sender, from: from}
}

// Type returns the channel this handler delivers to.
func (h *Handler) Type() alert.Channel {
	return alert.ChannelEmail
}

// Available reports whether prefs carry at least one plausible address.
func (h *Handler) Available(prefs *alert.DeliveryPreference) bool {
	return len(parseRecipients(prefs.Email)) > 0
}

// Send sends the consolidated alert to the user's address(es).
func (h *Handler) Send(ctx context.Context, ca *alert.ConsolidatedAlert, prefs *alert.DeliveryPreference) error {
	recipients := parseRecipients(prefs.Email)
	if len(recipients) == 0 {
		return strategy.ErrEndpointUnavailable
	}

	p := payload.BuildEmailPayload(ca)
	err := h.sender.Send(ctx, &provider.EmailRequest{
		From:    h.from,
		To:      recipients,
		Subject: p.Subject,
		Body:    p.Body,
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// parseRecipients splits a comma-separated address list, dropping entries
// without an @.
func parseRecipients(value string) []string {
	parts := strings.Split(value, ",")
	recipients := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" && strings.Contains(trimmed, "@") {
			recipients = append(recipients, trimmed)
		}
	}
	return recipients
}
