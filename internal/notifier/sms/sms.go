// Package sms delivers consolidated alerts through a JSON HTTP SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/internal/notifier/payload"
	"github.com/afikmenashe/smart-alerts/internal/notifier/strategy"
)

// Config holds gateway settings.
type Config struct {
	URL           string
	APIKey        string
	SenderID      string
	RatePerSecond float64 // Outbound messages per second across all users
	Burst         int
	Timeout       time.Duration
}

type message struct {
	To       string `json:"to"`
	From     string `json:"from,omitempty"`
	Message  string `json:"message"`
	Priority string `json:"priority"`
}

// Handler implements SMS delivery.
type Handler struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHandler creates an SMS handler. A non-positive rate disables the throttle.
func NewHandler(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Handler{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
	}
}

// Type returns the channel this handler delivers to.
func (h *Handler) Type() alert.Channel {
	return alert.ChannelSMS
}

// Available reports whether a gateway is configured and the user has a phone number.
func (h *Handler) Available(prefs *alert.DeliveryPreference) bool {
	return h.cfg.URL != "" && normalizePhone(prefs.Phone) != ""
}

// Send posts one single-segment message to the gateway.
func (h *Handler) Send(ctx context.Context, ca *alert.ConsolidatedAlert, prefs *alert.DeliveryPreference) error {
	to := normalizePhone(prefs.Phone)
	if h.cfg.URL == "" || to == "" {
		return strategy.ErrEndpointUnavailable
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sms throttle: %w", err)
	}

	body, err := json.Marshal(message{
		To:       to,
		From:     h.cfg.SenderID,
		Message:  payload.BuildShortText(ca, payload.SMSMaxLength),
		Priority: string(ca.Priority),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// normalizePhone strips formatting and keeps a leading +. It returns "" for
// numbers with fewer than 7 digits.
func normalizePhone(phone string) string {
	var sb strings.Builder
	digits := 0
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r == '+' && i == 0:
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			sb.WriteRune(r)
			digits++
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return ""
		}
	}
	if digits < 7 {
		return ""
	}
	return sb.String()
}
