// Package webhook delivers consolidated alerts to a user-configured URL.
// Slack incoming webhooks receive a Slack message; other URLs receive a JSON POST.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/internal/notifier/payload"
	"github.com/afikmenashe/smart-alerts/internal/notifier/strategy"
)

const slackHost = "hooks.slack.com"

// Config holds webhook delivery settings.
type Config struct {
	Timeout        time.Duration
	PerHostRate    float64 // Requests per second per destination host
	PerHostBurst   int
	ExtraSlackHost []string // Hosts treated as Slack besides hooks.slack.com
}

// Handler implements webhook delivery.
type Handler struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHandler creates a webhook handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PerHostBurst <= 0 {
		cfg.PerHostBurst = 5
	}
	return &Handler{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Type returns the channel this handler delivers to.
func (h *Handler) Type() alert.Channel {
	return alert.ChannelWebhook
}

// Available reports whether prefs carry an http(s) URL.
func (h *Handler) Available(prefs *alert.DeliveryPreference) bool {
	_, err := parseURL(prefs.WebhookURL)
	return err == nil
}

// Send posts the alert to the user's webhook.
func (h *Handler) Send(ctx context.Context, ca *alert.ConsolidatedAlert, prefs *alert.DeliveryPreference) error {
	u, err := parseURL(prefs.WebhookURL)
	if err != nil {
		return fmt.Errorf("%w: %v", strategy.ErrEndpointUnavailable, err)
	}

	host := strings.ToLower(u.Hostname())
	if err := h.limiter(host).Wait(ctx); err != nil {
		return fmt.Errorf("webhook throttle for %s: %w", host, err)
	}

	if h.isSlack(host) {
		if err := slack.PostWebhookCustomHTTPContext(ctx, u.String(), h.httpClient, payload.BuildSlackMessage(ca)); err != nil {
			return fmt.Errorf("failed to send Slack notification to %s: %w", maskURL(u.String()), err)
		}
		return nil
	}
	return h.postJSON(ctx, u.String(), ca)
}

func (h *Handler) postJSON(ctx context.Context, endpoint string, ca *alert.ConsolidatedAlert) error {
	data, err := json.Marshal(payload.BuildWebhookPayload(ca, h.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("Webhook returned error status",
			"status_code", resp.StatusCode,
			"webhook_url", maskURL(endpoint),
			"consolidated_alert_id", ca.ID,
		)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (h *Handler) limiter(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		limit := rate.Inf
		if h.cfg.PerHostRate > 0 {
			limit = rate.Limit(h.cfg.PerHostRate)
		}
		l = rate.NewLimiter(limit, h.cfg.PerHostBurst)
		h.limiters[host] = l
	}
	return l
}

func (h *Handler) isSlack(host string) bool {
	if host == slackHost {
		return true
	}
	for _, extra := range h.cfg.ExtraSlackHost {
		if strings.EqualFold(extra, host) {
			return true
		}
	}
	return false
}

func parseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook URL %q: must be http or https", raw)
	}
	return u, nil
}

// maskURL hides the secret path of long webhook URLs for logging.
func maskURL(s string) string {
	if len(s) > 50 {
		return s[:30] + "..." + s[len(s)-10:]
	}
	return s
}
