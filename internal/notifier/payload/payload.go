// Package payload provides payload builders for the delivery channels.
package payload

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// SMSMaxLength is the length of a single-segment SMS.
const SMSMaxLength = 160

// EmailPayload represents email message content.
type EmailPayload struct {
	Subject string
	Body    string
}

// BuildEmailPayload builds email subject and body from a consolidated alert.
func BuildEmailPayload(ca *alert.ConsolidatedAlert) EmailPayload {
	return EmailPayload{
		Subject: fmt.Sprintf("[%s] %s", ca.Priority, ca.Title),
		Body:    buildEmailBody(ca),
	}
}

func buildEmailBody(ca *alert.ConsolidatedAlert) string {
	var sb strings.Builder
	sb.WriteString(ca.Title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", len(ca.Title)))
	sb.WriteString("\n\n")
	sb.WriteString(ca.Summary)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Priority: %s\n", ca.Priority)
	fmt.Fprintf(&sb, "Alerts: %d\n", ca.Count)

	if len(ca.Alerts) > 0 {
		sb.WriteString("\nDetails:\n")
		for _, a := range ca.Alerts {
			fmt.Fprintf(&sb, "  - [%s] %s\n", a.TriggeredAt.UTC().Format("15:04 MST"), a.Message)
		}
	}

	fmt.Fprintf(&sb, "\nReference: %s\n", ca.ID)
	return sb.String()
}

// BuildSlackMessage builds a Slack incoming-webhook message with one attachment.
func BuildSlackMessage(ca *alert.ConsolidatedAlert) *slack.WebhookMessage {
	fields := []slack.AttachmentField{
		{Title: "Priority", Value: string(ca.Priority), Short: true},
		{Title: "Alerts", Value: fmt.Sprintf("%d", ca.Count), Short: true},
	}
	if symbols := ca.Symbols(); len(symbols) > 0 {
		fields = append(fields, slack.AttachmentField{
			Title: "Symbols",
			Value: strings.Join(symbols, ", "),
			Short: false,
		})
	}

	var text strings.Builder
	text.WriteString(ca.Summary)
	for _, a := range ca.Alerts {
		fmt.Fprintf(&text, "\n• %s", a.Message)
	}

	return &slack.WebhookMessage{
		Text: ca.Title,
		Attachments: []slack.Attachment{
			{
				Color:    PriorityColor(ca.Priority),
				Fallback: ca.Title,
				Title:    ca.Title,
				Text:     text.String(),
				Fields:   fields,
				Footer:   ca.ID,
			},
		},
	}
}

// PriorityColor returns the Slack attachment color for a priority.
func PriorityColor(p alert.Priority) string {
	switch p {
	case alert.PriorityUrgent:
		return "danger"
	case alert.PriorityHigh, alert.PriorityMedium:
		return "warning"
	default:
		return "good"
	}
}

// WebhookAlert is one triggered alert inside a webhook payload.
type WebhookAlert struct {
	ID            string             `json:"id"`
	RuleID        string             `json:"rule_id"`
	Symbol        string             `json:"symbol"`
	Title         string             `json:"title"`
	Message       string             `json:"message"`
	TriggeredAt   string             `json:"triggered_at"`
	TriggerValues map[string]float64 `json:"trigger_values,omitempty"`
}

// WebhookPayload represents a generic webhook payload.
type WebhookPayload struct {
	ConsolidatedAlertID string         `json:"consolidated_alert_id"`
	UserID              string         `json:"user_id"`
	Title               string         `json:"title"`
	Summary             string         `json:"summary"`
	Priority            string         `json:"priority"`
	Reason              string         `json:"reason"`
	Count               int            `json:"count"`
	Symbols             []string       `json:"symbols"`
	Alerts              []WebhookAlert `json:"alerts"`
	Timestamp           string         `json:"timestamp"`
}

// BuildWebhookPayload builds a webhook payload from the consolidated alert.
func BuildWebhookPayload(ca *alert.ConsolidatedAlert, now time.Time) WebhookPayload {
	alerts := make([]WebhookAlert, 0, len(ca.Alerts))
	for _, a := range ca.Alerts {
		var values map[string]float64
		if len(a.TriggerValues) > 0 {
			values = make(map[string]float64, len(a.TriggerValues))
			for k, v := range a.TriggerValues {
				values[string(k)] = v
			}
		}
		alerts = append(alerts, WebhookAlert{
			ID:            a.ID,
			RuleID:        a.RuleID,
			Symbol:        a.Symbol,
			Title:         a.Title,
			Message:       a.Message,
			TriggeredAt:   a.TriggeredAt.UTC().Format(time.RFC3339),
			TriggerValues: values,
		})
	}
	symbols := ca.Symbols()
	if symbols == nil {
		symbols = []string{}
	}
	return WebhookPayload{
		ConsolidatedAlertID: ca.ID,
		UserID:              ca.UserID,
		Title:               ca.Title,
		Summary:             ca.Summary,
		Priority:            string(ca.Priority),
		Reason:              ca.Reason,
		Count:               ca.Count,
		Symbols:             symbols,
		Alerts:              alerts,
		Timestamp:           now.UTC().Format(time.RFC3339),
	}
}

// BuildShortText returns "Title: Summary" cut to max runes with a trailing
// ellipsis. A max of zero or less means no limit.
func BuildShortText(ca *alert.ConsolidatedAlert, max int) string {
	text := ca.Title
	if ca.Summary != "" && ca.Summary != ca.Title {
		text = ca.Title + ": " + ca.Summary
	}
	return truncate(text, max)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// InboxEntry is an in-app inbox item.
type InboxEntry struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Summary   string            `json:"summary"`
	Priority  string            `json:"priority"`
	AlertIDs  []string          `json:"alert_ids"`
	Values    map[string]string `json:"values,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Read      bool              `json:"read"`
}

// BuildInboxEntry builds an in-app inbox entry. Values is keyed by
// "<symbol>.<condition type>".
func BuildInboxEntry(ca *alert.ConsolidatedAlert) InboxEntry {
	var values map[string]string
	for _, a := range ca.Alerts {
		for k, v := range a.TriggerValues {
			if values == nil {
				values = make(map[string]string)
			}
			values[a.Symbol+"."+string(k)] = fmt.Sprintf("%.2f", v)
		}
	}
	return InboxEntry{
		ID:        ca.ID,
		Title:     ca.Title,
		Summary:   ca.Summary,
		Priority:  string(ca.Priority),
		AlertIDs:  append([]string(nil), ca.AlertIDs...),
		Values:    values,
		CreatedAt: ca.CreatedAt,
	}
}
