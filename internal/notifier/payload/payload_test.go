package payload

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

func sampleConsolidated() *alert.ConsolidatedAlert {
	at := time.Date(2026, 3, 2, 15, 4, 0, 0, time.UTC)
	a1 := &alert.TriggeredAlert{
		ID:            "a-1",
		RuleID:        "rule-1",
		Symbol:        "AAPL",
		TriggeredAt:   at,
		TriggerValues: map[alert.ConditionType]float64{alert.ConditionPriceAbove: 101.5},
		Title:         "AAPL: price_above",
		Message:       "AAPL at 101.50: price_above 101.5 (threshold 100)",
	}
	a2 := &alert.TriggeredAlert{
		ID:            "a-2",
		RuleID:        "rule-2",
		Symbol:        "TSLA",
		TriggeredAt:   at.Add(time.Minute),
		TriggerValues: map[alert.ConditionType]float64{alert.ConditionVolumeAbove: 3},
		Title:         "TSLA: volume_above",
		Message:       "TSLA at 180.00: volume_above 3 (threshold 2)",
	}
	return &alert.ConsolidatedAlert{
		ID:        "ca-1",
		UserID:    "user-1",
		AlertIDs:  []string{"a-1", "a-2"},
		Alerts:    []*alert.TriggeredAlert{a1, a2},
		Reason:    alert.ReasonRelated,
		Title:     "2 alerts across 2 symbols",
		Summary:   "AAPL: price_above; TSLA: volume_above",
		Priority:  alert.PriorityHigh,
		Count:     2,
		CreatedAt: at.Add(2 * time.Minute),
	}
}

func TestBuildEmailPayload(t *testing.T) {
	p := BuildEmailPayload(sampleConsolidated())

	if p.Subject != "[HIGH] 2 alerts across 2 symbols" {
		t.Errorf("BuildEmailPayload() subject = %q", p.Subject)
	}
	for _, want := range []string{"AAPL: price_above; TSLA: volume_above", "Alerts: 2", "[15:04 UTC]", "TSLA at 180.00", "Reference: ca-1"} {
		if !strings.Contains(p.Body, want) {
			t.Errorf("BuildEmailPayload() body should contain %q, got:\n%s", want, p.Body)
		}
	}
}

func TestBuildSlackMessage(t *testing.T) {
	msg := BuildSlackMessage(sampleConsolidated())

	if msg.Text != "2 alerts across 2 symbols" {
		t.Errorf("BuildSlackMessage() text = %q", msg.Text)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("BuildSlackMessage() attachments = %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Color != "warning" {
		t.Errorf("BuildSlackMessage() color = %q, want warning", att.Color)
	}
	if len(att.Fields) != 3 || att.Fields[2].Value != "AAPL, TSLA" {
		t.Errorf("BuildSlackMessage() fields = %+v", att.Fields)
	}
	if !strings.Contains(att.Text, "• AAPL at 101.50") {
		t.Errorf("BuildSlackMessage() text should list alert messages, got %q", att.Text)
	}
}

func TestPriorityColor(t *testing.T) {
	tests := []struct {
		priority alert.Priority
		want     string
	}{
		{alert.PriorityUrgent, "danger"},
		{alert.PriorityHigh, "warning"},
		{alert.PriorityMedium, "warning"},
		{alert.PriorityLow, "good"},
		{"", "good"},
	}
	for _, tt := range tests {
		if got := PriorityColor(tt.priority); got != tt.want {
			t.Errorf("PriorityColor(%q) = %q, want %q", tt.priority, got, tt.want)
		}
	}
}

func TestBuildWebhookPayload(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 10, 0, 0, time.UTC)
	p := BuildWebhookPayload(sampleConsolidated(), now)

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	if decoded["consolidated_alert_id"] != "ca-1" || decoded["user_id"] != "user-1" {
		t.Errorf("BuildWebhookPayload() ids = %v / %v", decoded["consolidated_alert_id"], decoded["user_id"])
	}
	if decoded["timestamp"] != "2026-03-02T15:10:00Z" {
		t.Errorf("BuildWebhookPayload() timestamp = %v", decoded["timestamp"])
	}
	alerts, ok := decoded["alerts"].([]any)
	if !ok || len(alerts) != 2 {
		t.Fatalf("BuildWebhookPayload() alerts = %v", decoded["alerts"])
	}
	first := alerts[0].(map[string]any)
	values := first["trigger_values"].(map[string]any)
	if values["price_above"] != 101.5 {
		t.Errorf("BuildWebhookPayload() trigger_values = %v", values)
	}
}

func TestBuildWebhookPayload_Empty(t *testing.T) {
	p := BuildWebhookPayload(&alert.ConsolidatedAlert{ID: "ca-0"}, time.Now())
	if p.Symbols == nil || p.Alerts == nil {
		t.Error("BuildWebhookPayload() should emit empty arrays, not null")
	}
}

func TestBuildShortText(t *testing.T) {
	ca := sampleConsolidated()

	tests := []struct {
		name string
		max  int
		want string
	}{
		{name: "no limit", max: 0, want: "2 alerts across 2 symbols: AAPL: price_above; TSLA: volume_above"},
		{name: "fits", max: 200, want: "2 alerts across 2 symbols: AAPL: price_above; TSLA: volume_above"},
		{name: "truncated", max: 20, want: "2 alerts across 2..."},
		{name: "tiny", max: 3, want: "2 a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildShortText(ca, tt.max); got != tt.want {
				t.Errorf("BuildShortText(%d) = %q, want %q", tt.max, got, tt.want)
			}
		})
	}

	single := &alert.ConsolidatedAlert{Title: "AAPL: price_above", Summary: "AAPL: price_above"}
	if got := BuildShortText(single, 0); got != "AAPL: price_above" {
		t.Errorf("BuildShortText() repeated summary = %q", got)
	}
}

func TestBuildInboxEntry(t *testing.T) {
	e := BuildInboxEntry(sampleConsolidated())

	if e.ID != "ca-1" || e.Priority != "HIGH" || len(e.AlertIDs) != 2 {
		t.Errorf("BuildInboxEntry() = %+v", e)
	}
	if e.Values["AAPL.price_above"] != "101.50" || e.Values["TSLA.volume_above"] != "3.00" {
		t.Errorf("BuildInboxEntry() values = %v", e.Values)
	}
	if e.Read {
		t.Error("BuildInboxEntry() should be unread")
	}
}
