package alert

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestPriority_Rank(t *testing.T) {
	tests := []struct {
		priority Priority
		want     int
	}{
		{PriorityLow, 1},
		{PriorityMedium, 2},
		{PriorityHigh, 3},
		{PriorityUrgent, 4},
		{Priority("CRITICAL"), 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			if got := tt.priority.Rank(); got != tt.want {
				t.Errorf("Rank() = %d, want %d", got, tt.want)
			}
		})
	}

	if got := MaxPriority(PriorityHigh, PriorityLow); got != PriorityHigh {
		t.Errorf("MaxPriority() = %s, want %s", got, PriorityHigh)
	}
	if got, ok := ParsePriority(" urgent "); !ok || got != PriorityUrgent {
		t.Errorf("ParsePriority() = %s, %v, want %s, true", got, ok, PriorityUrgent)
	}
}

func TestActionType_IsPositive(t *testing.T) {
	tests := []struct {
		action   ActionType
		positive bool
	}{
		{ActionOpenedPosition, true},
		{ActionClosedPosition, true},
		{ActionAdjustedPosition, true},
		{ActionAcknowledged, true},
		{ActionSnoozed, false},
		{ActionDismissed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			if got := tt.action.IsPositive(); got != tt.positive {
				t.Errorf("IsPositive() = %v, want %v", got, tt.positive)
			}
			if !tt.action.Known() {
				t.Errorf("Known() = false, want true")
			}
		})
	}

	if ActionType("clicked").Known() {
		t.Error("Known() = true for undefined action")
	}
}

func validRule() *Rule {
	return &Rule{
		ID:     "rule-1",
		UserID: "user-1",
		Conditions: []Condition{
			{ID: "c1", Type: ConditionPriceAbove, Symbol: "AAPL", Threshold: 100},
			{ID: "c2", Type: ConditionVolumeAbove, Symbol: "AAPL", Threshold: 2},
			{ID: "c3", Type: ConditionIVAbove, Symbol: "MSFT", Threshold: 0.4},
		},
		Logic:    LogicAnd,
		Priority: PriorityHigh,
		Status:   RuleActive,
	}
}

func TestRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Rule)
		wantErr bool
	}{
		{name: "valid", mutate: func(r *Rule) {}, wantErr: false},
		{name: "missing id", mutate: func(r *Rule) { r.ID = "" }, wantErr: true},
		{name: "missing user", mutate: func(r *Rule) { r.UserID = "" }, wantErr: true},
		{name: "no conditions", mutate: func(r *Rule) { r.Conditions = nil }, wantErr: true},
		{name: "bad logic", mutate: func(r *Rule) { r.Logic = "XOR" }, wantErr: true},
		{name: "negative cooldown", mutate: func(r *Rule) { r.CooldownMinutes = -1 }, wantErr: true},
		{name: "unknown condition type accepted", mutate: func(r *Rule) { r.Conditions[0].Type = "moon_phase" }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)
			err := r.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRule) {
				t.Errorf("Validate() error = %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestRule_Symbols(t *testing.T) {
	got := validRule().Symbols()
	if len(got) != 2 || got[0] != "AAPL" || got[1] != "MSFT" {
		t.Errorf("Symbols() = %v, want [AAPL MSFT]", got)
	}
}

func TestRule_Gates(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	r := validRule()
	r.CooldownMinutes = 15

	if r.InCooldown(now) {
		t.Error("InCooldown() = true for a rule that never triggered")
	}
	last := now.Add(-10 * time.Minute)
	r.LastTriggeredAt = &last
	if !r.InCooldown(now) {
		t.Error("InCooldown() = false ten minutes into a fifteen minute cooldown")
	}
	if r.InCooldown(now.Add(5 * time.Minute)) {
		t.Error("InCooldown() = true once the cooldown elapsed")
	}

	expires := now.Add(-time.Second)
	r.ExpiresAt = &expires
	if !r.Expired(now) {
		t.Error("Expired() = false after expiry")
	}

	r.MarketHoursOnly = true
	if r.SessionAllowed(SessionPreMarket) {
		t.Error("SessionAllowed(pre_market) = true with default sessions")
	}
	if !r.SessionAllowed(SessionRegular) {
		t.Error("SessionAllowed(regular) = false with default sessions")
	}
	r.AllowedSessions = []MarketSession{SessionPreMarket}
	if !r.SessionAllowed(SessionPreMarket) {
		t.Error("SessionAllowed(pre_market) = false when explicitly allowed")
	}
}

func TestRule_Clone(t *testing.T) {
	r := validRule()
	last := time.Now()
	r.LastTriggeredAt = &last

	c := r.Clone()
	c.Conditions[0].Threshold = 1
	*c.LastTriggeredAt = last.Add(time.Hour)

	if r.Conditions[0].Threshold != 100 {
		t.Error("Clone() shares the conditions slice")
	}
	if !r.LastTriggeredAt.Equal(last) {
		t.Error("Clone() shares LastTriggeredAt")
	}
}

func TestTimeOfDay_JSON(t *testing.T) {
	qh := QuietHours{Enabled: true, Start: 22 * 60, End: 6*60 + 30}
	data, err := json.Marshal(qh)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded QuietHours
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Start.String() != "22:00" || decoded.End.String() != "06:30" {
		t.Errorf("decoded = %s-%s, want 22:00-06:30", decoded.Start, decoded.End)
	}

	if _, err := ParseTimeOfDay("25:00"); err == nil {
		t.Error("ParseTimeOfDay(25:00) error = nil, want error")
	}
}

func TestDeliveryPreference_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *DeliveryPreference)
		wantErr bool
	}{
		{name: "defaults", mutate: func(p *DeliveryPreference) {}, wantErr: false},
		{name: "empty user", mutate: func(p *DeliveryPreference) { p.UserID = "" }, wantErr: true},
		{name: "negative hourly cap", mutate: func(p *DeliveryPreference) { p.MaxAlertsPerHour = -1 }, wantErr: true},
		{name: "bad timezone", mutate: func(p *DeliveryPreference) { p.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "unknown channel", mutate: func(p *DeliveryPreference) { p.EnabledChannels = []Channel{"fax"} }, wantErr: true},
		{name: "unknown routing priority", mutate: func(p *DeliveryPreference) {
			p.PriorityRouting[Priority("CRITICAL")] = []Channel{ChannelPush}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultDeliveryPreference("user-1")
			tt.mutate(p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeliveryPreference_Helpers(t *testing.T) {
	p := DefaultDeliveryPreference("user-1")
	if !p.ChannelEnabled(ChannelPush) {
		t.Error("ChannelEnabled(push) = false for defaults")
	}
	if p.ChannelEnabled(ChannelSMS) {
		t.Error("ChannelEnabled(sms) = true for defaults")
	}
	if p.Location() != time.UTC {
		t.Errorf("Location() = %v, want UTC", p.Location())
	}
	p.QuietHours.Override = ""
	if got := p.OverridePriority(); got != PriorityUrgent {
		t.Errorf("OverridePriority() = %s, want %s", got, PriorityUrgent)
	}
}

func TestRule_ApplyDefaults(t *testing.T) {
	tests := []struct {
		name          string
		rule          Rule
		wantRelevance float64
	}{
		{name: "unset relevance", rule: Rule{}, wantRelevance: NeutralRelevance},
		{name: "learned zero kept", rule: Rule{RelevanceScore: 0, ActionCount: 12}, wantRelevance: 0},
		{name: "above range", rule: Rule{RelevanceScore: 1.5}, wantRelevance: 1},
		{name: "below range", rule: Rule{RelevanceScore: -0.2, ActionCount: 3}, wantRelevance: 0},
		{name: "in range", rule: Rule{RelevanceScore: 0.7}, wantRelevance: 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.rule
			r.ApplyDefaults()
			if r.RelevanceScore != tt.wantRelevance {
				t.Errorf("RelevanceScore = %v, want %v", r.RelevanceScore, tt.wantRelevance)
			}
			if r.Status != RuleActive || r.Priority != PriorityMedium {
				t.Errorf("Status/Priority = %s/%s, want ACTIVE/MEDIUM", r.Status, r.Priority)
			}
			if r.DisableConsolidation {
				t.Error("DisableConsolidation should stay false")
			}
		})
	}
}

func TestRule_ConsolidationDefaultFromJSON(t *testing.T) {
	var r Rule
	if err := json.Unmarshal([]byte(`{"id":"r1","user_id":"u1","logic":"AND"}`), &r); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if r.DisableConsolidation {
		t.Error("a rule without the flag should consolidate")
	}
}
