package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/internal/evaluator"
)

var base = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Consolidation.SweepSpec = "@every 1h"
	cfg.Learning.CycleSpec = "@every 1h"
	cfg.Learning.MinActions = 1
	cfg.Workers = 2
	cfg.WarmWindow = 0
	cfg.Retry.MaxRetries = 0
	return cfg
}

type harness struct {
	p         *Pipeline
	clock     *fakeClock
	store     *fakeRuleStore
	notifier  *fakeNotifier
	publisher *fakePublisher
}

func newHarness(t *testing.T, rules ...*alert.Rule) *harness {
	t.Helper()
	h := &harness{
		clock:     &fakeClock{now: base},
		store:     newFakeRuleStore(rules...),
		notifier:  newFakeNotifier(),
		publisher: &fakePublisher{},
	}
	p, err := New(testConfig(), Deps{
		Notifier:  h.notifier,
		Rules:     h.store,
		Publisher: h.publisher,
		Clock:     h.clock.Now,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(p.Stop)
	h.p = p
	return h
}

func priceRule(id, user, symbol string, threshold float64) *alert.Rule {
	return &alert.Rule{
		ID:         id,
		UserID:     user,
		Name:       id,
		Conditions: []alert.Condition{{ID: id + "-c1", Type: alert.ConditionPriceAbove, Symbol: symbol, Threshold: threshold}},
		Logic:      alert.LogicAnd,
		Priority:   alert.PriorityHigh,
		Status:     alert.RuleActive,
		UpdatedAt:  base.Add(-time.Hour),
	}
}

func tick(symbol string, price float64) *alert.MarketData {
	return &alert.MarketData{Symbol: symbol, Price: price, Session: alert.SessionRegular, Timestamp: base}
}

func TestNew_RequiresNotifier(t *testing.T) {
	if _, err := New(testConfig(), Deps{}); err == nil {
		t.Error("New() without a notifier should fail")
	}
}

func TestPipeline_StartLoadsActiveRules(t *testing.T) {
	expired := priceRule("expired", "user-1", "AAPL", 100)
	past := base.Add(-time.Minute)
	expired.ExpiresAt = &past
	expired.UpdatedAt = base.Add(-time.Minute)

	h := newHarness(t, priceRule("r1", "user-1", "AAPL", 100), expired)

	if h.p.Registry().Len() != 1 {
		t.Errorf("Registry().Len() = %d, want 1", h.p.Registry().Len())
	}
	if _, ok := h.p.Rule("r1"); !ok {
		t.Error("active rule r1 should be registered")
	}
	if got := h.p.RuleWatermark(); !got.Equal(base.Add(-time.Minute)) {
		t.Errorf("RuleWatermark() = %v, want %v", got, base.Add(-time.Minute))
	}
}

func TestPipeline_StartLoadError(t *testing.T) {
	store := newFakeRuleStore()
	store.loadErr = errors.New("connection refused")
	p, err := New(testConfig(), Deps{Notifier: newFakeNotifier(), Rules: store})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Error("Start() should return the load error")
	}
}

func TestPipeline_TwelveAlertsConsolidate(t *testing.T) {
	var rules []*alert.Rule
	for i := 0; i < 12; i++ {
		rules = append(rules, priceRule(fmt.Sprintf("r%02d", i), "user-1", "AAPL", 100))
	}
	h := newHarness(t, rules...)

	triggered, err := h.p.HandleEvent(context.Background(), tick("AAPL", 150), nil)
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(triggered) != 12 {
		t.Fatalf("HandleEvent() triggered %d alerts, want 12", len(triggered))
	}

	h.p.Stop()

	delivered := h.notifier.Delivered()
	if len(delivered) != 1 {
		t.Fatalf("delivered %d consolidations, want 1", len(delivered))
	}
	if delivered[0].Count != 12 {
		t.Errorf("Count = %d, want 12", delivered[0].Count)
	}
	if h.publisher.Count() != 1 {
		t.Errorf("published %d, want 1", h.publisher.Count())
	}
	for _, a := range triggered {
		if a.ConsolidatedAlertID != delivered[0].ID {
			t.Errorf("alert %s linked to %q, want %q", a.ID, a.ConsolidatedAlertID, delivered[0].ID)
		}
	}
}

func TestPipeline_StopFlushesPending(t *testing.T) {
	h := newHarness(t, priceRule("r1", "user-1", "AAPL", 100))

	if _, err := h.p.HandleEvent(context.Background(), tick("AAPL", 150), nil); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if n := len(h.notifier.Delivered()); n != 0 {
		t.Fatalf("delivered %d before Stop, want 0 while buffered", n)
	}

	h.p.Stop()
	if n := len(h.notifier.Delivered()); n != 1 {
		t.Errorf("delivered %d after Stop, want 1", n)
	}

	h.p.Stop()
	if n := len(h.notifier.Delivered()); n != 1 {
		t.Errorf("second Stop() delivered again: %d", n)
	}
}

func TestPipeline_ConsolidationDisabled(t *testing.T) {
	h := newHarness(t,
		priceRule("r1", "user-1", "AAPL", 100),
		priceRule("r2", "user-1", "AAPL", 120),
	)
	prefs := alert.DefaultDeliveryPreference("user-1")
	prefs.ConsolidationEnabled = false
	if err := h.p.SetPreferences(context.Background(), "user-1", prefs); err != nil {
		t.Fatalf("SetPreferences() error = %v", err)
	}

	if _, err := h.p.HandleEvent(context.Background(), tick("AAPL", 150), nil); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	h.p.Stop()

	delivered := h.notifier.Delivered()
	if len(delivered) != 2 {
		t.Fatalf("delivered %d, want 2 single-alert consolidations", len(delivered))
	}
	for _, ca := range delivered {
		if ca.Reason != alert.ReasonSingle {
			t.Errorf("Reason = %s, want %s", ca.Reason, alert.ReasonSingle)
		}
	}
}

func TestPipeline_PersistsTriggerState(t *testing.T) {
	h := newHarness(t, priceRule("r1", "user-1", "AAPL", 100))

	if _, err := h.p.HandleEvent(context.Background(), tick("AAPL", 150), nil); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	state := h.store.lastState("r1")
	if state == nil {
		t.Fatal("rule state was not persisted")
	}
	if state.TriggerCount != 1 {
		t.Errorf("TriggerCount = %d, want 1", state.TriggerCount)
	}
	if state.LastTriggeredAt == nil || !state.LastTriggeredAt.Equal(base) {
		t.Errorf("LastTriggeredAt = %v, want %v", state.LastTriggeredAt, base)
	}
}

func TestPipeline_HandleEventInvalid(t *testing.T) {
	h := newHarness(t)
	if _, err := h.p.HandleEvent(context.Background(), nil, nil); err == nil {
		t.Error("HandleEvent(nil) should fail")
	}
	if _, err := h.p.HandleEvent(context.Background(), &alert.MarketData{Price: 1}, nil); err == nil {
		t.Error("HandleEvent() without a symbol should fail")
	}
}

func TestPipeline_RecordAction(t *testing.T) {
	h := newHarness(t, priceRule("r1", "user-1", "AAPL", 100))

	triggered, err := h.p.HandleEvent(context.Background(), tick("AAPL", 150), nil)
	if err != nil || len(triggered) != 1 {
		t.Fatalf("HandleEvent() = %d alerts, %v", len(triggered), err)
	}
	alertID := triggered[0].ID

	tests := []struct {
		name    string
		userID  string
		alertID string
		action  alert.ActionType
		wantErr error
		fails   bool
	}{
		{name: "unknown alert", userID: "user-1", alertID: "missing", action: alert.ActionAcknowledged, wantErr: ErrAlertNotFound},
		{name: "other user", userID: "user-2", alertID: alertID, action: alert.ActionAcknowledged, fails: true},
		{name: "unknown action", userID: "user-1", alertID: alertID, action: "waved", fails: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.p.RecordAction(context.Background(), tt.userID, tt.alertID, tt.action, time.Time{})
			if err == nil {
				t.Fatal("RecordAction() should fail")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("RecordAction() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	h.clock.Advance(time.Minute)
	action, err := h.p.RecordAction(context.Background(), "user-1", alertID, alert.ActionAcknowledged, time.Time{})
	if err != nil {
		t.Fatalf("RecordAction() error = %v", err)
	}
	if action.ResponseTime != time.Minute {
		t.Errorf("ResponseTime = %v, want 1m", action.ResponseTime)
	}

	rule, _ := h.p.Rule("r1")
	if rule.ActionCount != 1 {
		t.Errorf("ActionCount = %d, want 1", rule.ActionCount)
	}
	if rule.RelevanceScore < 0 || rule.RelevanceScore > 1 {
		t.Errorf("RelevanceScore = %v, want within [0, 1]", rule.RelevanceScore)
	}
	state := h.store.lastState("r1")
	if state == nil || state.ActionCount != 1 {
		t.Errorf("persisted state = %+v, want ActionCount 1", state)
	}

	a, ok := h.p.Alert(alertID)
	if !ok || !a.UserActed || a.ActionType != alert.ActionAcknowledged {
		t.Errorf("alert action fields not set: %+v", a)
	}
}

func TestPipeline_PositionAwareRule(t *testing.T) {
	r := &alert.Rule{
		ID:            "pnl",
		UserID:        "user-1",
		Conditions:    []alert.Condition{{ID: "pnl-c1", Type: alert.ConditionPositionPnL, Symbol: "TSLA", Threshold: 10}},
		Logic:         alert.LogicAnd,
		Priority:      alert.PriorityMedium,
		Status:        alert.RuleActive,
		PositionAware: true,
	}
	h := newHarness(t, r)

	got, err := h.p.HandleEvent(context.Background(), tick("TSLA", 200), nil)
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("triggered %d without a position, want 0", len(got))
	}

	h.p.UpdatePositions("user-1", []alert.Position{{Symbol: "TSLA", Quantity: 5, UnrealizedPnLPercent: 12}})
	got, err = h.p.HandleEvent(context.Background(), tick("TSLA", 200), nil)
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("triggered %d with an open position, want 1", len(got))
	}
	if v := got[0].TriggerValues[alert.ConditionPositionPnL]; v != 12 {
		t.Errorf("trigger value = %v, want 12", v)
	}

	h.p.UpdatePositions("user-1", nil)
	if n := len(h.p.Positions("user-1")); n != 0 {
		t.Errorf("Positions() = %d after clearing, want 0", n)
	}
}

func TestPipeline_EventPositionsApplied(t *testing.T) {
	r := &alert.Rule{
		ID:            "stop",
		UserID:        "user-1",
		Conditions:    []alert.Condition{{ID: "stop-c1", Type: alert.ConditionPositionPnL, Symbol: "NVDA", Threshold: -5}},
		Logic:         alert.LogicAnd,
		Priority:      alert.PriorityUrgent,
		Status:        alert.RuleActive,
		PositionAware: true,
	}
	h := newHarness(t, r)

	positions := []alert.Position{{UserID: "user-1", Symbol: "NVDA", Quantity: 10, UnrealizedPnLPercent: -8}}
	got, err := h.p.HandleEvent(context.Background(), tick("NVDA", 90), positions)
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("triggered %d, want 1", len(got))
	}
	if held := h.p.Positions("user-1"); len(held) != 1 {
		t.Errorf("Positions() = %d, want the event position kept", len(held))
	}
}

func TestPipeline_RuleExpiresDuringEvaluation(t *testing.T) {
	h := newHarness(t)
	r := priceRule("soon", "user-1", "AAPL", 100)
	expires := base.Add(time.Minute)
	r.ExpiresAt = &expires
	if err := h.p.AddRule(context.Background(), r); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	h.clock.Advance(2 * time.Minute)
	got, err := h.p.HandleEvent(context.Background(), tick("AAPL", 150), nil)
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expired rule triggered %d alerts", len(got))
	}
	if _, ok := h.p.Rule("soon"); ok {
		t.Error("expired rule should be unregistered")
	}
	state := h.store.lastState("soon")
	if state == nil || state.Status != alert.RuleExpired {
		t.Errorf("persisted state = %+v, want status EXPIRED", state)
	}
}

func TestPipeline_RuleCRUD(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := priceRule("r1", "user-1", "AAPL", 100)
	if err := h.p.AddRule(ctx, r); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	if err := h.p.AddRule(ctx, r); !errors.Is(err, evaluator.ErrRuleExists) {
		t.Errorf("duplicate AddRule() error = %v, want ErrRuleExists", err)
	}
	if err := h.p.AddRule(ctx, &alert.Rule{ID: "bad", UserID: "user-1"}); !errors.Is(err, alert.ErrInvalidRule) {
		t.Errorf("invalid AddRule() error = %v, want ErrInvalidRule", err)
	}
	if _, ok := h.store.saved["r1"]; !ok {
		t.Error("AddRule() should persist the rule")
	}

	upd := r.Clone()
	upd.Priority = alert.PriorityUrgent
	if err := h.p.UpdateRule(ctx, upd); err != nil {
		t.Fatalf("UpdateRule() error = %v", err)
	}
	got, _ := h.p.Rule("r1")
	if got.Priority != alert.PriorityUrgent {
		t.Errorf("Priority = %s, want URGENT", got.Priority)
	}

	other := upd.Clone()
	other.UserID = "user-2"
	if err := h.p.UpdateRule(ctx, other); err == nil {
		t.Error("UpdateRule() should refuse an owner change")
	}

	paused := upd.Clone()
	paused.Status = alert.RulePaused
	if err := h.p.UpdateRule(ctx, paused); err != nil {
		t.Fatalf("UpdateRule(paused) error = %v", err)
	}
	if _, ok := h.p.Rule("r1"); ok {
		t.Error("paused rule should be unregistered")
	}
	if h.store.saved["r1"].Status != alert.RulePaused {
		t.Errorf("stored status = %s, want PAUSED", h.store.saved["r1"].Status)
	}

	if err := h.p.RemoveRule(ctx, "r1"); err != nil {
		t.Fatalf("RemoveRule() error = %v", err)
	}
	if err := h.p.RemoveRule(ctx, "r1"); !errors.Is(err, evaluator.ErrRuleNotFound) {
		t.Errorf("second RemoveRule() error = %v, want ErrRuleNotFound", err)
	}
	if err := h.p.UpdateRule(ctx, upd); !errors.Is(err, evaluator.ErrRuleNotFound) {
		t.Errorf("UpdateRule() on removed rule error = %v, want ErrRuleNotFound", err)
	}
}

func TestPipeline_AddRuleAppliesDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		r := &alert.Rule{
			ID:         id,
			UserID:     "user-1",
			Conditions: []alert.Condition{{ID: id + "-c1", Type: alert.ConditionPriceAbove, Symbol: "AAPL", Threshold: 100}},
			Logic:      alert.LogicAnd,
		}
		if err := h.p.AddRule(ctx, r); err != nil {
			t.Fatalf("AddRule(%s) error = %v", id, err)
		}
	}

	got, ok := h.p.Rule("m1")
	if !ok {
		t.Fatal("Rule(m1) not registered")
	}
	if got.RelevanceScore != alert.NeutralRelevance || got.DisableConsolidation {
		t.Errorf("defaults = relevance %v disable %v, want %v and false", got.RelevanceScore, got.DisableConsolidation, alert.NeutralRelevance)
	}
	if got.Status != alert.RuleActive || got.Priority != alert.PriorityMedium {
		t.Errorf("defaults = %s/%s, want ACTIVE/MEDIUM", got.Status, got.Priority)
	}
	if saved := h.store.saved["m1"]; saved == nil || saved.RelevanceScore != alert.NeutralRelevance {
		t.Errorf("persisted rule = %+v, want neutral relevance", saved)
	}

	triggered, err := h.p.HandleEvent(ctx, tick("AAPL", 150), nil)
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if len(triggered) != 3 {
		t.Fatalf("HandleEvent() triggered %d alerts, want 3", len(triggered))
	}
	for _, a := range triggered {
		if !a.AllowConsolidation || a.RelevanceScore != alert.NeutralRelevance {
			t.Errorf("alert %s: consolidation %v relevance %v", a.RuleID, a.AllowConsolidation, a.RelevanceScore)
		}
	}
	if n := len(h.notifier.Delivered()); n != 0 {
		t.Fatalf("delivered %d before Stop, want 0 while buffered", n)
	}

	h.p.Stop()
	delivered := h.notifier.Delivered()
	if len(delivered) != 1 || delivered[0].Count != 3 {
		t.Fatalf("delivered %d consolidations, want 1 holding 3 alerts", len(delivered))
	}
}

func TestPipeline_DisableConsolidationSendsSingles(t *testing.T) {
	r1 := priceRule("r1", "user-1", "AAPL", 100)
	r1.DisableConsolidation = true
	r2 := priceRule("r2", "user-1", "AAPL", 120)
	r2.DisableConsolidation = true
	h := newHarness(t, r1, r2)

	if _, err := h.p.HandleEvent(context.Background(), tick("AAPL", 150), nil); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	h.p.Stop()

	delivered := h.notifier.Delivered()
	if len(delivered) != 2 {
		t.Fatalf("delivered %d, want 2", len(delivered))
	}
	for _, ca := range delivered {
		if ca.Reason != alert.ReasonSingle {
			t.Errorf("Reason = %s, want %s", ca.Reason, alert.ReasonSingle)
		}
	}
}

func TestPipeline_RelevanceClampedOnIngest(t *testing.T) {
	stored := priceRule("stored", "user-1", "AAPL", 100)
	stored.RelevanceScore = 1.5
	h := newHarness(t, stored)

	low := priceRule("low", "user-1", "AAPL", 100)
	low.RelevanceScore = -0.2
	if err := h.p.AddRule(context.Background(), low); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	tests := []struct {
		id   string
		want float64
	}{
		{id: "stored", want: 1},
		{id: "low", want: 0},
	}
	for _, tt := range tests {
		got, ok := h.p.Rule(tt.id)
		if !ok {
			t.Fatalf("Rule(%s) not registered", tt.id)
		}
		if got.RelevanceScore != tt.want {
			t.Errorf("Rule(%s).RelevanceScore = %v, want %v", tt.id, got.RelevanceScore, tt.want)
		}
	}

	triggered, err := h.p.HandleEvent(context.Background(), tick("AAPL", 150), nil)
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	for _, a := range triggered {
		if a.RelevanceScore < 0 || a.RelevanceScore > 1 {
			t.Errorf("alert %s RelevanceScore = %v, want within [0, 1]", a.RuleID, a.RelevanceScore)
		}
	}
}

func TestPipeline_AddRuleRacingReload(t *testing.T) {
	h := newHarness(t)
	h.store.onSave = func(rule *alert.Rule) {
		if err := h.p.Registry().Upsert(rule); err != nil {
			t.Errorf("reload Upsert() error = %v", err)
		}
	}

	if err := h.p.AddRule(context.Background(), priceRule("r1", "user-1", "AAPL", 100)); err != nil {
		t.Fatalf("AddRule() error = %v, want success when a reload registered the rule first", err)
	}
	if h.p.Registry().Len() != 1 {
		t.Errorf("Registry().Len() = %d, want 1", h.p.Registry().Len())
	}
}

func TestPipeline_PublishErrorDoesNotBlockDelivery(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("kafka: leader not available")

	prefs := alert.DefaultDeliveryPreference("user-1")
	prefs.ConsolidationEnabled = false
	_ = h.p.SetPreferences(context.Background(), "user-1", prefs)
	if err := h.p.AddRule(context.Background(), priceRule("r1", "user-1", "AAPL", 100)); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	if _, err := h.p.HandleEvent(context.Background(), tick("AAPL", 150), nil); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	h.p.Stop()

	if n := len(h.notifier.Delivered()); n != 1 {
		t.Errorf("delivered %d, want 1", n)
	}
	if h.publisher.Count() != 0 {
		t.Errorf("published %d, want 0", h.publisher.Count())
	}
}

func TestAlertIndex_EvictsOldest(t *testing.T) {
	x := newAlertIndex(2)
	for _, id := range []string{"a1", "a2", "a3"} {
		x.put(&alert.TriggeredAlert{ID: id})
	}
	if _, ok := x.get("a1"); ok {
		t.Error("oldest alert should be evicted")
	}
	for _, id := range []string{"a2", "a3"} {
		if _, ok := x.get(id); !ok {
			t.Errorf("alert %s should be indexed", id)
		}
	}
	x.put(&alert.TriggeredAlert{ID: "a3", Symbol: "AAPL"})
	if x.len() != 2 {
		t.Errorf("len() = %d after re-put, want 2", x.len())
	}
	if a, _ := x.get("a3"); a.Symbol != "AAPL" {
		t.Error("re-put should replace the stored alert")
	}
}

func TestPositionBook(t *testing.T) {
	b := newPositionBook()
	b.replace("user-1", []alert.Position{
		{Symbol: "AAPL", Quantity: 10},
		{Symbol: "MSFT", Quantity: 0},
	})
	b.apply([]alert.Position{
		{UserID: "user-2", Symbol: "AAPL", Quantity: -3},
		{UserID: "", Symbol: "AAPL", Quantity: 1},
	})

	got := b.forSymbol("AAPL")
	want := []string{"", "user-1", "user-2"}
	if len(got) != len(want) {
		t.Fatalf("forSymbol() = %d positions, want %d", len(got), len(want))
	}
	for i, p := range got {
		if p.UserID != want[i] {
			t.Errorf("forSymbol()[%d].UserID = %q, want %q", i, p.UserID, want[i])
		}
	}
	if n := len(b.forUser("user-1")); n != 1 {
		t.Errorf("forUser() = %d, want closed MSFT dropped", n)
	}

	b.apply([]alert.Position{{UserID: "user-2", Symbol: "AAPL", Quantity: 0}})
	if n := len(b.forSymbol("AAPL")); n != 2 {
		t.Errorf("forSymbol() = %d after close, want 2", n)
	}
}
