package alert

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidRule is returned for rules that cannot be registered.
var ErrInvalidRule = errors.New("invalid rule")

// Condition is a single comparator applied to one symbol's market data.
// Conditions are never modified after creation.
type Condition struct {
	ID        string             `json:"id"`
	Type      ConditionType      `json:"type"`
	Symbol    string             `json:"symbol"`
	Threshold float64            `json:"threshold"`
	Timeframe string             `json:"timeframe,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"`
}

// Rule combines conditions with gating metadata and trigger bookkeeping.
// A rule with DisableConsolidation set sends every trigger on its own.
type Rule struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"user_id"`
	Name                 string          `json:"name,omitempty"`
	Conditions           []Condition     `json:"conditions"`
	Logic                Logic           `json:"logic"`
	Priority             Priority        `json:"priority"`
	Status               RuleStatus      `json:"status"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	ExpiresAt            *time.Time      `json:"expires_at,omitempty"`
	CooldownMinutes      int             `json:"cooldown_minutes"`
	LastTriggeredAt      *time.Time      `json:"last_triggered_at,omitempty"`
	MarketHoursOnly      bool            `json:"market_hours_only"`
	AllowedSessions      []MarketSession `json:"allowed_sessions,omitempty"`
	PositionAware        bool            `json:"position_aware"`
	ConsolidationGroup   string          `json:"consolidation_group,omitempty"`
	DisableConsolidation bool            `json:"disable_consolidation,omitempty"`
	RelevanceScore       float64         `json:"relevance_score"`
	TriggerCount         int             `json:"trigger_count"`
	ActionCount          int             `json:"action_count"`
}

// NeutralRelevance is the relevance of a rule nothing has been learned about.
const NeutralRelevance = 0.5

// ApplyDefaults fills the fields a caller may leave unset: ACTIVE status,
// MEDIUM priority and the neutral relevance. A zero relevance only counts as
// unset while the rule has no recorded actions, since learning needs actions
// to move it. Out-of-range relevance is clamped to [0, 1].
func (r *Rule) ApplyDefaults() {
	if r.Status == "" {
		r.Status = RuleActive
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if r.RelevanceScore == 0 && r.ActionCount == 0 {
		r.RelevanceScore = NeutralRelevance
	}
	switch {
	case math.IsNaN(r.RelevanceScore):
		r.RelevanceScore = NeutralRelevance
	case r.RelevanceScore < 0:
		r.RelevanceScore = 0
	case r.RelevanceScore > 1:
		r.RelevanceScore = 1
	}
}

// Validate checks the fields the evaluator depends on. Unknown condition types
// are accepted; they never match.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidRule)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: user id cannot be empty", ErrInvalidRule)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: rule %s has no conditions", ErrInvalidRule, r.ID)
	}
	for i, c := range r.Conditions {
		if c.Symbol == "" {
			return fmt.Errorf("%w: condition %d of rule %s has no symbol", ErrInvalidRule, i, r.ID)
		}
	}
	if r.Logic != LogicAnd && r.Logic != LogicOr {
		return fmt.Errorf("%w: logic must be AND or OR, got %q", ErrInvalidRule, r.Logic)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("%w: cooldown cannot be negative", ErrInvalidRule)
	}
	return nil
}

// Symbols returns the distinct symbols referenced by the rule's conditions.
func (r *Rule) Symbols() []string {
	seen := make(map[string]bool, len(r.Conditions))
	symbols := make([]string, 0, len(r.Conditions))
	for _, c := range r.Conditions {
		if !seen[c.Symbol] {
			seen[c.Symbol] = true
			symbols = append(symbols, c.Symbol)
		}
	}
	return symbols
}

// Cooldown returns the cooldown as a duration.
func (r *Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// InCooldown reports whether now is before the end of the cooldown window.
func (r *Rule) InCooldown(now time.Time) bool {
	if r.LastTriggeredAt == nil || r.CooldownMinutes == 0 {
		return false
	}
	return now.Before(r.LastTriggeredAt.Add(r.Cooldown()))
}

// Expired reports whether the rule is past its expiry time.
func (r *Rule) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// SessionAllowed reports whether an event in session s may trigger the rule.
// A market-hours rule without explicit sessions only allows the regular session.
func (r *Rule) SessionAllowed(s MarketSession) bool {
	if !r.MarketHoursOnly {
		return true
	}
	if len(r.AllowedSessions) == 0 {
		return s == SessionRegular
	}
	for _, allowed := range r.AllowedSessions {
		if allowed == s {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Conditions are shared because they are immutable.
func (r *Rule) Clone() *Rule {
	c := *r
	c.Conditions = append([]Condition(nil), r.Conditions...)
	c.AllowedSessions = append([]MarketSession(nil), r.AllowedSessions...)
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	if r.LastTriggeredAt != nil {
		t := *r.LastTriggeredAt
		c.LastTriggeredAt = &t
	}
	return &c
}
