// Package evaluator matches market events against registered alert rules.
package evaluator

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// ExpiryHook is called once for each rule the engine deactivates on expiry.
type ExpiryHook func(rule *alert.Rule)

// Engine evaluates market events against the rules in its registry.
// It is safe for concurrent use.
type Engine struct {
	registry    *Registry
	comparators map[alert.ConditionType]Comparator
	now         func() time.Time
	onExpire    ExpiryHook
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithComparator registers or replaces the comparator for a condition type.
func WithComparator(t alert.ConditionType, c Comparator) Option {
	return func(e *Engine) { e.comparators[t] = c }
}

// WithExpiryHook sets the callback run after an expired rule is removed.
func WithExpiryHook(h ExpiryHook) Option {
	return func(e *Engine) { e.onExpire = h }
}

// NewEngine creates an engine over registry. A nil registry gets a fresh one.
func NewEngine(registry *Registry, opts ...Option) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	e := &Engine{
		registry:    registry,
		comparators: DefaultComparators(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the rule registry the engine reads from.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// AddRule registers a new rule.
func (e *Engine) AddRule(rule *alert.Rule) error {
	return e.registry.Add(rule)
}

// UpdateRule replaces an existing rule's definition.
func (e *Engine) UpdateRule(rule *alert.Rule) error {
	return e.registry.Update(rule)
}

// RemoveRule unregisters a rule.
func (e *Engine) RemoveRule(id string) error {
	return e.registry.Remove(id)
}

// Evaluate runs every rule referencing md.Symbol and returns the alerts that
// triggered, ordered by rule id. Positions that are closed or belong to other
// users are ignored for a rule.
func (e *Engine) Evaluate(md *alert.MarketData, positions []alert.Position) []*alert.TriggeredAlert {
	if md == nil || md.Symbol == "" {
		return nil
	}

	entries := e.registry.forSymbol(md.Symbol)
	if len(entries) == 0 {
		return nil
	}

	now := e.now()
	var triggered []*alert.TriggeredAlert
	var expired []*alert.Rule

	candidates := make([]candidate, 0, len(entries))
	for _, en := range entries {
		en.mu.Lock()
		candidates = append(candidates, candidate{entry: en, id: en.rule.ID})
		en.mu.Unlock()
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })

	for _, c := range candidates {
		a, exp := e.evaluateEntry(c.entry, md, positions, now)
		if exp != nil {
			expired = append(expired, exp)
		}
		if a != nil {
			triggered = append(triggered, a)
		}
	}

	for _, rule := range expired {
		if err := e.registry.Remove(rule.ID); err != nil {
			continue
		}
		slog.Info("Rule expired",
			"rule_id", rule.ID,
			"user_id", rule.UserID,
		)
		if e.onExpire != nil {
			e.onExpire(rule)
		}
	}

	return triggered
}

type candidate struct {
	entry *entry
	id    string
}

// evaluateEntry holds the rule lock across the gate checks and the trigger
// bookkeeping so two events cannot both pass the cooldown check.
func (e *Engine) evaluateEntry(en *entry, md *alert.MarketData, positions []alert.Position, now time.Time) (*alert.TriggeredAlert, *alert.Rule) {
	en.mu.Lock()
	defer en.mu.Unlock()

	if en.removed {
		return nil, nil
	}
	rule := en.rule
	if rule.Status != alert.RuleActive {
		return nil, nil
	}
	if rule.Expired(now) {
		rule.Status = alert.RuleExpired
		return nil, rule.Clone()
	}
	if rule.InCooldown(now) {
		return nil, nil
	}
	if !rule.SessionAllowed(md.Session) {
		return nil, nil
	}

	pos := openPosition(positions, rule.UserID, md.Symbol)
	if rule.PositionAware && pos == nil {
		return nil, nil
	}

	in := Input{Market: md, Position: pos, Now: now}
	var (
		evaluated int
		matched   []alert.Condition
		values    = make(map[alert.ConditionType]float64)
	)
	for _, c := range rule.Conditions {
		if c.Symbol != md.Symbol {
			continue
		}
		evaluated++
		cmp, ok := e.comparators[c.Type]
		if !ok {
			slog.Warn("Unknown condition type, treating as not matched",
				"rule_id", rule.ID,
				"condition_id", c.ID,
				"condition_type", c.Type,
			)
			continue
		}
		ok, v := cmp.Evaluate(c, in)
		if ok {
			matched = append(matched, c)
			values[c.Type] = v
		}
	}

	if evaluated == 0 || len(matched) == 0 {
		return nil, nil
	}
	if rule.Logic == alert.LogicAnd && len(matched) != evaluated {
		return nil, nil
	}

	t := now
	rule.LastTriggeredAt = &t
	rule.TriggerCount++

	a := buildAlert(rule, md, matched, values, pos, now)
	slog.Debug("Rule triggered",
		"rule_id", rule.ID,
		"user_id", rule.UserID,
		"symbol", md.Symbol,
		"matched", len(matched),
		"trigger_count", rule.TriggerCount,
	)
	return a, nil
}

// openPosition returns the first open position on symbol owned by userID or
// shared by all users.
func openPosition(positions []alert.Position, userID, symbol string) *alert.Position {
	for i := range positions {
		p := &positions[i]
		if p.Symbol != symbol || !p.Open() {
			continue
		}
		if p.UserID == "" || p.UserID == userID {
			return p
		}
	}
	return nil
}

func buildAlert(rule *alert.Rule, md *alert.MarketData, matched []alert.Condition, values map[alert.ConditionType]float64, pos *alert.Position, now time.Time) *alert.TriggeredAlert {
	ids := make([]string, 0, len(matched))
	types := make([]alert.ConditionType, 0, len(matched))
	parts := make([]string, 0, len(matched))
	for _, c := range matched {
		ids = append(ids, c.ID)
		types = append(types, c.Type)
		parts = append(parts, fmt.Sprintf("%s %.2f (threshold %.2f)", c.Type, values[c.Type], c.Threshold))
	}

	title := rule.Name
	if title == "" {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		title = strings.Join(names, " + ")
	}

	a := &alert.TriggeredAlert{
		ID:                  uuid.New().String(),
		RuleID:              rule.ID,
		UserID:              rule.UserID,
		Symbol:              md.Symbol,
		TriggeredAt:         now,
		TriggerValues:       values,
		MatchedConditionIDs: ids,
		ConditionTypes:      types,
		Title:               fmt.Sprintf("%s: %s", md.Symbol, title),
		Message:             fmt.Sprintf("%s at %.2f: %s", md.Symbol, md.Price, strings.Join(parts, "; ")),
		Priority:            rule.Priority,
		Status:              alert.AlertPending,
		MarketSession:       md.Session,
		ConsolidationGroup:  rule.ConsolidationGroup,
		AllowConsolidation:  !rule.DisableConsolidation,
		RelevanceScore:      rule.RelevanceScore,
	}
	if pos != nil {
		a.RelatedPositions = []string{pos.Symbol}
	}
	return a
}
