package evaluator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

var (
	// ErrRuleNotFound is returned when mutating a rule id that is not registered.
	ErrRuleNotFound = errors.New("rule not found")
	// ErrRuleExists is returned by Add for a duplicate id.
	ErrRuleExists = errors.New("rule already exists")
)

// entry owns one rule. Its mutex serializes the cooldown check-and-set and all
// bookkeeping writes for that rule.
type entry struct {
	mu      sync.Mutex
	rule    *alert.Rule
	removed bool
}

// Registry holds active rules indexed by the symbols their conditions reference.
// The registry lock only guards the maps; rule state is guarded per entry.
type Registry struct {
	mu       sync.RWMutex
	rules    map[string]*entry
	bySymbol map[string]map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rules:    make(map[string]*entry),
		bySymbol: make(map[string]map[string]*entry),
	}
}

// Add registers a new rule. The registry keeps its own copy.
func (r *Registry) Add(rule *alert.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[rule.ID]; ok {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
	}
	e := &entry{rule: normalize(rule.Clone())}
	r.rules[rule.ID] = e
	r.index(e.rule.ID, e.rule.Symbols(), e)
	return nil
}

// Update replaces a rule's definition while keeping its trigger bookkeeping,
// relevance score and action count.
func (r *Registry) Update(rule *alert.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rules[rule.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	r.replace(e, rule, false)
	return nil
}

// Upsert adds or replaces a rule coming from the store. Bookkeeping keeps the
// most recent trigger and the larger counters of the two copies.
func (r *Registry) Upsert(rule *alert.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rules[rule.ID]
	if !ok {
		e = &entry{rule: normalize(rule.Clone())}
		r.rules[rule.ID] = e
		r.index(e.rule.ID, e.rule.Symbols(), e)
		return nil
	}
	r.replace(e, rule, true)
	return nil
}

// replace must be called with r.mu held.
func (r *Registry) replace(e *entry, rule *alert.Rule, merge bool) {
	e.mu.Lock()
	old := e.rule
	next := normalize(rule.Clone())
	if merge {
		next.LastTriggeredAt = latest(old.LastTriggeredAt, next.LastTriggeredAt)
		next.TriggerCount = max(old.TriggerCount, next.TriggerCount)
		next.ActionCount = max(old.ActionCount, next.ActionCount)
	} else {
		next.LastTriggeredAt = old.LastTriggeredAt
		next.TriggerCount = old.TriggerCount
		next.ActionCount = old.ActionCount
		next.RelevanceScore = old.RelevanceScore
		next.CreatedAt = old.CreatedAt
	}
	e.rule = next
	e.mu.Unlock()

	r.unindex(old.ID, old.Symbols())
	r.index(next.ID, next.Symbols(), e)
}

// Remove unregisters a rule. Evaluations that already hold the entry see the
// removal when they take its lock.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(r.rules, id)

	e.mu.Lock()
	e.removed = true
	symbols := e.rule.Symbols()
	e.mu.Unlock()

	r.unindex(id, symbols)
	return nil
}

// Get returns a copy of the rule.
func (r *Registry) Get(id string) (*alert.Rule, bool) {
	r.mu.RLock()
	e, ok := r.rules[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rule.Clone(), true
}

// WithRule runs fn with exclusive access to the live rule.
func (r *Registry) WithRule(id string, fn func(rule *alert.Rule)) error {
	r.mu.RLock()
	e, ok := r.rules[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	fn(e.rule)
	return nil
}

// Rules returns copies of every registered rule.
func (r *Registry) Rules() []*alert.Rule {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.rules))
	for _, e := range r.rules {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	rules := make([]*alert.Rule, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		rules = append(rules, e.rule.Clone())
		e.mu.Unlock()
	}
	return rules
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// forSymbol returns the entries referencing symbol at the time of the call.
func (r *Registry) forSymbol(symbol string) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.bySymbol[symbol]
	entries := make([]*entry, 0, len(set))
	for _, e := range set {
		entries = append(entries, e)
	}
	return entries
}

func (r *Registry) index(id string, symbols []string, e *entry) {
	for _, s := range symbols {
		set, ok := r.bySymbol[s]
		if !ok {
			set = make(map[string]*entry)
			r.bySymbol[s] = set
		}
		set[id] = e
	}
}

func (r *Registry) unindex(id string, symbols []string) {
	for _, s := range symbols {
		if set, ok := r.bySymbol[s]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.bySymbol, s)
			}
		}
	}
}

func normalize(rule *alert.Rule) *alert.Rule {
	rule.ApplyDefaults()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	return rule
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
