package learning

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

const (
	topConditions = 5
	topPriorities = 3
	topHours      = 5
)

// LearnUserProfile rebuilds the user's profile from the full action history.
// Below MinActions it returns the existing profile, or an empty one.
func (e *Engine) LearnUserProfile(ctx context.Context, userID string) *alert.UserAlertProfile {
	actions := e.Actions(userID)
	if len(actions) < e.cfg.MinActions {
		if p := e.Profile(ctx, userID); p != nil {
			return p
		}
		return alert.NewUserAlertProfile(userID)
	}

	p := buildProfile(userID, actions, e.cfg.MinActions, e.cfg.Location)
	p.UpdatedAt = e.now()

	e.mu.Lock()
	e.learned[userID] = p
	e.mu.Unlock()

	if e.profiles != nil {
		if err := e.profiles.SaveProfile(ctx, p); err != nil {
			slog.Error("Failed to cache learned profile", "user_id", userID, "error", err)
		}
	}

	slog.Debug("User profile learned",
		"user_id", userID,
		"total_actions", p.TotalActions,
		"action_rate", p.ActionRate,
	)
	return p
}

// tally counts keys and remembers when each was last seen, for tie-breaks.
type tally[K comparable] struct {
	count map[K]int
	last  map[K]time.Time
}

func newTally[K comparable]() *tally[K] {
	return &tally[K]{count: make(map[K]int), last: make(map[K]time.Time)}
}

func (t *tally[K]) add(k K, at time.Time) {
	t.count[k]++
	if at.After(t.last[k]) {
		t.last[k] = at
	}
}

// top returns up to n keys by count, then most recent, then less(a, b).
func (t *tally[K]) top(n int, less func(a, b K) bool) []K {
	keys := make([]K, 0, len(t.count))
	for k := range t.count {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if t.count[a] != t.count[b] {
			return t.count[a] > t.count[b]
		}
		if !t.last[a].Equal(t.last[b]) {
			return t.last[a].After(t.last[b])
		}
		return less(a, b)
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func buildProfile(userID string, actions []*alert.UserAction, minSamples int, loc *time.Location) *alert.UserAlertProfile {
	p := alert.NewUserAlertProfile(userID)

	conditions := newTally[alert.ConditionType]()
	priorities := newTally[alert.Priority]()
	hours := newTally[int]()

	symbolTotal := make(map[string]int)
	symbolPositive := make(map[string]int)
	conditionTotal := make(map[alert.ConditionType]int)
	conditionPositive := make(map[alert.ConditionType]int)

	var positive, snoozed int
	var responseSum time.Duration

	for _, a := range actions {
		pos := a.ActionType.IsPositive()
		responseSum += a.ResponseTime
		symbolTotal[a.Symbol]++
		for _, t := range a.ConditionTypes {
			conditionTotal[t]++
		}
		if a.ActionType == alert.ActionSnoozed {
			snoozed++
		}
		if !pos {
			continue
		}

		positive++
		symbolPositive[a.Symbol]++
		for _, t := range a.ConditionTypes {
			conditionPositive[t]++
			conditions.add(t, a.ActionAt)
		}
		if a.Priority != "" {
			priorities.add(a.Priority, a.ActionAt)
		}
		hours.add(a.ActionAt.In(loc).Hour(), a.ActionAt)
	}

	total := len(actions)
	p.TotalActions = total
	p.TopConditionTypes = conditions.top(topConditions, func(a, b alert.ConditionType) bool { return a < b })
	p.PreferredPriorities = priorities.top(topPriorities, func(a, b alert.Priority) bool { return a.Rank() > b.Rank() })
	p.ActiveHours = hours.top(topHours, func(a, b int) bool { return a < b })

	for symbol, n := range symbolTotal {
		rate := float64(symbolPositive[symbol]) / float64(n)
		share := float64(n) / float64(total)
		p.SymbolInterest[symbol] = clamp(rate * (0.7 + 0.3*share))
	}
	for t, n := range conditionTotal {
		if n >= minSamples {
			p.ConditionRelevance[t] = float64(conditionPositive[t]) / float64(n)
		}
	}

	p.AvgResponseTime = responseSum / time.Duration(total)
	p.ActionRate = float64(positive) / float64(total)
	p.SnoozeRate = float64(snoozed) / float64(total)
	return p
}
