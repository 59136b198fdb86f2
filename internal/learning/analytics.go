package learning

import (
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// Recommendation suggests a condition type the user tends to act on.
type Recommendation struct {
	ConditionType alert.ConditionType `json:"condition_type"`
	Relevance     float64             `json:"relevance"`
	Priority      alert.Priority      `json:"priority"`
	Rank          int                 `json:"rank"`
}

// GetAlertRecommendations returns up to n recommendations in the order of the
// profile's top condition types. n <= 0 returns all of them.
func (e *Engine) GetAlertRecommendations(userID string, n int) []Recommendation {
	e.mu.RLock()
	p, ok := e.learned[userID]
	e.mu.RUnlock()
	if !ok || p == nil {
		return nil
	}

	priority := alert.PriorityMedium
	if len(p.PreferredPriorities) > 0 {
		priority = p.PreferredPriorities[0]
	}

	types := p.TopConditionTypes
	if n > 0 && n < len(types) {
		types = types[:n]
	}
	recs := make([]Recommendation, 0, len(types))
	for i, t := range types {
		relevance, ok := p.ConditionRelevance[t]
		if !ok {
			relevance = p.ActionRate
		}
		recs = append(recs, Recommendation{
			ConditionType: t,
			Relevance:     clamp(relevance),
			Priority:      priority,
			Rank:          i + 1,
		})
	}
	return recs
}

// Analytics summarizes a user's alert activity over a trailing window.
type Analytics struct {
	UserID          string                      `json:"user_id"`
	RuleID          string                      `json:"rule_id,omitempty"`
	Days            int                         `json:"days"`
	Since           time.Time                   `json:"since"`
	TotalTriggered  int                         `json:"total_triggered"`
	TotalActions    int                         `json:"total_actions"`
	PositiveActions int                         `json:"positive_actions"`
	ActionRate      float64                     `json:"action_rate"`
	SnoozeRate      float64                     `json:"snooze_rate"`
	DismissRate     float64                     `json:"dismiss_rate"`
	AvgResponseTime time.Duration               `json:"avg_response_time"`
	ByActionType    map[alert.ActionType]int    `json:"by_action_type"`
	ByConditionType map[alert.ConditionType]int `json:"by_condition_type"`
	BySymbol        map[string]int              `json:"by_symbol"`
	DailyActions    map[string]int              `json:"daily_actions"`
}

// GenerateAnalytics aggregates actions and triggers of the last days days,
// restricted to ruleID when it is set. days <= 0 means thirty.
func (e *Engine) GenerateAnalytics(userID, ruleID string, days int) *Analytics {
	if days <= 0 {
		days = 30
	}
	since := e.now().Add(-time.Duration(days) * 24 * time.Hour)

	out := &Analytics{
		UserID:          userID,
		RuleID:          ruleID,
		Days:            days,
		Since:           since,
		ByActionType:    make(map[alert.ActionType]int),
		ByConditionType: make(map[alert.ConditionType]int),
		BySymbol:        make(map[string]int),
		DailyActions:    make(map[string]int),
	}

	e.mu.RLock()
	for _, t := range e.triggers[userID] {
		if t.at.Before(since) || (ruleID != "" && t.ruleID != ruleID) {
			continue
		}
		out.TotalTriggered++
	}
	var responseSum time.Duration
	var snoozed, dismissed int
	for _, a := range e.history[userID] {
		if a.ActionAt.Before(since) || (ruleID != "" && a.RuleID != ruleID) {
			continue
		}
		out.TotalActions++
		if a.ActionType.IsPositive() {
			out.PositiveActions++
		}
		switch a.ActionType {
		case alert.ActionSnoozed:
			snoozed++
		case alert.ActionDismissed:
			dismissed++
		}
		responseSum += a.ResponseTime
		out.ByActionType[a.ActionType]++
		for _, t := range a.ConditionTypes {
			out.ByConditionType[t]++
		}
		out.BySymbol[a.Symbol]++
		out.DailyActions[a.ActionAt.In(e.cfg.Location).Format("2006-01-02")]++
	}
	e.mu.RUnlock()

	if out.TotalActions > 0 {
		n := float64(out.TotalActions)
		out.ActionRate = float64(out.PositiveActions) / n
		out.SnoozeRate = float64(snoozed) / n
		out.DismissRate = float64(dismissed) / n
		out.AvgResponseTime = responseSum / time.Duration(out.TotalActions)
	}
	return out
}
