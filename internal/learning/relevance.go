package learning

import (
	"math"
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

const (
	responseTimeScale = 300 * time.Second
	recencyWindow     = 7 * 24 * time.Hour

	weightActionRate   = 0.6
	weightResponseTime = 0.2
	weightRecency      = 0.2

	boostCondition = 0.15
	boostSymbol    = 0.15
	boostPriority  = 0.10
	boostHour      = 0.10
	baseRelevance  = alert.NeutralRelevance
)

// UpdateRuleRelevance folds the rule's action history into its relevance score
// and returns the new score. Fewer than MinActions actions leave it unchanged.
// The caller must hold whatever lock guards rule.
func (e *Engine) UpdateRuleRelevance(rule *alert.Rule, userID string) float64 {
	if userID == "" {
		userID = rule.UserID
	}

	e.mu.RLock()
	var actions []*alert.UserAction
	for _, a := range e.history[userID] {
		if a.RuleID == rule.ID {
			actions = append(actions, a)
		}
	}
	e.mu.RUnlock()

	if len(actions) < e.cfg.MinActions {
		return rule.RelevanceScore
	}

	now := e.now()
	var positive, recent int
	var rtScore float64
	for _, a := range actions {
		if a.ActionType.IsPositive() {
			positive++
		}
		rtScore += math.Exp(-a.ResponseTime.Seconds() / responseTimeScale.Seconds())
		if now.Sub(a.ActionAt) <= recencyWindow {
			recent++
		}
	}
	n := float64(len(actions))
	raw := weightActionRate*float64(positive)/n +
		weightResponseTime*rtScore/n +
		weightRecency*float64(recent)/n

	alpha := e.cfg.LearningRate
	score := clamp((1-alpha)*clamp(rule.RelevanceScore)+alpha*raw)
	rule.RelevanceScore = score
	return score
}

// PredictAlertRelevance scores a new alert against the user's profile. Users
// without a profile score 0.5.
func (e *Engine) PredictAlertRelevance(a *alert.TriggeredAlert, userID string) float64 {
	if a == nil {
		return baseRelevance
	}
	if userID == "" {
		userID = a.UserID
	}

	e.mu.RLock()
	p, ok := e.learned[userID]
	e.mu.RUnlock()
	if !ok || p == nil {
		return baseRelevance
	}

	score := baseRelevance

	best := -1
	for _, t := range a.ConditionTypes {
		if i := indexOf(p.TopConditionTypes, t); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	if best >= 0 {
		score += boostCondition * (1 - float64(best)/float64(topConditions))
	}

	score += boostSymbol * clamp(p.SymbolInterest[a.Symbol])

	if j := indexOf(p.PreferredPriorities, a.Priority); j >= 0 {
		score += boostPriority * (1 - float64(j)/float64(topPriorities))
	}

	hour := e.now().In(e.cfg.Location).Hour()
	for _, h := range p.ActiveHours {
		if h == hour {
			score += boostHour
			break
		}
	}

	return clamp(score)
}

func indexOf[T comparable](list []T, v T) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
