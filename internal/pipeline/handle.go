package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/internal/evaluator"
)

// HandleEvent evaluates one market update. Positions carried by the event are
// applied to the position book before evaluation. Consolidations that flush
// are queued for delivery; the triggered alerts are returned.
func (p *Pipeline) HandleEvent(ctx context.Context, md *alert.MarketData, positions []alert.Position) ([]*alert.TriggeredAlert, error) {
	if md == nil || md.Symbol == "" {
		return nil, fmt.Errorf("market data symbol cannot be empty")
	}
	start := p.now()
	p.metrics.RecordReceived()

	if len(positions) > 0 {
		p.positions.apply(positions)
	}

	triggered := p.evaluator.Evaluate(md, p.positions.forSymbol(md.Symbol))
	if len(triggered) == 0 {
		p.metrics.RecordProcessed(p.now().Sub(start))
		return nil, nil
	}

	var (
		users  []string
		byUser = make(map[string][]*alert.TriggeredAlert)
		scored = make(map[string]bool)
	)
	for _, a := range triggered {
		if _, ok := scored[a.UserID]; !ok {
			scored[a.UserID] = p.learning.Profile(ctx, a.UserID) != nil
			users = append(users, a.UserID)
		}
		if scored[a.UserID] {
			a.RelevanceScore = p.learning.PredictAlertRelevance(a, a.UserID)
		}
		p.learning.ObserveAlert(a)
		p.index.put(a)
		byUser[a.UserID] = append(byUser[a.UserID], a)

		slog.Info("Rule triggered",
			"rule_id", a.RuleID,
			"user_id", a.UserID,
			"symbol", a.Symbol,
			"priority", a.Priority,
			"relevance", a.RelevanceScore,
		)

		if rule, ok := p.registry.Get(a.RuleID); ok {
			p.persistRuleState(ctx, rule)
		}
	}
	p.metrics.RecordTriggered(len(triggered))

	for _, userID := range users {
		prefs := p.notifier.Preferences(ctx, userID)
		for _, ca := range p.consolidator.ProcessBatch(byUser[userID], prefs) {
			p.metrics.RecordConsolidated()
			p.enqueue(ca)
		}
	}

	p.metrics.RecordProcessed(p.now().Sub(start))
	return triggered, nil
}

// RecordAction records a user's reaction to a previously triggered alert,
// bumps the rule's action count, refreshes its relevance and persists the
// new rule state.
func (p *Pipeline) RecordAction(ctx context.Context, userID, alertID string, actionType alert.ActionType, at time.Time) (*alert.UserAction, error) {
	a, ok := p.index.get(alertID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}
	if userID != "" && userID != a.UserID {
		return nil, fmt.Errorf("alert %s does not belong to user %s", alertID, userID)
	}

	action, err := p.learning.RecordUserAction(ctx, a.UserID, a, actionType, at)
	if err != nil {
		return nil, err
	}

	var updated *alert.Rule
	err = p.registry.WithRule(a.RuleID, func(rule *alert.Rule) {
		rule.ActionCount++
		p.learning.UpdateRuleRelevance(rule, a.UserID)
		updated = rule.Clone()
	})
	if errors.Is(err, evaluator.ErrRuleNotFound) {
		slog.Debug("Action recorded for unregistered rule",
			"rule_id", a.RuleID,
			"alert_id", alertID,
		)
		return action, nil
	}
	if err != nil {
		return nil, err
	}

	p.persistRuleState(ctx, updated)
	slog.Info("User action recorded",
		"user_id", a.UserID,
		"alert_id", alertID,
		"rule_id", a.RuleID,
		"action_type", actionType,
		"relevance", updated.RelevanceScore,
	)
	return action, nil
}

// Alert returns an indexed triggered alert.
func (p *Pipeline) Alert(alertID string) (*alert.TriggeredAlert, bool) {
	return p.index.get(alertID)
}

// UpdatePositions replaces the user's full position list.
func (p *Pipeline) UpdatePositions(userID string, positions []alert.Position) {
	p.positions.replace(userID, positions)
}

// Positions returns the user's open positions ordered by symbol.
func (p *Pipeline) Positions(userID string) []alert.Position {
	return p.positions.forUser(userID)
}
