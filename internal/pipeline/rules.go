package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/internal/evaluator"
	"github.com/afikmenashe/smart-alerts/internal/learning"
	"github.com/afikmenashe/smart-alerts/internal/retry"
)

// AddRule validates, persists and registers a new rule. Unset fields get
// their defaults first. Rules that are not ACTIVE are persisted but not
// registered.
func (p *Pipeline) AddRule(ctx context.Context, rule *alert.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule cannot be nil", alert.ErrInvalidRule)
	}
	rule.ApplyDefaults()
	if err := rule.Validate(); err != nil {
		return err
	}
	if _, ok := p.registry.Get(rule.ID); ok {
		return fmt.Errorf("%w: %s", evaluator.ErrRuleExists, rule.ID)
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = p.now()
	}
	rule.UpdatedAt = p.now()

	if err := p.saveRule(ctx, rule); err != nil {
		return err
	}
	if rule.Status != alert.RuleActive {
		return nil
	}
	// A reload poll may have registered the saved row already.
	if err := p.registry.Upsert(rule); err != nil {
		return err
	}
	slog.Info("Rule added",
		"rule_id", rule.ID,
		"user_id", rule.UserID,
		"conditions", len(rule.Conditions),
	)
	return nil
}

// UpdateRule replaces a registered rule's definition. Bookkeeping fields are
// kept from the live rule. Moving a rule out of ACTIVE unregisters it.
func (p *Pipeline) UpdateRule(ctx context.Context, rule *alert.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule cannot be nil", alert.ErrInvalidRule)
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	current, ok := p.registry.Get(rule.ID)
	if !ok {
		return fmt.Errorf("%w: %s", evaluator.ErrRuleNotFound, rule.ID)
	}
	if rule.UserID != current.UserID {
		return fmt.Errorf("%w: rule %s belongs to another user", alert.ErrInvalidRule, rule.ID)
	}

	next := rule.Clone()
	next.CreatedAt = current.CreatedAt
	next.LastTriggeredAt = current.LastTriggeredAt
	next.TriggerCount = current.TriggerCount
	next.ActionCount = current.ActionCount
	next.RelevanceScore = current.RelevanceScore
	next.UpdatedAt = p.now()
	if next.Status == "" {
		next.Status = current.Status
	}
	next.ApplyDefaults()

	if err := p.saveRule(ctx, next); err != nil {
		return err
	}
	if next.Status != alert.RuleActive {
		if err := p.registry.Remove(next.ID); err != nil && !errors.Is(err, evaluator.ErrRuleNotFound) {
			return err
		}
		slog.Info("Rule deactivated", "rule_id", next.ID, "status", next.Status)
		return nil
	}
	if err := p.registry.Update(next); err != nil {
		return err
	}
	slog.Info("Rule updated", "rule_id", next.ID, "user_id", next.UserID)
	return nil
}

// RemoveRule deletes a rule from the store and the registry.
func (p *Pipeline) RemoveRule(ctx context.Context, ruleID string) error {
	storeMissing := true
	if p.rules != nil {
		err := retry.WithRetry(ctx, p.cfg.Retry, "delete_rule", func() error {
			return p.rules.DeleteRule(ctx, ruleID)
		})
		switch {
		case err == nil:
			storeMissing = false
		case !errors.Is(err, alert.ErrNotFound):
			return fmt.Errorf("failed to delete rule: %w", err)
		}
	}

	err := p.registry.Remove(ruleID)
	if errors.Is(err, evaluator.ErrRuleNotFound) && !storeMissing {
		err = nil
	}
	if err != nil {
		return err
	}
	slog.Info("Rule removed", "rule_id", ruleID)
	return nil
}

// Rule returns a copy of a registered rule.
func (p *Pipeline) Rule(ruleID string) (*alert.Rule, bool) {
	return p.registry.Get(ruleID)
}

// Rules returns copies of every registered rule.
func (p *Pipeline) Rules() []*alert.Rule {
	return p.registry.Rules()
}

func (p *Pipeline) saveRule(ctx context.Context, rule *alert.Rule) error {
	if p.rules == nil {
		return nil
	}
	err := retry.WithRetry(ctx, p.cfg.Retry, "save_rule", func() error {
		return p.rules.SaveRule(ctx, rule)
	})
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// SetPreferences validates and stores the user's delivery preferences.
func (p *Pipeline) SetPreferences(ctx context.Context, userID string, prefs *alert.DeliveryPreference) error {
	return p.notifier.SetPreferences(ctx, userID, prefs)
}

// Preferences returns the user's delivery preferences or the defaults.
func (p *Pipeline) Preferences(ctx context.Context, userID string) *alert.DeliveryPreference {
	return p.notifier.Preferences(ctx, userID)
}

// TestChannel sends a test notification on one channel.
func (p *Pipeline) TestChannel(ctx context.Context, userID string, channel alert.Channel) (alert.DeliveryStatus, error) {
	return p.notifier.TestChannel(ctx, userID, channel)
}

// DeliveryHistory returns the user's recent delivery records.
func (p *Pipeline) DeliveryHistory(userID string) []alert.DeliveryRecord {
	return p.notifier.History(userID)
}

func (p *Pipeline) Analytics(userID, ruleID string, days int) *learning.Analytics {
	return p.learning.GenerateAnalytics(userID, ruleID, days)
}

func (p *Pipeline) Recommendations(userID string, n int) []learning.Recommendation {
	return p.learning.GetAlertRecommendations(userID, n)
}

// Profile returns the user's learned profile, or nil before enough actions.
func (p *Pipeline) Profile(ctx context.Context, userID string) *alert.UserAlertProfile {
	return p.learning.Profile(ctx, userID)
}

// LearnProfile rebuilds the user's profile from the recorded actions now.
func (p *Pipeline) LearnProfile(ctx context.Context, userID string) *alert.UserAlertProfile {
	return p.learning.LearnUserProfile(ctx, userID)
}
