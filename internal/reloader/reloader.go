// Package reloader polls the rule store for changed rules and applies them to
// the in-memory registry.
package reloader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/internal/evaluator"
)

// RuleSource is the store side of a reload.
type RuleSource interface {
	ListRulesUpdatedSince(ctx context.Context, since time.Time) ([]*alert.Rule, error)
	ActiveRuleIDs(ctx context.Context) ([]string, error)
}

// RuleSink is the registry side of a reload.
type RuleSink interface {
	Upsert(rule *alert.Rule) error
	Remove(id string) error
	Rules() []*alert.Rule
}

// Reloader applies store changes to the registry on an interval.
type Reloader struct {
	source       RuleSource
	sink         RuleSink
	pollInterval time.Duration
	now          func() time.Time

	mu    sync.Mutex
	since time.Time
}

// NewReloader creates a reloader that picks up changes made after since.
func NewReloader(source RuleSource, sink RuleSink, pollInterval time.Duration, since time.Time) *Reloader {
	return &Reloader{
		source:       source,
		sink:         sink,
		pollInterval: pollInterval,
		now:          time.Now,
		since:        since,
	}
}

// Start begins polling in a background goroutine that exits when ctx is cancelled.
func (r *Reloader) Start(ctx context.Context) {
	slog.Info("Starting rule reloader",
		"poll_interval", r.pollInterval,
		"since", r.Since(),
	)
	go r.pollLoop(ctx)
}

func (r *Reloader) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Rule reloader stopped")
			return
		case <-ticker.C:
			if err := r.ReloadNow(ctx); err != nil {
				slog.Error("Failed to reload rules", "error", err)
			}
		}
	}
}

// Since returns the update watermark of the last applied change.
func (r *Reloader) Since() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.since
}

// ReloadNow applies rules changed since the watermark, then removes
// registered rules that are no longer active in the store.
func (r *Reloader) ReloadNow(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed, err := r.source.ListRulesUpdatedSince(ctx, r.since)
	if err != nil {
		return err
	}

	now := r.now()
	upserted, removed := 0, 0
	for _, rule := range changed {
		if rule.UpdatedAt.After(r.since) {
			r.since = rule.UpdatedAt
		}
		if rule.Status == alert.RuleActive && !rule.Expired(now) {
			if err := r.sink.Upsert(rule); err != nil {
				slog.Warn("Skipping invalid rule from store", "rule_id", rule.ID, "error", err)
				continue
			}
			upserted++
			continue
		}
		if r.remove(rule.ID) {
			removed++
		}
	}

	ids, err := r.source.ActiveRuleIDs(ctx)
	if err != nil {
		return err
	}
	active := make(map[string]bool, len(ids))
	for _, id := range ids {
		active[id] = true
	}
	for _, rule := range r.sink.Rules() {
		if !active[rule.ID] && r.remove(rule.ID) {
			removed++
		}
	}

	if upserted > 0 || removed > 0 {
		slog.Info("Rules reloaded",
			"upserted", upserted,
			"removed", removed,
			"since", r.since,
		)
	}
	return nil
}

func (r *Reloader) remove(id string) bool {
	err := r.sink.Remove(id)
	if err == nil {
		return true
	}
	if !errors.Is(err, evaluator.ErrRuleNotFound) {
		slog.Warn("Failed to remove rule", "rule_id", id, "error", err)
	}
	return false
}
