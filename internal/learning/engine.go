// Package learning maintains per-rule relevance scores and per-user alert
// profiles from the actions users take on delivered alerts.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/pkg/scheduler"
)

// ErrUnknownAction is returned for action types outside the defined set.
var ErrUnknownAction = errors.New("unknown action type")

// ActionStore persists recorded actions.
type ActionStore interface {
	InsertUserAction(ctx context.Context, action *alert.UserAction) error
	ListUserActions(ctx context.Context, since time.Time) ([]*alert.UserAction, error)
}

// ProfileStore caches learned profiles across restarts.
type ProfileStore interface {
	SaveProfile(ctx context.Context, profile *alert.UserAlertProfile) error
	LoadProfile(ctx context.Context, userID string) (*alert.UserAlertProfile, error)
}

// Config holds the learning parameters.
type Config struct {
	// LearningRate is the smoothing factor applied to new relevance scores.
	LearningRate float64
	// MinActions is the sample size needed before a score or profile changes.
	MinActions        int
	CycleSpec         string
	Location          *time.Location
	MaxActionsPerUser int
}

// DefaultConfig returns alpha 0.1, ten actions, a fifteen minute cycle and UTC hours.
func DefaultConfig() Config {
	return Config{
		LearningRate:      0.1,
		MinActions:        10,
		CycleSpec:         "@every 15m",
		Location:          time.UTC,
		MaxActionsPerUser: 5000,
	}
}

type triggerRecord struct {
	ruleID string
	at     time.Time
}

// Engine records user actions and derives scores from them. It is safe for
// concurrent use; rule mutation in UpdateRuleRelevance is the caller's to guard.
type Engine struct {
	cfg      Config
	now      func() time.Time
	actions  ActionStore
	profiles ProfileStore

	mu       sync.RWMutex
	history  map[string][]*alert.UserAction
	learned  map[string]*alert.UserAlertProfile
	triggers map[string][]triggerRecord
	dirty    map[string]bool
	runner   *scheduler.Runner
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithActionStore persists every recorded action.
func WithActionStore(s ActionStore) Option {
	return func(e *Engine) { e.actions = s }
}

// WithProfileStore saves learned profiles and reads them back on a miss.
func WithProfileStore(s ProfileStore) Option {
	return func(e *Engine) { e.profiles = s }
}

// New creates an engine. Zero config values fall back to the defaults.
func New(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.MinActions <= 0 {
		cfg.MinActions = def.MinActions
	}
	if cfg.CycleSpec == "" {
		cfg.CycleSpec = def.CycleSpec
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.MaxActionsPerUser <= 0 {
		cfg.MaxActionsPerUser = def.MaxActionsPerUser
	}
	e := &Engine{
		cfg:      cfg,
		now:      time.Now,
		history:  make(map[string][]*alert.UserAction),
		learned:  make(map[string]*alert.UserAlertProfile),
		triggers: make(map[string][]triggerRecord),
		dirty:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordUserAction stores the action a user took on a triggered alert and sets
// the alert's action fields. A zero at means now.
func (e *Engine) RecordUserAction(ctx context.Context, userID string, a *alert.TriggeredAlert, actionType alert.ActionType, at time.Time) (*alert.UserAction, error) {
	if a == nil {
		return nil, fmt.Errorf("alert cannot be nil")
	}
	if !actionType.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
	}
	if userID == "" {
		userID = a.UserID
	}
	if at.IsZero() {
		at = e.now()
	}

	rt := at.Sub(a.TriggeredAt)
	if rt < 0 {
		rt = 0
	}
	action := &alert.UserAction{
		ID:             uuid.New().String(),
		UserID:         userID,
		AlertID:        a.ID,
		RuleID:         a.RuleID,
		Symbol:         a.Symbol,
		Priority:       a.Priority,
		ConditionTypes: append([]alert.ConditionType(nil), a.ConditionTypes...),
		ActionType:     actionType,
		TriggeredAt:    a.TriggeredAt,
		ActionAt:       at,
		ResponseTime:   rt,
	}

	a.UserActed = true
	a.ActionType = actionType
	ts := at
	a.ActionTimestamp = &ts

	e.mu.Lock()
	e.appendLocked(action)
	e.mu.Unlock()

	if e.actions != nil {
		if err := e.actions.InsertUserAction(ctx, action); err != nil {
			slog.Error("Failed to persist user action",
				"user_id", userID,
				"alert_id", a.ID,
				"error", err,
			)
		}
	}

	slog.Debug("User action recorded",
		"user_id", userID,
		"rule_id", a.RuleID,
		"action_type", actionType,
		"response_time", rt,
	)
	return action, nil
}

// ObserveAlert counts a triggered alert for analytics.
func (e *Engine) ObserveAlert(a *alert.TriggeredAlert) {
	if a == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	log := append(e.triggers[a.UserID], triggerRecord{ruleID: a.RuleID, at: a.TriggeredAt})
	if over := len(log) - e.cfg.MaxActionsPerUser; over > 0 {
		log = log[over:]
	}
	e.triggers[a.UserID] = log
}

// Restore loads previously persisted actions without persisting them again.
// Affected users are re-learned on the next cycle.
func (e *Engine) Restore(actions []*alert.UserAction) {
	sorted := make([]*alert.UserAction, 0, len(actions))
	for _, a := range actions {
		if a != nil && a.UserID != "" {
			sorted = append(sorted, a)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ActionAt.Before(sorted[j].ActionAt) })

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range sorted {
		e.appendLocked(a)
	}
}

// Warm restores actions recorded since the given time from the action store.
func (e *Engine) Warm(ctx context.Context, since time.Time) error {
	if e.actions == nil {
		return nil
	}
	actions, err := e.actions.ListUserActions(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to load user actions: %w", err)
	}
	e.Restore(actions)
	slog.Info("Restored user actions", "count", len(actions), "since", since)
	return nil
}

// Actions returns a copy of the user's recorded actions, oldest first.
func (e *Engine) Actions(userID string) []*alert.UserAction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*alert.UserAction(nil), e.history[userID]...)
}

// Profile returns the learned profile for userID, consulting the profile
// store on a miss. It returns nil when none exists.
func (e *Engine) Profile(ctx context.Context, userID string) *alert.UserAlertProfile {
	e.mu.RLock()
	p, ok := e.learned[userID]
	e.mu.RUnlock()
	if ok {
		return p
	}
	if e.profiles == nil {
		return nil
	}

	p, err := e.profiles.LoadProfile(ctx, userID)
	if errors.Is(err, alert.ErrNotFound) {
		return nil
	}
	if err != nil {
		slog.Warn("Failed to load cached profile", "user_id", userID, "error", err)
		return nil
	}
	if p == nil {
		return nil
	}
	e.mu.Lock()
	if _, exists := e.learned[userID]; !exists {
		e.learned[userID] = p
	}
	p = e.learned[userID]
	e.mu.Unlock()
	return p
}

// Start schedules the periodic learning cycle.
func (e *Engine) Start(ctx context.Context) error {
	e.runner = scheduler.New("learning-cycle")
	if err := e.runner.Add(e.cfg.CycleSpec, e.RunCycle); err != nil {
		return err
	}
	e.runner.Start(ctx)
	return nil
}

// Stop halts the learning cycle.
func (e *Engine) Stop() {
	if e.runner != nil {
		e.runner.Stop()
	}
}

// RunCycle re-learns the profile of every user with actions recorded since
// the previous cycle.
func (e *Engine) RunCycle(ctx context.Context) {
	e.mu.Lock()
	users := make([]string, 0, len(e.dirty))
	for id := range e.dirty {
		users = append(users, id)
	}
	e.dirty = make(map[string]bool)
	e.mu.Unlock()

	sort.Strings(users)
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		e.LearnUserProfile(ctx, userID)
	}
	if len(users) > 0 {
		slog.Info("Learning cycle complete", "users", len(users))
	}
}

// appendLocked must be called with e.mu held.
func (e *Engine) appendLocked(a *alert.UserAction) {
	h := append(e.history[a.UserID], a)
	if over := len(h) - e.cfg.MaxActionsPerUser; over > 0 {
		h = h[over:]
	}
	e.history[a.UserID] = h
	e.dirty[a.UserID] = true
}
