// Package pipeline wires evaluation, consolidation, learning and delivery
// into one service. Market events are evaluated inline; consolidated alerts
// are delivered by a worker pool so delivery never blocks evaluation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/internal/consolidator"
	"github.com/afikmenashe/smart-alerts/internal/evaluator"
	"github.com/afikmenashe/smart-alerts/internal/learning"
	"github.com/afikmenashe/smart-alerts/internal/metrics"
	"github.com/afikmenashe/smart-alerts/internal/retry"
)

// ErrAlertNotFound is returned for actions on alerts the index no longer holds.
var ErrAlertNotFound = errors.New("alert not found")

// RuleStore persists rule definitions and their runtime bookkeeping.
type RuleStore interface {
	LoadActiveRules(ctx context.Context) ([]*alert.Rule, error)
	SaveRule(ctx context.Context, rule *alert.Rule) error
	UpdateRuleState(ctx context.Context, rule *alert.Rule) error
	DeleteRule(ctx context.Context, ruleID string) error
}

// Publisher forwards delivered consolidations downstream.
type Publisher interface {
	Publish(ctx context.Context, ca *alert.ConsolidatedAlert) error
}

// Notifier delivers consolidations and owns delivery preferences.
type Notifier interface {
	Deliver(ctx context.Context, ca *alert.ConsolidatedAlert) map[alert.Channel]alert.DeliveryStatus
	Preferences(ctx context.Context, userID string) *alert.DeliveryPreference
	SetPreferences(ctx context.Context, userID string, prefs *alert.DeliveryPreference) error
	TestChannel(ctx context.Context, userID string, channel alert.Channel) (alert.DeliveryStatus, error)
	History(userID string) []alert.DeliveryRecord
}

// Config holds the pipeline settings.
type Config struct {
	Consolidation consolidator.Config
	Learning      learning.Config
	Workers       int
	QueueSize     int
	// AlertIndexSize bounds how many triggered alerts stay resolvable for actions.
	AlertIndexSize int
	// WarmWindow is how far back persisted actions are restored on Start.
	WarmWindow time.Duration
	Retry      retry.Config
}

// DefaultConfig returns the component defaults, eight workers and a week of warm-up history.
func DefaultConfig() Config {
	return Config{
		Consolidation:  consolidator.DefaultConfig(),
		Learning:       learning.DefaultConfig(),
		Workers:        8,
		QueueSize:      1024,
		AlertIndexSize: 10000,
		WarmWindow:     7 * 24 * time.Hour,
		Retry:          retry.DefaultConfig(),
	}
}

// Deps are the pipeline's collaborators. Only Notifier is required.
type Deps struct {
	Notifier  Notifier
	Rules     RuleStore
	Publisher Publisher
	Actions   learning.ActionStore
	Profiles  learning.ProfileStore
	Metrics   metrics.Recorder
	Clock     func() time.Time
}

// Pipeline is safe for concurrent use between Start and Stop.
type Pipeline struct {
	cfg       Config
	now       func() time.Time
	notifier  Notifier
	rules     RuleStore
	publisher Publisher
	metrics   metrics.Recorder

	registry     *evaluator.Registry
	evaluator    *evaluator.Engine
	consolidator *consolidator.Engine
	learning     *learning.Engine
	index        *alertIndex
	positions    *positionBook

	mu        sync.RWMutex
	started   bool
	stopped   bool
	queue     chan *alert.ConsolidatedAlert
	runCtx    context.Context
	cancel    context.CancelFunc
	workers   sync.WaitGroup
	overflow  sync.WaitGroup
	watermark time.Time
}

// New builds a pipeline. It does not touch the stores until Start.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Notifier == nil {
		return nil, fmt.Errorf("notifier cannot be nil")
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.AlertIndexSize <= 0 {
		cfg.AlertIndexSize = def.AlertIndexSize
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry = def.Retry
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoOp()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	p := &Pipeline{
		cfg:       cfg,
		now:       deps.Clock,
		notifier:  deps.Notifier,
		rules:     deps.Rules,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		registry:  evaluator.NewRegistry(),
		index:     newAlertIndex(cfg.AlertIndexSize),
		positions: newPositionBook(),
		queue:     make(chan *alert.ConsolidatedAlert, cfg.QueueSize),
	}

	p.evaluator = evaluator.NewEngine(p.registry,
		evaluator.WithClock(deps.Clock),
		evaluator.WithExpiryHook(p.onRuleExpired),
	)
	p.consolidator = consolidator.New(cfg.Consolidation,
		consolidator.WithClock(deps.Clock),
		consolidator.WithFlushFunc(func(ctx context.Context, ca *alert.ConsolidatedAlert) {
			p.metrics.RecordConsolidated()
			p.enqueue(ca)
		}),
	)

	opts := []learning.Option{learning.WithClock(deps.Clock)}
	if deps.Actions != nil {
		opts = append(opts, learning.WithActionStore(deps.Actions))
	}
	if deps.Profiles != nil {
		opts = append(opts, learning.WithProfileStore(deps.Profiles))
	}
	p.learning = learning.New(cfg.Learning, opts...)

	return p, nil
}

// Start loads active rules, restores recent actions and starts the sweep,
// the learning cycle and the delivery workers.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pipeline already started")
	}

	if err := p.loadRules(ctx); err != nil {
		return err
	}
	if p.cfg.WarmWindow > 0 {
		if err := p.learning.Warm(ctx, p.now().Add(-p.cfg.WarmWindow)); err != nil {
			slog.Warn("Failed to restore user actions", "error", err)
		}
	}

	p.runCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < p.cfg.Workers; i++ {
		p.workers.Add(1)
		go p.deliveryWorker()
	}
	if err := p.consolidator.Start(p.runCtx); err != nil {
		p.abortStart()
		return fmt.Errorf("failed to start consolidation sweep: %w", err)
	}
	if err := p.learning.Start(p.runCtx); err != nil {
		p.consolidator.Stop()
		p.abortStart()
		return fmt.Errorf("failed to start learning cycle: %w", err)
	}

	p.started = true
	slog.Info("Pipeline started",
		"rules", p.registry.Len(),
		"workers", p.cfg.Workers,
		"queue_size", p.cfg.QueueSize,
	)
	return nil
}

// abortStart must be called with p.mu held.
func (p *Pipeline) abortStart() {
	close(p.queue)
	p.workers.Wait()
	p.cancel()
	p.queue = make(chan *alert.ConsolidatedAlert, p.cfg.QueueSize)
}

func (p *Pipeline) loadRules(ctx context.Context) error {
	if p.rules == nil {
		return nil
	}
	rules, err := p.rules.LoadActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active rules: %w", err)
	}
	now := p.now()
	for _, r := range rules {
		if r.UpdatedAt.After(p.watermark) {
			p.watermark = r.UpdatedAt
		}
		if r.Expired(now) {
			continue
		}
		if err := p.registry.Upsert(r); err != nil {
			slog.Warn("Skipping invalid rule from store", "rule_id", r.ID, "error", err)
		}
	}
	slog.Info("Loaded active rules", "count", p.registry.Len())
	return nil
}

// Stop halts the sweep and the learning cycle, flushes every pending buffer,
// delivers everything queued and waits for the workers. It is idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.consolidator.Stop()
	p.learning.Stop()

	flushed := p.consolidator.ForceFlushAll()
	for _, ca := range flushed {
		p.metrics.RecordConsolidated()
		p.enqueue(ca)
	}

	p.mu.Lock()
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.workers.Wait()
	p.overflow.Wait()
	p.cancel()

	slog.Info("Pipeline stopped", "flushed", len(flushed))
}

// RuleWatermark returns the newest updated_at of the rules loaded on Start.
func (p *Pipeline) RuleWatermark() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.watermark
}

// Registry exposes the live rule registry for the reloader.
func (p *Pipeline) Registry() *evaluator.Registry {
	return p.registry
}

// enqueue hands a consolidation to the workers. A full queue spills into a
// dedicated goroutine; after Stop the consolidation is delivered inline.
func (p *Pipeline) enqueue(ca *alert.ConsolidatedAlert) {
	p.mu.RLock()
	if !p.started || p.stopped {
		p.mu.RUnlock()
		p.deliver(context.Background(), ca)
		return
	}
	select {
	case p.queue <- ca:
		p.mu.RUnlock()
		return
	default:
	}
	p.overflow.Add(1)
	ctx := p.runCtx
	p.mu.RUnlock()

	slog.Warn("Delivery queue full, dispatching directly",
		"consolidated_alert_id", ca.ID,
		"user_id", ca.UserID,
	)
	go func() {
		defer p.overflow.Done()
		p.deliver(ctx, ca)
	}()
}

func (p *Pipeline) deliveryWorker() {
	defer p.workers.Done()
	for ca := range p.queue {
		p.deliver(p.runCtx, ca)
	}
}

// deliver sends ca through the notifier, then publishes it downstream.
func (p *Pipeline) deliver(ctx context.Context, ca *alert.ConsolidatedAlert) {
	results := p.notifier.Deliver(ctx, ca)

	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, ca); err != nil {
		slog.Error("Failed to publish consolidated alert",
			"consolidated_alert_id", ca.ID,
			"user_id", ca.UserID,
			"error", err,
		)
		p.metrics.RecordError()
		return
	}
	p.metrics.RecordPublished()
	slog.Debug("Consolidated alert published",
		"consolidated_alert_id", ca.ID,
		"channels", len(results),
	)
}

func (p *Pipeline) onRuleExpired(rule *alert.Rule) {
	r := rule.Clone()
	r.Status = alert.RuleExpired
	p.persistRuleState(context.Background(), r)
}

func (p *Pipeline) persistRuleState(ctx context.Context, rule *alert.Rule) {
	if p.rules == nil {
		return
	}
	err := retry.WithRetry(ctx, p.cfg.Retry, "update_rule_state", func() error {
		return p.rules.UpdateRuleState(ctx, rule)
	})
	if err != nil && !errors.Is(err, alert.ErrNotFound) {
		slog.Error("Failed to persist rule state",
			"rule_id", rule.ID,
			"error", err,
		)
		p.metrics.RecordError()
	}
}
