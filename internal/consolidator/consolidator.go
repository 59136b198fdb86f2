// Package consolidator batches a user's triggered alerts into consolidated
// deliveries over a time and size window.
package consolidator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/pkg/scheduler"
)

// Config controls flush thresholds and the sweep schedule.
type Config struct {
	Window     time.Duration
	MaxPending int
	SweepSpec  string
}

// DefaultConfig returns a five minute window, a ten alert cap and a thirty
// second sweep.
func DefaultConfig() Config {
	return Config{
		Window:     5 * time.Minute,
		MaxPending: 10,
		SweepSpec:  "@every 30s",
	}
}

// FlushFunc receives consolidations produced by the background sweep.
type FlushFunc func(ctx context.Context, ca *alert.ConsolidatedAlert)

type buffer struct {
	mu        sync.Mutex
	pending   []*alert.TriggeredAlert
	lastFlush time.Time
}

// Engine holds one pending buffer per user.
type Engine struct {
	cfg     Config
	now     func() time.Time
	onFlush FlushFunc

	mu      sync.Mutex
	buffers map[string]*buffer

	runner *scheduler.Runner
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithFlushFunc sets the sink for sweep results.
func WithFlushFunc(fn FlushFunc) Option {
	return func(e *Engine) { e.onFlush = fn }
}

// New creates an engine. Zero config values fall back to the defaults.
func New(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = def.MaxPending
	}
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = def.SweepSpec
	}
	e := &Engine{
		cfg:     cfg,
		now:     time.Now,
		buffers: make(map[string]*buffer),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process buffers a triggered alert and returns a consolidation when the
// user's buffer flushes, or nil while buffering. Alerts that opt out of
// consolidation, or users who disabled it, are wrapped immediately.
func (e *Engine) Process(a *alert.TriggeredAlert, prefs *alert.DeliveryPreference) *alert.ConsolidatedAlert {
	out := e.ProcessBatch([]*alert.TriggeredAlert{a}, prefs)
	if len(out) == 0 {
		return nil
	}
	return out[0]
}

// ProcessBatch buffers alerts that arrived together. Each user's alerts are
// appended under one lock before the flush thresholds are checked, so a batch
// larger than MaxPending flushes as a whole. prefs applies to every alert.
func (e *Engine) ProcessBatch(alerts []*alert.TriggeredAlert, prefs *alert.DeliveryPreference) []*alert.ConsolidatedAlert {
	now := e.now()
	bypass := prefs != nil && !prefs.ConsolidationEnabled

	var (
		out    []*alert.ConsolidatedAlert
		order  []string
		byUser = make(map[string][]*alert.TriggeredAlert)
	)
	for _, a := range alerts {
		if a == nil {
			continue
		}
		if bypass || !a.AllowConsolidation {
			ca := single(a, now)
			a.ConsolidatedAlertID = ca.ID
			out = append(out, ca)
			continue
		}
		if _, ok := byUser[a.UserID]; !ok {
			order = append(order, a.UserID)
		}
		byUser[a.UserID] = append(byUser[a.UserID], a)
	}

	for _, userID := range order {
		b := e.buffer(userID, now)
		b.mu.Lock()
		b.pending = append(b.pending, byUser[userID]...)
		var batch []*alert.TriggeredAlert
		if len(b.pending) >= e.cfg.MaxPending || now.Sub(b.lastFlush) >= e.cfg.Window {
			batch = b.take(now)
		}
		b.mu.Unlock()

		if batch != nil {
			out = append(out, e.consolidate(userID, batch, now))
		}
	}
	return out
}

// ForceFlush consolidates everything pending for userID. It returns nil and
// touches no alert when nothing is pending.
func (e *Engine) ForceFlush(userID string) *alert.ConsolidatedAlert {
	e.mu.Lock()
	b, ok := e.buffers[userID]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	now := e.now()
	b.mu.Lock()
	batch := b.take(now)
	b.mu.Unlock()
	if batch == nil {
		return nil
	}
	return e.consolidate(userID, batch, now)
}

// ForceFlushAll flushes every user with pending alerts, ordered by user id.
func (e *Engine) ForceFlushAll() []*alert.ConsolidatedAlert {
	var out []*alert.ConsolidatedAlert
	for _, userID := range e.users() {
		if ca := e.ForceFlush(userID); ca != nil {
			out = append(out, ca)
		}
	}
	return out
}

// Sweep flushes the users whose window elapsed since their last flush.
func (e *Engine) Sweep() []*alert.ConsolidatedAlert {
	var out []*alert.ConsolidatedAlert
	for _, userID := range e.users() {
		e.mu.Lock()
		b := e.buffers[userID]
		e.mu.Unlock()

		now := e.now()
		b.mu.Lock()
		var batch []*alert.TriggeredAlert
		if len(b.pending) > 0 && now.Sub(b.lastFlush) >= e.cfg.Window {
			batch = b.take(now)
		}
		b.mu.Unlock()

		if batch != nil {
			out = append(out, e.consolidate(userID, batch, now))
		}
	}
	return out
}

// Pending returns the number of buffered alerts for userID.
func (e *Engine) Pending(userID string) int {
	e.mu.Lock()
	b, ok := e.buffers[userID]
	e.mu.Unlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Start schedules the periodic sweep. Results go to the flush func.
func (e *Engine) Start(ctx context.Context) error {
	e.runner = scheduler.New("consolidation-sweep")
	if err := e.runner.Add(e.cfg.SweepSpec, e.sweepJob); err != nil {
		return err
	}
	e.runner.Start(ctx)
	return nil
}

// Stop halts the sweep and waits for a running sweep to finish. Pending
// buffers are left for the caller to flush.
func (e *Engine) Stop() {
	if e.runner != nil {
		e.runner.Stop()
	}
}

func (e *Engine) sweepJob(ctx context.Context) {
	flushed := e.Sweep()
	if len(flushed) == 0 {
		return
	}
	slog.Debug("Consolidation sweep flushed buffers", "count", len(flushed))
	if e.onFlush == nil {
		return
	}
	for _, ca := range flushed {
		e.onFlush(ctx, ca)
	}
}

func (e *Engine) buffer(userID string, now time.Time) *buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.buffers[userID]
	if !ok {
		b = &buffer{lastFlush: now}
		e.buffers[userID] = b
	}
	return b
}

func (e *Engine) users() []string {
	e.mu.Lock()
	users := make([]string, 0, len(e.buffers))
	for id := range e.buffers {
		users = append(users, id)
	}
	e.mu.Unlock()
	sort.Strings(users)
	return users
}

// take swaps out the pending slice. The caller holds b.mu.
func (b *buffer) take(now time.Time) []*alert.TriggeredAlert {
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = nil
	b.lastFlush = now
	return batch
}

// consolidate groups a flushed batch and links every alert to the single
// consolidation it ends up in.
func (e *Engine) consolidate(userID string, batch []*alert.TriggeredAlert, now time.Time) *alert.ConsolidatedAlert {
	groups := groupAlerts(batch)

	parts := make([]*alert.ConsolidatedAlert, 0, len(groups))
	for _, g := range groups {
		if len(g.alerts) == 1 {
			parts = append(parts, single(g.alerts[0], now))
			continue
		}
		parts = append(parts, merged(userID, g.alerts, reasonFor(g), g.name, now))
	}

	result := parts[0]
	if len(parts) > 1 {
		result = merged(userID, flatten(parts), alert.ReasonMultipleGroups, "", now)
	}
	link(result)

	slog.Debug("Alerts consolidated",
		"user_id", userID,
		"consolidated_id", result.ID,
		"reason", result.Reason,
		"count", result.Count,
	)
	return result
}

type group struct {
	name     string
	explicit bool
	alerts   []*alert.TriggeredAlert
}

// groupAlerts keys alerts by explicit group, else by symbol and priority.
// Groups keep first-arrival order.
func groupAlerts(batch []*alert.TriggeredAlert) []*group {
	index := make(map[string]*group)
	var groups []*group
	for _, a := range batch {
		key, name, explicit := "sym:"+a.Symbol+"|"+string(a.Priority), "", false
		if a.ConsolidationGroup != "" {
			key, name, explicit = "grp:"+a.ConsolidationGroup, a.ConsolidationGroup, true
		}
		g, ok := index[key]
		if !ok {
			g = &group{name: name, explicit: explicit}
			index[key] = g
			groups = append(groups, g)
		}
		g.alerts = append(g.alerts, a)
	}
	return groups
}

func reasonFor(g *group) string {
	if g.explicit {
		return alert.ReasonGroup
	}
	symbol := g.alerts[0].Symbol
	same := true
	first, last := g.alerts[0].TriggeredAt, g.alerts[0].TriggeredAt
	for _, a := range g.alerts[1:] {
		if a.Symbol != symbol {
			same = false
		}
		if a.TriggeredAt.Before(first) {
			first = a.TriggeredAt
		}
		if a.TriggeredAt.After(last) {
			last = a.TriggeredAt
		}
	}
	switch {
	case same:
		return alert.ReasonSameSymbol
	case last.Sub(first) < time.Minute:
		return alert.ReasonTimeProximity
	default:
		return alert.ReasonRelated
	}
}

func single(a *alert.TriggeredAlert, now time.Time) *alert.ConsolidatedAlert {
	return &alert.ConsolidatedAlert{
		ID:        uuid.New().String(),
		UserID:    a.UserID,
		AlertIDs:  []string{a.ID},
		Alerts:    []*alert.TriggeredAlert{a},
		Reason:    alert.ReasonSingle,
		Group:     a.ConsolidationGroup,
		Title:     a.Title,
		Summary:   a.Message,
		Priority:  a.Priority,
		Count:     1,
		Status:    alert.AlertPending,
		CreatedAt: now,
	}
}

func merged(userID string, alerts []*alert.TriggeredAlert, reason, name string, now time.Time) *alert.ConsolidatedAlert {
	ca := &alert.ConsolidatedAlert{
		ID:        uuid.New().String(),
		UserID:    userID,
		AlertIDs:  ids(alerts),
		Alerts:    alerts,
		Reason:    reason,
		Group:     name,
		Priority:  alert.PriorityLow,
		Count:     len(alerts),
		Status:    alert.AlertPending,
		CreatedAt: now,
	}
	for _, a := range alerts {
		ca.Priority = alert.MaxPriority(ca.Priority, a.Priority)
	}
	ca.Title = Title(ca)
	ca.Summary = Summary(ca)
	return ca
}

// link marks each alert as consumed by ca and points it at its siblings.
func link(ca *alert.ConsolidatedAlert) {
	for _, a := range ca.Alerts {
		a.IsConsolidated = true
		a.ConsolidatedAlertID = ca.ID
		related := make([]string, 0, len(ca.Alerts)-1)
		for _, other := range ca.Alerts {
			if other.ID != a.ID {
				related = append(related, other.ID)
			}
		}
		a.RelatedAlertIDs = related
	}
}

func flatten(parts []*alert.ConsolidatedAlert) []*alert.TriggeredAlert {
	var out []*alert.TriggeredAlert
	for _, p := range parts {
		out = append(out, p.Alerts...)
	}
	return out
}

func ids(alerts []*alert.TriggeredAlert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.ID
	}
	return out
}

// Title returns "N alerts for SYM" when every alert shares a symbol and
// "N alerts across M symbols" otherwise.
func Title(ca *alert.ConsolidatedAlert) string {
	symbols := ca.Symbols()
	if len(symbols) == 1 {
		return fmt.Sprintf("%d alerts for %s", len(ca.Alerts), symbols[0])
	}
	return fmt.Sprintf("%d alerts across %d symbols", len(ca.Alerts), len(symbols))
}
