// Package notifier routes consolidated alerts to delivery channels, applying
// quiet hours and per-channel rate limits, and keeps a per-user delivery history.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/internal/metrics"
	"github.com/afikmenashe/smart-alerts/internal/notifier/strategy"
	"github.com/afikmenashe/smart-alerts/internal/retry"
)

// PreferenceStore persists delivery preferences. GetPreference returns
// alert.ErrNotFound for users without saved preferences.
type PreferenceStore interface {
	GetPreference(ctx context.Context, userID string) (*alert.DeliveryPreference, error)
	SavePreference(ctx context.Context, p *alert.DeliveryPreference) error
}

// HistoryStore persists delivery records.
type HistoryStore interface {
	InsertDeliveryRecord(ctx context.Context, r *alert.DeliveryRecord) error
}

// Config controls dispatch.
type Config struct {
	Workers      int           // Concurrent handler calls across all deliveries
	SendTimeout  time.Duration // Per handler call
	HistoryLimit int           // Records kept in memory per user
	Retry        retry.Config  // Store writes only
}

// DefaultConfig returns 8 workers, a 10s send timeout and 500 history records per user.
func DefaultConfig() Config {
	return Config{
		Workers:      8,
		SendTimeout:  10 * time.Second,
		HistoryLimit: 500,
		Retry:        retry.DefaultConfig(),
	}
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPreferenceStore sets the preference store.
func WithPreferenceStore(store PreferenceStore) Option {
	return func(s *Service) { s.prefStore = store }
}

// WithHistoryStore sets the delivery history store.
func WithHistoryStore(store HistoryStore) Option {
	return func(s *Service) { s.historyStore = store }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// Service delivers consolidated alerts.
type Service struct {
	cfg          Config
	handlers     *strategy.Registry
	now          func() time.Time
	prefStore    PreferenceStore
	historyStore HistoryStore
	recorder     metrics.Recorder
	limits       *limiter
	workers      chan struct{}

	prefsMu sync.RWMutex
	prefs   map[string]*alert.DeliveryPreference

	historyMu sync.Mutex
	history   map[string][]alert.DeliveryRecord
}

// New creates a notification service over the given handlers.
func New(handlers *strategy.Registry, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if handlers == nil {
		handlers = strategy.NewRegistry()
	}

	s := &Service{
		cfg:      cfg,
		handlers: handlers,
		now:      time.Now,
		recorder: metrics.NewNoOp(),
		limits:   newLimiter(),
		workers:  make(chan struct{}, cfg.Workers),
		prefs:    make(map[string]*alert.DeliveryPreference),
		history:  make(map[string][]alert.DeliveryRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPreferences validates, persists and caches prefs for userID.
func (s *Service) SetPreferences(ctx context.Context, userID string, prefs *alert.DeliveryPreference) error {
	if prefs == nil {
		return fmt.Errorf("preferences cannot be empty")
	}
	if prefs.UserID != "" && prefs.UserID != userID {
		return fmt.Errorf("preferences belong to %s, not %s", prefs.UserID, userID)
	}
	p := prefs.Clone()
	p.UserID = userID
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid preferences: %w", err)
	}

	if s.prefStore != nil {
		err := retry.WithRetry(ctx, s.cfg.Retry, "save_preference", func() error {
			return s.prefStore.SavePreference(ctx, p)
		})
		if err != nil {
			return fmt.Errorf("failed to save preferences: %w", err)
		}
	}

	s.prefsMu.Lock()
	s.prefs[userID] = p
	s.prefsMu.Unlock()

	slog.Info("Delivery preferences updated",
		"user_id", userID,
		"enabled_channels", p.EnabledChannels,
	)
	return nil
}

// Preferences returns a copy of the user's preferences, loading them from the
// store on first use and falling back to the defaults.
func (s *Service) Preferences(ctx context.Context, userID string) *alert.DeliveryPreference {
	return s.preferences(ctx, userID).Clone()
}

func (s *Service) preferences(ctx context.Context, userID string) *alert.DeliveryPreference {
	s.prefsMu.RLock()
	p, ok := s.prefs[userID]
	s.prefsMu.RUnlock()
	if ok {
		return p
	}

	if s.prefStore != nil {
		stored, err := s.prefStore.GetPreference(ctx, userID)
		switch {
		case err == nil && stored != nil:
			p = stored
		case err == nil || errors.Is(err, alert.ErrNotFound):
			p = alert.DefaultDeliveryPreference(userID)
		default:
			slog.Warn("Failed to load delivery preferences, using defaults",
				"user_id", userID,
				"error", err,
			)
			return alert.DefaultDeliveryPreference(userID)
		}
	} else {
		p = alert.DefaultDeliveryPreference(userID)
	}

	s.prefsMu.Lock()
	if existing, ok := s.prefs[userID]; ok {
		p = existing
	} else {
		s.prefs[userID] = p
	}
	s.prefsMu.Unlock()
	return p
}

// Deliver sends ca to every selected channel and returns one status per
// channel. It never returns a partial map and never retries a channel.
func (s *Service) Deliver(ctx context.Context, ca *alert.ConsolidatedAlert) map[alert.Channel]alert.DeliveryStatus {
	results := make(map[alert.Channel]alert.DeliveryStatus)
	if ca == nil {
		return results
	}

	prefs := s.preferences(ctx, ca.UserID)
	now := s.now()
	channels := SelectChannels(prefs, ca.Priority)
	errs := make(map[alert.Channel]error)

	if Suppressed(prefs, ca.Priority, now) {
		for _, c := range channels {
			results[c] = alert.StatusQuietHours
		}
		slog.Debug("Alert held by quiet hours",
			"consolidated_alert_id", ca.ID,
			"user_id", ca.UserID,
			"priority", ca.Priority,
		)
		s.finish(ctx, ca, channels, results, errs, now)
		return results
	}

	type outcome struct {
		channel alert.Channel
		status  alert.DeliveryStatus
		err     error
	}
	outcomes := make(chan outcome, len(channels))
	var wg sync.WaitGroup

	for _, c := range channels {
		h, ok := s.handlers.Get(c)
		if !ok || !h.Available(prefs) {
			results[c] = alert.StatusChannelDisabled
			continue
		}
		slot, ok := s.limits.reserve(prefs, c, now)
		if !ok {
			results[c] = alert.StatusRateLimited
			continue
		}

		wg.Add(1)
		go func(c alert.Channel, h strategy.Handler, slot *reservation) {
			defer wg.Done()
			err := s.dispatch(ctx, h, ca, prefs)
			status := statusFor(err)
			if status == alert.StatusSent {
				slot.commit(s.now())
			} else {
				slot.release()
			}
			outcomes <- outcome{channel: c, status: status, err: err}
		}(c, h, slot)
	}
	wg.Wait()
	close(outcomes)

	for o := range outcomes {
		results[o.channel] = o.status
		if o.err != nil {
			errs[o.channel] = o.err
		}
	}

	s.finish(ctx, ca, channels, results, errs, now)
	return results
}

// TestChannel sends a test notification through one channel, ignoring
// routing, quiet hours and rate limits.
func (s *Service) TestChannel(ctx context.Context, userID string, channel alert.Channel) (alert.DeliveryStatus, error) {
	if !channel.Known() {
		return "", fmt.Errorf("unknown channel %q", channel)
	}
	prefs := s.preferences(ctx, userID)
	h, ok := s.handlers.Get(channel)
	if !ok || !h.Available(prefs) {
		return alert.StatusChannelDisabled, nil
	}

	ca := &alert.ConsolidatedAlert{
		ID:        uuid.New().String(),
		UserID:    userID,
		Reason:    "test",
		Title:     "Test notification",
		Summary:   fmt.Sprintf("Your %s channel is configured for Smart Alerts.", channel),
		Priority:  alert.PriorityLow,
		Status:    alert.AlertPending,
		CreatedAt: s.now(),
	}
	err := s.dispatch(ctx, h, ca, prefs)
	status := statusFor(err)
	s.recorder.RecordDelivery(string(channel), string(status))
	if status == alert.StatusFailed {
		return status, err
	}
	return status, nil
}

// History returns the user's in-memory delivery records, oldest first.
func (s *Service) History(userID string) []alert.DeliveryRecord {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	return append([]alert.DeliveryRecord(nil), s.history[userID]...)
}

// dispatch runs one handler call on the worker pool with the send timeout.
// Panics and timeouts come back as errors.
func (s *Service) dispatch(ctx context.Context, h strategy.Handler, ca *alert.ConsolidatedAlert, prefs *alert.DeliveryPreference) error {
	select {
	case s.workers <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.workers }()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s handler panic: %v", h.Type(), r)
			}
		}()
		done <- h.Send(callCtx, ca, prefs)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return fmt.Errorf("%s delivery timed out: %w", h.Type(), callCtx.Err())
	}
}

func statusFor(err error) alert.DeliveryStatus {
	switch {
	case err == nil:
		return alert.StatusSent
	case errors.Is(err, strategy.ErrEndpointUnavailable):
		return alert.StatusChannelDisabled
	default:
		return alert.StatusFailed
	}
}

// finish updates alert delivery fields, logs failures, and records history.
func (s *Service) finish(ctx context.Context, ca *alert.ConsolidatedAlert, channels []alert.Channel, results map[alert.Channel]alert.DeliveryStatus, errs map[alert.Channel]error, at time.Time) {
	var delivered []alert.Channel
	failed := false
	for _, c := range channels {
		switch results[c] {
		case alert.StatusSent:
			delivered = append(delivered, c)
		case alert.StatusFailed:
			failed = true
		}
	}

	status := alert.AlertSuppressed
	switch {
	case len(delivered) > 0:
		status = alert.AlertDelivered
	case failed:
		status = alert.AlertFailed
	}
	ca.Status = status
	for _, a := range ca.Alerts {
		a.Status = status
		a.DeliveredChannels = append([]alert.Channel(nil), delivered...)
	}

	records := make([]alert.DeliveryRecord, 0, len(channels))
	for _, c := range channels {
		st := results[c]
		rec := alert.DeliveryRecord{
			ID:                  uuid.New().String(),
			UserID:              ca.UserID,
			ConsolidatedAlertID: ca.ID,
			AlertIDs:            append([]string(nil), ca.AlertIDs...),
			Channel:             c,
			Status:              st,
			Priority:            ca.Priority,
			AttemptedAt:         at,
		}
		if err := errs[c]; err != nil {
			rec.Error = err.Error()
			slog.Warn("Delivery failed",
				"consolidated_alert_id", ca.ID,
				"user_id", ca.UserID,
				"channel", c,
				"status", st,
				"error", err,
			)
		}
		records = append(records, rec)
		s.recorder.RecordDelivery(string(c), string(st))
	}

	s.appendHistory(ca.UserID, records)
	s.persist(ctx, records)

	slog.Info("Alert delivered",
		"consolidated_alert_id", ca.ID,
		"user_id", ca.UserID,
		"count", ca.Count,
		"status", status,
		"channels", results,
	)
}

func (s *Service) appendHistory(userID string, records []alert.DeliveryRecord) {
	if len(records) == 0 {
		return
	}
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	h := append(s.history[userID], records...)
	if over := len(h) - s.cfg.HistoryLimit; over > 0 {
		h = append([]alert.DeliveryRecord(nil), h[over:]...)
	}
	s.history[userID] = h
}

func (s *Service) persist(ctx context.Context, records []alert.DeliveryRecord) {
	if s.historyStore == nil {
		return
	}
	for i := range records {
		rec := &records[i]
		err := retry.WithRetry(ctx, s.cfg.Retry, "insert_delivery_record", func() error {
			return s.historyStore.InsertDeliveryRecord(ctx, rec)
		})
		if err != nil {
			slog.Error("Failed to persist delivery record",
				"consolidated_alert_id", rec.ConsolidatedAlertID,
				"channel", rec.Channel,
				"error", err,
			)
		}
	}
}
