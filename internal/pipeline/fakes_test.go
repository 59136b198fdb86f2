package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRuleStore struct {
	mu      sync.Mutex
	active  []*alert.Rule
	loadErr error
	saveErr error
	saved   map[string]*alert.Rule
	states  []*alert.Rule
	deleted []string
	onSave  func(rule *alert.Rule)
}

func newFakeRuleStore(active ...*alert.Rule) *fakeRuleStore {
	return &fakeRuleStore{active: active, saved: make(map[string]*alert.Rule)}
}

func (f *fakeRuleStore) LoadActiveRules(ctx context.Context) ([]*alert.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make([]*alert.Rule, 0, len(f.active))
	for _, r := range f.active {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (f *fakeRuleStore) SaveRule(ctx context.Context, rule *alert.Rule) error {
	f.mu.Lock()
	if f.saveErr != nil {
		f.mu.Unlock()
		return f.saveErr
	}
	f.saved[rule.ID] = rule.Clone()
	onSave := f.onSave
	f.mu.Unlock()

	if onSave != nil {
		onSave(rule.Clone())
	}
	return nil
}

func (f *fakeRuleStore) UpdateRuleState(ctx context.Context, rule *alert.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, rule.Clone())
	return nil
}

func (f *fakeRuleStore) DeleteRule(ctx context.Context, ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.saved[ruleID]; !ok {
		return alert.ErrNotFound
	}
	delete(f.saved, ruleID)
	f.deleted = append(f.deleted, ruleID)
	return nil
}

func (f *fakeRuleStore) lastState(ruleID string) *alert.Rule {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.states) - 1; i >= 0; i-- {
		if f.states[i].ID == ruleID {
			return f.states[i]
		}
	}
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	err       error
	published []*alert.ConsolidatedAlert
}

func (f *fakePublisher) Publish(ctx context.Context, ca *alert.ConsolidatedAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, ca)
	return nil
}

func (f *fakePublisher) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakeNotifier struct {
	mu        sync.Mutex
	prefs     map[string]*alert.DeliveryPreference
	delivered []*alert.ConsolidatedAlert
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{prefs: make(map[string]*alert.DeliveryPreference)}
}

func (f *fakeNotifier) Deliver(ctx context.Context, ca *alert.ConsolidatedAlert) map[alert.Channel]alert.DeliveryStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, ca)
	return map[alert.Channel]alert.DeliveryStatus{alert.ChannelInApp: alert.StatusSent}
}

func (f *fakeNotifier) Preferences(ctx context.Context, userID string) *alert.DeliveryPreference {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prefs[userID]; ok {
		return p.Clone()
	}
	return alert.DefaultDeliveryPreference(userID)
}

func (f *fakeNotifier) SetPreferences(ctx context.Context, userID string, prefs *alert.DeliveryPreference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefs[userID] = prefs.Clone()
	return nil
}

func (f *fakeNotifier) TestChannel(ctx context.Context, userID string, channel alert.Channel) (alert.DeliveryStatus, error) {
	return alert.StatusSent, nil
}

func (f *fakeNotifier) History(userID string) []alert.DeliveryRecord {
	return nil
}

func (f *fakeNotifier) Delivered() []*alert.ConsolidatedAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*alert.ConsolidatedAlert(nil), f.delivered...)
}
