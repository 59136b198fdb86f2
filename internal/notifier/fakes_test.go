package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

type fakeHandler struct {
	channel     alert.Channel
	unavailable bool
	err         error
	panicMsg    string
	block       bool

	mu    sync.Mutex
	calls int
}

func (f *fakeHandler) Type() alert.Channel { return f.channel }

func (f *fakeHandler) Available(prefs *alert.DeliveryPreference) bool { return !f.unavailable }

func (f *fakeHandler) Send(ctx context.Context, ca *alert.ConsolidatedAlert, prefs *alert.DeliveryPreference) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeHandler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePreferenceStore struct {
	mu      sync.Mutex
	prefs   map[string]*alert.DeliveryPreference
	getErr  error
	saveErr error
	saves   int
}

func newFakePreferenceStore() *fakePreferenceStore {
	return &fakePreferenceStore{prefs: make(map[string]*alert.DeliveryPreference)}
}

func (f *fakePreferenceStore) GetPreference(ctx context.Context, userID string) (*alert.DeliveryPreference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.prefs[userID]
	if !ok {
		return nil, alert.ErrNotFound
	}
	return p.Clone(), nil
}

func (f *fakePreferenceStore) SavePreference(ctx context.Context, p *alert.DeliveryPreference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.prefs[p.UserID] = p.Clone()
	return nil
}

type fakeHistoryStore struct {
	mu      sync.Mutex
	records []alert.DeliveryRecord
}

func (f *fakeHistoryStore) InsertDeliveryRecord(ctx context.Context, r *alert.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *r)
	return nil
}

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
