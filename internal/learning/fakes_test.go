package learning

import (
	"context"
	"sync"
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// fakeActionStore records inserted actions and serves a fixed list.
type fakeActionStore struct {
	mu        sync.Mutex
	inserted  []*alert.UserAction
	stored    []*alert.UserAction
	insertErr error
	listErr   error
	listSince time.Time
}

func (f *fakeActionStore) InsertUserAction(ctx context.Context, action *alert.UserAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, action)
	return nil
}

func (f *fakeActionStore) ListUserActions(ctx context.Context, since time.Time) ([]*alert.UserAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listSince = since
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.stored, nil
}

// fakeProfileStore keeps profiles in a map.
type fakeProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*alert.UserAlertProfile
	saves    int
	loadErr  error
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: make(map[string]*alert.UserAlertProfile)}
}

func (f *fakeProfileStore) SaveProfile(ctx context.Context, p *alert.UserAlertProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.profiles[p.UserID] = p
	return nil
}

func (f *fakeProfileStore) LoadProfile(ctx context.Context, userID string) (*alert.UserAlertProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.profiles[userID], nil
}
