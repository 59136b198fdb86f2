package pipeline

import (
	"sync"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// alertIndex remembers the most recent triggered alerts by id so user actions
// arriving later can be resolved. The oldest alert is evicted first.
type alertIndex struct {
	mu    sync.Mutex
	size  int
	byID  map[string]*alert.TriggeredAlert
	order []string
	next  int
}

func newAlertIndex(size int) *alertIndex {
	if size <= 0 {
		size = 10000
	}
	return &alertIndex{
		size:  size,
		byID:  make(map[string]*alert.TriggeredAlert, size),
		order: make([]string, 0, size),
	}
}

func (x *alertIndex) put(a *alert.TriggeredAlert) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.byID[a.ID]; ok {
		x.byID[a.ID] = a
		return
	}
	if len(x.order) < x.size {
		x.order = append(x.order, a.ID)
	} else {
		delete(x.byID, x.order[x.next])
		x.order[x.next] = a.ID
		x.next = (x.next + 1) % x.size
	}
	x.byID[a.ID] = a
}

func (x *alertIndex) get(id string) (*alert.TriggeredAlert, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	a, ok := x.byID[id]
	return a, ok
}

func (x *alertIndex) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.byID)
}
