package notifier

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

const shardCount = 16

// tracker counts deliveries for one (user, channel). Reservations are held
// while a send is in flight so concurrent deliveries never overshoot a limit.
type tracker struct {
	mu      sync.Mutex
	sent    []time.Time
	pending int

	day        string
	daySent    int
	dayPending int
}

func (t *tracker) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := t.sent[:0]
	for _, ts := range t.sent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.sent = kept
}

type shard struct {
	mu       sync.Mutex
	trackers map[string]*tracker
}

// limiter enforces the rolling hourly cap per (user, channel) and the
// calendar-day SMS cap.
type limiter struct {
	shards [shardCount]*shard
}

func newLimiter() *limiter {
	l := &limiter{}
	for i := range l.shards {
		l.shards[i] = &shard{trackers: make(map[string]*tracker)}
	}
	return l
}

func (l *limiter) tracker(userID string, c alert.Channel) *tracker {
	key := userID + "|" + string(c)
	h := fnv.New32a()
	h.Write([]byte(key))
	s := l.shards[h.Sum32()%shardCount]

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[key]
	if !ok {
		t = &tracker{}
		s.trackers[key] = t
	}
	return t
}

// reservation is a held slot; exactly one of commit or release must be called.
type reservation struct {
	t   *tracker
	day string // empty when the daily cap does not apply
}

// reserve takes a slot if both caps allow it. A cap of zero is unlimited.
func (l *limiter) reserve(prefs *alert.DeliveryPreference, c alert.Channel, now time.Time) (*reservation, bool) {
	t := l.tracker(prefs.UserID, c)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune(now)
	if prefs.MaxAlertsPerHour > 0 && len(t.sent)+t.pending >= prefs.MaxAlertsPerHour {
		return nil, false
	}

	r := &reservation{t: t}
	if c == alert.ChannelSMS && prefs.MaxSMSPerDay > 0 {
		day := now.In(prefs.Location()).Format("2006-01-02")
		if t.day != day {
			t.day, t.daySent, t.dayPending = day, 0, 0
		}
		if t.daySent+t.dayPending >= prefs.MaxSMSPerDay {
			return nil, false
		}
		t.dayPending++
		r.day = day
	}
	t.pending++
	return r, true
}

// commit records a successful send at.
func (r *reservation) commit(at time.Time) {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()
	r.t.pending--
	r.t.sent = append(r.t.sent, at)
	if r.day != "" && r.day == r.t.day {
		r.t.dayPending--
		r.t.daySent++
	}
}

// release returns the slot without counting a send.
func (r *reservation) release() {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()
	r.t.pending--
	if r.day != "" && r.day == r.t.day {
		r.t.dayPending--
	}
}

// count returns committed sends in the last hour, for tests and diagnostics.
func (l *limiter) count(userID string, c alert.Channel, now time.Time) int {
	t := l.tracker(userID, c)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(now)
	return len(t.sent)
}
