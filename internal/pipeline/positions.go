package pipeline

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

const positionShards = 16

type positionShard struct {
	mu     sync.RWMutex
	byUser map[string]map[string]alert.Position // user id -> symbol -> position
}

// positionBook holds the latest position snapshot per user and symbol.
// Positions with an empty user id apply to every user.
type positionBook struct {
	shards [positionShards]*positionShard
}

func newPositionBook() *positionBook {
	b := &positionBook{}
	for i := range b.shards {
		b.shards[i] = &positionShard{byUser: make(map[string]map[string]alert.Position)}
	}
	return b
}

func (b *positionBook) shard(userID string) *positionShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return b.shards[h.Sum32()%positionShards]
}

// replace sets the user's complete position list. Closed positions are dropped.
func (b *positionBook) replace(userID string, positions []alert.Position) {
	next := make(map[string]alert.Position, len(positions))
	for _, p := range positions {
		if p.Open() && p.Symbol != "" {
			p.UserID = userID
			next[p.Symbol] = p
		}
	}

	s := b.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(next) == 0 {
		delete(s.byUser, userID)
		return
	}
	s.byUser[userID] = next
}

// apply upserts individual snapshots. A zero quantity closes the position.
func (b *positionBook) apply(positions []alert.Position) {
	for _, p := range positions {
		if p.Symbol == "" {
			continue
		}
		s := b.shard(p.UserID)
		s.mu.Lock()
		held := s.byUser[p.UserID]
		if p.Open() {
			if held == nil {
				held = make(map[string]alert.Position)
				s.byUser[p.UserID] = held
			}
			held[p.Symbol] = p
		} else if held != nil {
			delete(held, p.Symbol)
			if len(held) == 0 {
				delete(s.byUser, p.UserID)
			}
		}
		s.mu.Unlock()
	}
}

// forSymbol returns every open position on symbol, ordered by user id.
func (b *positionBook) forSymbol(symbol string) []alert.Position {
	var out []alert.Position
	for _, s := range b.shards {
		s.mu.RLock()
		for _, held := range s.byUser {
			if p, ok := held[symbol]; ok {
				out = append(out, p)
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (b *positionBook) forUser(userID string) []alert.Position {
	s := b.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]alert.Position, 0, len(s.byUser[userID]))
	for _, p := range s.byUser[userID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
