// Package redisstore caches learned user alert profiles in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

const keyPrefix = "profile:"

// DefaultTTL is how long a cached profile survives without being re-learned.
const DefaultTTL = 30 * 24 * time.Hour

// Key returns the Redis key holding userID's profile.
func Key(userID string) string {
	return keyPrefix + userID
}

// ProfileStore reads and writes profiles as JSON strings.
type ProfileStore struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a profile store. A non-positive ttl uses DefaultTTL.
func New(client *redis.Client, ttl time.Duration) *ProfileStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ProfileStore{client: client, ttl: ttl}
}

// SaveProfile writes the profile and refreshes its expiry.
func (s *ProfileStore) SaveProfile(ctx context.Context, p *alert.UserAlertProfile) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("profile user id cannot be empty")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := s.client.Set(ctx, Key(p.UserID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save profile for %s: %w", p.UserID, err)
	}
	return nil
}

// LoadProfile returns the cached profile, or an error wrapping alert.ErrNotFound.
func (s *ProfileStore) LoadProfile(ctx context.Context, userID string) (*alert.UserAlertProfile, error) {
	data, err := s.client.Get(ctx, Key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("profile %s: %w", userID, alert.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile for %s: %w", userID, err)
	}

	var p alert.UserAlertProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile for %s: %w", userID, err)
	}
	if p.SymbolInterest == nil {
		p.SymbolInterest = make(map[string]float64)
	}
	if p.ConditionRelevance == nil {
		p.ConditionRelevance = make(map[alert.ConditionType]float64)
	}
	return &p, nil
}

// DeleteProfile removes a cached profile.
func (s *ProfileStore) DeleteProfile(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, Key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete profile for %s: %w", userID, err)
	}
	return nil
}
