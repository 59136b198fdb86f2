package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// GetPreference returns the stored delivery preference for userID, or an
// error wrapping alert.ErrNotFound.
func (db *DB) GetPreference(ctx context.Context, userID string) (*alert.DeliveryPreference, error) {
	var raw []byte
	err := db.conn.QueryRowContext(ctx,
		`SELECT preference FROM delivery_preferences WHERE user_id = $1`, userID,
	).Scan(&raw)
	if err != nil {
		return nil, mapError(err, "get preference", userID)
	}

	var p alert.DeliveryPreference
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode preference for %s: %w", userID, err)
	}
	p.UserID = userID
	return &p, nil
}

// SavePreference inserts or replaces a user's delivery preference.
func (db *DB) SavePreference(ctx context.Context, p *alert.DeliveryPreference) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode preference: %w", err)
	}
	query := `
		INSERT INTO delivery_preferences (user_id, preference, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET preference = EXCLUDED.preference, updated_at = NOW()
	`
	if _, err := db.conn.ExecContext(ctx, query, p.UserID, raw); err != nil {
		return mapError(err, "save preference", p.UserID)
	}
	return nil
}
