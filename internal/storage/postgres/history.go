package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// InsertDeliveryRecord appends one channel outcome to the delivery history.
// Re-inserting the same record id is a no-op.
func (db *DB) InsertDeliveryRecord(ctx context.Context, r *alert.DeliveryRecord) error {
	query := `
		INSERT INTO delivery_history (record_id, user_id, consolidated_alert_id, alert_ids, channel, status, priority, error, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (record_id) DO NOTHING
	`
	_, err := db.conn.ExecContext(ctx, query,
		r.ID,
		r.UserID,
		r.ConsolidatedAlertID,
		pq.Array(r.AlertIDs),
		string(r.Channel),
		string(r.Status),
		string(r.Priority),
		r.Error,
		r.AttemptedAt,
	)
	if err != nil {
		return mapError(err, "insert delivery record", r.ID)
	}
	return nil
}

// ListDeliveryRecords returns the user's most recent delivery records, newest first.
func (db *DB) ListDeliveryRecords(ctx context.Context, userID string, limit int) ([]alert.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT record_id, user_id, consolidated_alert_id, alert_ids, channel, status, priority, error, attempted_at
		FROM delivery_history
		WHERE user_id = $1
		ORDER BY attempted_at DESC
		LIMIT $2
	`
	rows, err := db.conn.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery history: %w", err)
	}
	defer rows.Close()

	var records []alert.DeliveryRecord
	for rows.Next() {
		var r alert.DeliveryRecord
		if err := rows.Scan(
			&r.ID,
			&r.UserID,
			&r.ConsolidatedAlertID,
			pq.Array(&r.AlertIDs),
			&r.Channel,
			&r.Status,
			&r.Priority,
			&r.Error,
			&r.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery history: %w", err)
	}
	return records, nil
}
