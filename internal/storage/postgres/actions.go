package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// InsertUserAction stores a recorded action. Duplicate ids are ignored.
func (db *DB) InsertUserAction(ctx context.Context, a *alert.UserAction) error {
	types := make([]string, len(a.ConditionTypes))
	for i, t := range a.ConditionTypes {
		types[i] = string(t)
	}
	query := `
		INSERT INTO user_actions (action_id, user_id, alert_id, rule_id, symbol, priority, condition_types,
			action_type, triggered_at, action_at, response_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (action_id) DO NOTHING
	`
	_, err := db.conn.ExecContext(ctx, query,
		a.ID,
		a.UserID,
		a.AlertID,
		a.RuleID,
		a.Symbol,
		string(a.Priority),
		pq.Array(types),
		string(a.ActionType),
		a.TriggeredAt,
		a.ActionAt,
		a.ResponseTime.Milliseconds(),
	)
	if err != nil {
		return mapError(err, "insert user action", a.ID)
	}
	return nil
}

// ListUserActions returns every action taken after since, oldest first.
func (db *DB) ListUserActions(ctx context.Context, since time.Time) ([]*alert.UserAction, error) {
	query := `
		SELECT action_id, user_id, alert_id, rule_id, symbol, priority, condition_types,
			action_type, triggered_at, action_at, response_time_ms
		FROM user_actions
		WHERE action_at > $1
		ORDER BY action_at
	`
	rows, err := db.conn.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query user actions: %w", err)
	}
	defer rows.Close()

	var actions []*alert.UserAction
	for rows.Next() {
		var (
			a          alert.UserAction
			types      []string
			responseMS int64
		)
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.AlertID,
			&a.RuleID,
			&a.Symbol,
			&a.Priority,
			pq.Array(&types),
			&a.ActionType,
			&a.TriggeredAt,
			&a.ActionAt,
			&responseMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user action: %w", err)
		}
		for _, t := range types {
			a.ConditionTypes = append(a.ConditionTypes, alert.ConditionType(t))
		}
		a.ResponseTime = time.Duration(responseMS) * time.Millisecond
		actions = append(actions, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user actions: %w", err)
	}
	return actions, nil
}
