package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

const ruleColumns = `rule_id, user_id, name, conditions, logic, priority, status, created_at, updated_at,
		expires_at, cooldown_minutes, last_triggered_at, market_hours_only, allowed_sessions, position_aware,
		consolidation_group, allow_consolidation, relevance_score, trigger_count, action_count`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (*alert.Rule, error) {
	var (
		r           alert.Rule
		conditions  []byte
		expiresAt   sql.NullTime
		triggeredAt sql.NullTime
		sessions    []string
		allowMerge  bool
	)
	err := s.Scan(
		&r.ID,
		&r.UserID,
		&r.Name,
		&conditions,
		&r.Logic,
		&r.Priority,
		&r.Status,
		&r.CreatedAt,
		&r.UpdatedAt,
		&expiresAt,
		&r.CooldownMinutes,
		&triggeredAt,
		&r.MarketHoursOnly,
		pq.Array(&sessions),
		&r.PositionAware,
		&r.ConsolidationGroup,
		&allowMerge,
		&r.RelevanceScore,
		&r.TriggerCount,
		&r.ActionCount,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return nil, fmt.Errorf("failed to decode conditions of rule %s: %w", r.ID, err)
	}
	r.DisableConsolidation = !allowMerge
	r.ExpiresAt = timePtr(expiresAt)
	r.LastTriggeredAt = timePtr(triggeredAt)
	for _, s := range sessions {
		r.AllowedSessions = append(r.AllowedSessions, alert.MarketSession(s))
	}
	return &r, nil
}

func (db *DB) queryRules(ctx context.Context, query string, args ...any) ([]*alert.Rule, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*alert.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

// LoadActiveRules returns every rule with status ACTIVE.
func (db *DB) LoadActiveRules(ctx context.Context) ([]*alert.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM alert_rules
		WHERE status = 'ACTIVE'
		ORDER BY rule_id`
	return db.queryRules(ctx, query)
}

// ListRulesUpdatedSince returns rules of any status whose definition changed after since.
func (db *DB) ListRulesUpdatedSince(ctx context.Context, since time.Time) ([]*alert.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM alert_rules
		WHERE updated_at > $1
		ORDER BY updated_at`
	return db.queryRules(ctx, query, since)
}

// ActiveRuleIDs returns the ids of all active rules.
func (db *DB) ActiveRuleIDs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT rule_id FROM alert_rules WHERE status = 'ACTIVE'`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan rule id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule ids: %w", err)
	}
	return ids, nil
}

// GetRule retrieves a rule by ID.
func (db *DB) GetRule(ctx context.Context, ruleID string) (*alert.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM alert_rules
		WHERE rule_id = $1`
	r, err := scanRule(db.conn.QueryRowContext(ctx, query, ruleID))
	if err != nil {
		return nil, mapError(err, "get rule", ruleID)
	}
	return r, nil
}

// SaveRule inserts the rule or replaces its definition. Trigger bookkeeping
// is only written by UpdateRuleState.
func (db *DB) SaveRule(ctx context.Context, r *alert.Rule) error {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}
	sessions := make([]string, len(r.AllowedSessions))
	for i, s := range r.AllowedSessions {
		sessions[i] = string(s)
	}

	query := `
		INSERT INTO alert_rules (rule_id, user_id, name, conditions, logic, priority, status, created_at, updated_at,
			expires_at, cooldown_minutes, market_hours_only, allowed_sessions, position_aware,
			consolidation_group, allow_consolidation, relevance_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (rule_id) DO UPDATE SET
			name = EXCLUDED.name,
			conditions = EXCLUDED.conditions,
			logic = EXCLUDED.logic,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at,
			cooldown_minutes = EXCLUDED.cooldown_minutes,
			market_hours_only = EXCLUDED.market_hours_only,
			allowed_sessions = EXCLUDED.allowed_sessions,
			position_aware = EXCLUDED.position_aware,
			consolidation_group = EXCLUDED.consolidation_group,
			allow_consolidation = EXCLUDED.allow_consolidation,
			updated_at = NOW()
		WHERE alert_rules.user_id = EXCLUDED.user_id
	`
	res, err := db.conn.ExecContext(ctx, query,
		r.ID,
		r.UserID,
		r.Name,
		conditions,
		string(r.Logic),
		string(r.Priority),
		string(r.Status),
		nullTime(r.ExpiresAt),
		r.CooldownMinutes,
		r.MarketHoursOnly,
		pq.Array(sessions),
		r.PositionAware,
		r.ConsolidationGroup,
		!r.DisableConsolidation,
		r.RelevanceScore,
	)
	if err != nil {
		return mapError(err, "save rule", r.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save rule %s: %w: owned by another user", r.ID, ErrConflict)
	}
	return nil
}

// UpdateRuleState writes the bookkeeping fields the pipeline changes at runtime.
// It leaves updated_at alone so the reloader does not pick the row up again.
func (db *DB) UpdateRuleState(ctx context.Context, r *alert.Rule) error {
	query := `
		UPDATE alert_rules
		SET last_triggered_at = $2, trigger_count = $3, action_count = $4, relevance_score = $5, status = $6
		WHERE rule_id = $1
	`
	res, err := db.conn.ExecContext(ctx, query,
		r.ID,
		nullTime(r.LastTriggeredAt),
		r.TriggerCount,
		r.ActionCount,
		r.RelevanceScore,
		string(r.Status),
	)
	if err != nil {
		return mapError(err, "update rule state", r.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update rule state %s: %w", r.ID, alert.ErrNotFound)
	}
	return nil
}

// DeleteRule deletes a rule by ID.
func (db *DB) DeleteRule(ctx context.Context, ruleID string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM alert_rules WHERE rule_id = $1`, ruleID)
	if err != nil {
		return mapError(err, "delete rule", ruleID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete rule %s: %w", ruleID, alert.ErrNotFound)
	}
	return nil
}
