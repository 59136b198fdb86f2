package alert

import "time"

// UserAction is one recorded reaction to a delivered alert.
type UserAction struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	AlertID        string          `json:"alert_id"`
	RuleID         string          `json:"rule_id"`
	Symbol         string          `json:"symbol"`
	Priority       Priority        `json:"priority"`
	ConditionTypes []ConditionType `json:"condition_types"`
	ActionType     ActionType      `json:"action_type"`
	TriggeredAt    time.Time       `json:"triggered_at"`
	ActionAt       time.Time       `json:"action_at"`
	ResponseTime   time.Duration   `json:"response_time"`
}

// UserAlertProfile is learned state for one user. It is rebuilt from the
// action history on every learning cycle.
type UserAlertProfile struct {
	UserID              string                    `json:"user_id"`
	TopConditionTypes   []ConditionType           `json:"top_condition_types"`
	PreferredPriorities []Priority                `json:"preferred_priorities"`
	ActiveHours         []int                     `json:"active_hours"`
	SymbolInterest      map[string]float64        `json:"symbol_interest"`
	ConditionRelevance  map[ConditionType]float64 `json:"condition_relevance"`
	AvgResponseTime     time.Duration             `json:"avg_response_time"`
	ActionRate          float64                   `json:"action_rate"`
	SnoozeRate          float64                   `json:"snooze_rate"`
	TotalActions        int                       `json:"total_actions"`
	UpdatedAt           time.Time                 `json:"updated_at"`
}

// NewUserAlertProfile returns an empty profile for userID.
func NewUserAlertProfile(userID string) *UserAlertProfile {
	return &UserAlertProfile{
		UserID:             userID,
		SymbolInterest:     make(map[string]float64),
		ConditionRelevance: make(map[ConditionType]float64),
	}
}
