package alert

import "time"

// TriggeredAlert is produced once by the evaluator. Afterwards each field group
// has a single writer: linking fields belong to the consolidator, action fields
// to the learning engine and DeliveredChannels to the notifier.
type TriggeredAlert struct {
	ID                  string                    `json:"id"`
	RuleID              string                    `json:"rule_id"`
	UserID              string                    `json:"user_id"`
	Symbol              string                    `json:"symbol"`
	TriggeredAt         time.Time                 `json:"triggered_at"`
	TriggerValues       map[ConditionType]float64 `json:"trigger_values"`
	MatchedConditionIDs []string                  `json:"matched_condition_ids"`
	ConditionTypes      []ConditionType           `json:"condition_types"`
	Title               string                    `json:"title"`
	Message             string                    `json:"message"`
	Priority            Priority                  `json:"priority"`
	Status              AlertStatus               `json:"status"`
	MarketSession       MarketSession             `json:"market_session"`
	RelatedPositions    []string                  `json:"related_positions,omitempty"`
	ConsolidationGroup  string                    `json:"consolidation_group,omitempty"`
	AllowConsolidation  bool                      `json:"allow_consolidation"`
	RelevanceScore      float64                   `json:"relevance_score"`

	// Action fields.
	UserActed       bool       `json:"user_acted"`
	ActionType      ActionType `json:"action_type,omitempty"`
	ActionTimestamp *time.Time `json:"action_timestamp,omitempty"`

	// Linking fields.
	ConsolidatedAlertID string   `json:"consolidated_alert_id,omitempty"`
	IsConsolidated      bool     `json:"is_consolidated"`
	RelatedAlertIDs     []string `json:"related_alert_ids,omitempty"`

	DeliveredChannels []Channel `json:"delivered_channels,omitempty"`
}

// ConsolidatedAlert groups one or more triggered alerts for a single delivery.
// Alerts are referenced, not owned; they outlive the consolidation.
type ConsolidatedAlert struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	AlertIDs  []string          `json:"alert_ids"`
	Alerts    []*TriggeredAlert `json:"-"`
	Reason    string            `json:"reason"`
	Group     string            `json:"group,omitempty"`
	Title     string            `json:"title"`
	Summary   string            `json:"summary"`
	Priority  Priority          `json:"priority"`
	Count     int               `json:"count"`
	Status    AlertStatus       `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// Consolidation reasons.
const (
	ReasonSingle         = "single_alert"
	ReasonGroup          = "consolidation_group"
	ReasonSameSymbol     = "same_symbol"
	ReasonTimeProximity  = "time_proximity"
	ReasonRelated        = "related_alerts"
	ReasonMultipleGroups = "multiple_groups"
)

// Symbols returns the distinct symbols of the grouped alerts in arrival order.
func (c *ConsolidatedAlert) Symbols() []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, a := range c.Alerts {
		if !seen[a.Symbol] {
			seen[a.Symbol] = true
			symbols = append(symbols, a.Symbol)
		}
	}
	return symbols
}
