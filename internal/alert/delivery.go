package alert

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a rule, preference or profile does not exist.
var ErrNotFound = errors.New("not found")

// DeliveryRecord is one channel outcome for one consolidated alert.
type DeliveryRecord struct {
	ID                  string         `json:"id"`
	UserID              string         `json:"user_id"`
	ConsolidatedAlertID string         `json:"consolidated_alert_id"`
	AlertIDs            []string       `json:"alert_ids"`
	Channel             Channel        `json:"channel"`
	Status              DeliveryStatus `json:"status"`
	Priority            Priority       `json:"priority"`
	Error               string         `json:"error,omitempty"`
	AttemptedAt         time.Time      `json:"attempted_at"`
}
