// Package alert defines the entities shared by the evaluation, consolidation,
// learning and notification stages.
package alert

import "strings"

// ConditionType identifies the comparator a condition is evaluated with.
type ConditionType string

const (
	ConditionPriceAbove         ConditionType = "price_above"
	ConditionPriceBelow         ConditionType = "price_below"
	ConditionPriceChangePercent ConditionType = "price_change_percent"
	ConditionIVAbove            ConditionType = "iv_above"
	ConditionIVBelow            ConditionType = "iv_below"
	ConditionIVRankChange       ConditionType = "iv_rank_change"
	ConditionVolumeAbove        ConditionType = "volume_above"
	ConditionBullishFlow        ConditionType = "bullish_flow"
	ConditionBearishFlow        ConditionType = "bearish_flow"
	ConditionUnusualActivity    ConditionType = "unusual_activity"
	ConditionSpreadAbove        ConditionType = "spread_above"
	ConditionDeltaExposure      ConditionType = "delta_exposure"
	ConditionGammaExposure      ConditionType = "gamma_exposure"
	ConditionPositionPnL        ConditionType = "position_pnl"
	ConditionDaysToExpiration   ConditionType = "days_to_expiration"
)

// ConditionTypes lists every known condition type.
var ConditionTypes = []ConditionType{
	ConditionPriceAbove,
	ConditionPriceBelow,
	ConditionPriceChangePercent,
	ConditionIVAbove,
	ConditionIVBelow,
	ConditionIVRankChange,
	ConditionVolumeAbove,
	ConditionBullishFlow,
	ConditionBearishFlow,
	ConditionUnusualActivity,
	ConditionSpreadAbove,
	ConditionDeltaExposure,
	ConditionGammaExposure,
	ConditionPositionPnL,
	ConditionDaysToExpiration,
}

// Known reports whether t is one of the defined condition types.
func (t ConditionType) Known() bool {
	for _, known := range ConditionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Priority orders alerts by urgency.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Priorities lists priorities from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Rank returns 1..4 for known priorities and 0 otherwise.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	default:
		return 0
	}
}

// ParsePriority converts a case-insensitive string to a Priority.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	return p, p.Rank() > 0
}

// MaxPriority returns the more urgent of a and b.
func MaxPriority(a, b Priority) Priority {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Logic combines condition results.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// RuleStatus is the lifecycle state of a rule.
type RuleStatus string

const (
	RuleActive  RuleStatus = "ACTIVE"
	RulePaused  RuleStatus = "PAUSED"
	RuleExpired RuleStatus = "EXPIRED"
)

// MarketSession is the trading session an event was observed in.
type MarketSession string

const (
	SessionPreMarket  MarketSession = "pre_market"
	SessionRegular    MarketSession = "regular"
	SessionAfterHours MarketSession = "after_hours"
	SessionClosed     MarketSession = "closed"
)

// AlertStatus tracks a triggered alert through delivery.
type AlertStatus string

const (
	AlertPending    AlertStatus = "PENDING"
	AlertDelivered  AlertStatus = "DELIVERED"
	AlertSuppressed AlertStatus = "SUPPRESSED"
	AlertFailed     AlertStatus = "FAILED"
)

// ActionType is what a user did in response to an alert.
type ActionType string

const (
	ActionOpenedPosition   ActionType = "opened_position"
	ActionClosedPosition   ActionType = "closed_position"
	ActionAdjustedPosition ActionType = "adjusted_position"
	ActionAcknowledged     ActionType = "acknowledged"
	ActionSnoozed          ActionType = "snoozed"
	ActionDismissed        ActionType = "dismissed"
)

// IsPositive reports whether the action counts as engagement.
func (a ActionType) IsPositive() bool {
	switch a {
	case ActionOpenedPosition, ActionClosedPosition, ActionAdjustedPosition, ActionAcknowledged:
		return true
	default:
		return false
	}
}

// Known reports whether a is a defined action type.
func (a ActionType) Known() bool {
	return a.IsPositive() || a == ActionSnoozed || a == ActionDismissed
}

// Channel is a delivery transport.
type Channel string

const (
	ChannelPush    Channel = "push"
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelInApp   Channel = "in_app"
	ChannelWebhook Channel = "webhook"
)

// Channels lists every delivery channel.
var Channels = []Channel{ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp, ChannelWebhook}

// Known reports whether c is a defined channel.
func (c Channel) Known() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}

// DeliveryStatus is the per-channel outcome of a delivery.
type DeliveryStatus string

const (
	StatusSent            DeliveryStatus = "SENT"
	StatusFailed          DeliveryStatus = "FAILED"
	StatusChannelDisabled DeliveryStatus = "CHANNEL_DISABLED"
	StatusRateLimited     DeliveryStatus = "RATE_LIMITED"
	StatusQuietHours      DeliveryStatus = "QUIET_HOURS"
)

// Attempted reports whether a handler was actually called.
func (s DeliveryStatus) Attempted() bool {
	return s == StatusSent || s == StatusFailed
}
