package alert

import (
	"fmt"
	"time"
)

// TimeOfDay is minutes since local midnight, encoded as "HH:MM".
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// At returns the time of day of t.
func At(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (d TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(d)/60, int(d)%60)
}

// MarshalText implements encoding.TextMarshaler.
func (d TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// QuietHours is a daily window [Start, End) in the user's timezone. End before
// Start wraps past midnight.
type QuietHours struct {
	Enabled  bool      `json:"enabled"`
	Start    TimeOfDay `json:"start"`
	End      TimeOfDay `json:"end"`
	Override Priority  `json:"override,omitempty"`
}

// DeliveryPreference holds a user's routing, suppression and contact settings.
type DeliveryPreference struct {
	UserID               string                 `json:"user_id"`
	EnabledChannels      []Channel              `json:"enabled_channels"`
	PriorityRouting      map[Priority][]Channel `json:"priority_routing"`
	QuietHours           QuietHours             `json:"quiet_hours"`
	MaxAlertsPerHour     int                    `json:"max_alerts_per_hour"`
	MaxSMSPerDay         int                    `json:"max_sms_per_day"`
	ConsolidationEnabled bool                   `json:"consolidation_enabled"`
	Email                string                 `json:"email,omitempty"`
	Phone                string                 `json:"phone,omitempty"`
	PushTokens           []string               `json:"push_tokens,omitempty"`
	WebhookURL           string                 `json:"webhook_url,omitempty"`
	Timezone             string                 `json:"timezone,omitempty"`
}

// DefaultDeliveryPreference returns the settings used for users who never saved any.
func DefaultDeliveryPreference(userID string) *DeliveryPreference {
	return &DeliveryPreference{
		UserID:          userID,
		EnabledChannels: []Channel{ChannelPush, ChannelEmail, ChannelInApp},
		PriorityRouting: map[Priority][]Channel{
			PriorityUrgent: {ChannelPush, ChannelSMS, ChannelEmail, ChannelInApp},
			PriorityHigh:   {ChannelPush, ChannelEmail, ChannelInApp},
			PriorityMedium: {ChannelPush, ChannelInApp},
			PriorityLow:    {ChannelInApp},
		},
		QuietHours: QuietHours{
			Enabled:  false,
			Start:    22 * 60,
			End:      7 * 60,
			Override: PriorityUrgent,
		},
		MaxAlertsPerHour:     20,
		MaxSMSPerDay:         10,
		ConsolidationEnabled: true,
		Timezone:             "UTC",
	}
}

// Validate checks limits, time zone and channel names.
func (p *DeliveryPreference) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if p.MaxAlertsPerHour < 0 {
		return fmt.Errorf("max alerts per hour cannot be negative")
	}
	if p.MaxSMSPerDay < 0 {
		return fmt.Errorf("max sms per day cannot be negative")
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
		}
	}
	if p.QuietHours.Start < 0 || p.QuietHours.Start >= 24*60 || p.QuietHours.End < 0 || p.QuietHours.End >= 24*60 {
		return fmt.Errorf("quiet hours must be within a single day")
	}
	for _, c := range p.EnabledChannels {
		if !c.Known() {
			return fmt.Errorf("unknown channel %q", c)
		}
	}
	for priority, channels := range p.PriorityRouting {
		if priority.Rank() == 0 {
			return fmt.Errorf("unknown priority %q in routing", priority)
		}
		for _, c := range channels {
			if !c.Known() {
				return fmt.Errorf("unknown channel %q in routing for %s", c, priority)
			}
		}
	}
	return nil
}

// ChannelEnabled reports whether c is in the enabled set.
func (p *DeliveryPreference) ChannelEnabled(c Channel) bool {
	for _, enabled := range p.EnabledChannels {
		if enabled == c {
			return true
		}
	}
	return false
}

// Location returns the user's time zone, UTC when unset or invalid.
func (p *DeliveryPreference) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// OverridePriority returns the priority that ignores quiet hours.
func (p *DeliveryPreference) OverridePriority() Priority {
	if p.QuietHours.Override.Rank() == 0 {
		return PriorityUrgent
	}
	return p.QuietHours.Override
}

// Clone returns a deep copy of p.
func (p *DeliveryPreference) Clone() *DeliveryPreference {
	c := *p
	c.EnabledChannels = append([]Channel(nil), p.EnabledChannels...)
	c.PushTokens = append([]string(nil), p.PushTokens...)
	if p.PriorityRouting != nil {
		c.PriorityRouting = make(map[Priority][]Channel, len(p.PriorityRouting))
		for k, v := range p.PriorityRouting {
			c.PriorityRouting[k] = append([]Channel(nil), v...)
		}
	}
	return &c
}
