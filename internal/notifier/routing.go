package notifier

import (
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// SelectChannels intersects the routing for priority with the enabled set,
// keeping routing order. Preferences without a routing table use the default one.
func SelectChannels(prefs *alert.DeliveryPreference, priority alert.Priority) []alert.Channel {
	routing := prefs.PriorityRouting
	if routing == nil {
		routing = alert.DefaultDeliveryPreference(prefs.UserID).PriorityRouting
	}

	seen := make(map[alert.Channel]bool)
	var out []alert.Channel
	for _, c := range routing[priority] {
		if seen[c] || !prefs.ChannelEnabled(c) {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// InQuietHours reports whether now falls in the user's quiet window,
// evaluated in the user's time zone. Windows with End before Start wrap past
// midnight; Start equal to End is an empty window.
func InQuietHours(prefs *alert.DeliveryPreference, now time.Time) bool {
	q := prefs.QuietHours
	if !q.Enabled || q.Start == q.End {
		return false
	}
	tod := alert.At(now.In(prefs.Location()))
	if q.Start < q.End {
		return tod >= q.Start && tod < q.End
	}
	return tod >= q.Start || tod < q.End
}

// Suppressed reports whether quiet hours hold back an alert of priority.
// Only the override priority is delivered during quiet hours.
func Suppressed(prefs *alert.DeliveryPreference, priority alert.Priority, now time.Time) bool {
	return InQuietHours(prefs, now) && priority != prefs.OverridePriority()
}
