package consolidator

import (
	"fmt"
	"strings"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// maxSummarySegments caps the per-symbol segments listed in a summary.
const maxSummarySegments = 5

// Summary lists "SYM: type, type" per symbol in arrival order, joined by "; ".
// Past five symbols the rest are counted in a "+K more" suffix.
func Summary(ca *alert.ConsolidatedAlert) string {
	symbols := ca.Symbols()
	types := make(map[string][]string, len(symbols))
	seen := make(map[string]map[alert.ConditionType]bool, len(symbols))
	for _, a := range ca.Alerts {
		if seen[a.Symbol] == nil {
			seen[a.Symbol] = make(map[alert.ConditionType]bool)
		}
		for _, t := range a.ConditionTypes {
			if !seen[a.Symbol][t] {
				seen[a.Symbol][t] = true
				types[a.Symbol] = append(types[a.Symbol], string(t))
			}
		}
	}

	shown := symbols
	if len(shown) > maxSummarySegments {
		shown = shown[:maxSummarySegments]
	}
	segments := make([]string, 0, len(shown)+1)
	for _, s := range shown {
		segments = append(segments, fmt.Sprintf("%s: %s", s, strings.Join(types[s], ", ")))
	}
	if extra := len(symbols) - len(shown); extra > 0 {
		segments = append(segments, fmt.Sprintf("+%d more", extra))
	}
	return strings.Join(segments, "; ")
}
