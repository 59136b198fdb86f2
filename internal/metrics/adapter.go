package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/afikmenashe/smart-alerts/pkg/metrics"
)

// CollectorAdapter adapts pkg/metrics.Collector to the Recorder interface.
type CollectorAdapter struct {
	collector *metrics.Collector
}

// NewCollectorAdapter wraps a metrics.Collector to implement Recorder.
func NewCollectorAdapter(collector *metrics.Collector) *CollectorAdapter {
	return &CollectorAdapter{collector: collector}
}

func (a *CollectorAdapter) RecordReceived() {
	a.collector.RecordReceived()
}

func (a *CollectorAdapter) RecordProcessed(latency time.Duration) {
	a.collector.RecordProcessed(latency)
}

func (a *CollectorAdapter) RecordPublished() {
	a.collector.RecordPublished()
}

func (a *CollectorAdapter) RecordError() {
	a.collector.RecordError()
}

func (a *CollectorAdapter) RecordTriggered(n int) {
	if n > 0 {
		a.collector.AddCustom("alerts_triggered", uint64(n))
	}
}

func (a *CollectorAdapter) RecordConsolidated() {
	a.collector.IncrementCustom("alerts_consolidated")
}

// RecordDelivery increments "delivery_<channel>_<status>", e.g. delivery_push_sent.
func (a *CollectorAdapter) RecordDelivery(channel, status string) {
	a.collector.IncrementCustom(fmt.Sprintf("delivery_%s_%s", channel, strings.ToLower(status)))
}

// Ensure CollectorAdapter implements Recorder
var _ Recorder = (*CollectorAdapter)(nil)
