// Package metrics provides the recording interface used by the pipeline.
// It uses the null object pattern to avoid nil checks throughout the codebase.
package metrics

import "time"

// Recorder records pipeline metrics.
type Recorder interface {
	// RecordReceived counts an inbound market event or user action.
	RecordReceived()

	// RecordProcessed records a fully evaluated event with its latency.
	RecordProcessed(latency time.Duration)

	// RecordPublished counts a consolidated alert published downstream.
	RecordPublished()

	// RecordError counts a failure that dropped work.
	RecordError()

	// RecordTriggered counts alerts produced by the evaluator.
	RecordTriggered(n int)

	// RecordConsolidated counts consolidations produced by a flush.
	RecordConsolidated()

	// RecordDelivery counts one channel outcome, keyed by status.
	RecordDelivery(channel, status string)
}

// NoOp discards all metrics.
type NoOp struct{}

// NewNoOp creates a new no-op metrics recorder.
func NewNoOp() *NoOp {
	return &NoOp{}
}

func (n *NoOp) RecordReceived()                 {}
func (n *NoOp) RecordProcessed(_ time.Duration) {}
func (n *NoOp) RecordPublished()                {}
func (n *NoOp) RecordError()                    {}
func (n *NoOp) RecordTriggered(_ int)           {}
func (n *NoOp) RecordConsolidated()             {}
func (n *NoOp) RecordDelivery(_, _ string)      {}

// Ensure NoOp implements Recorder
var _ Recorder = (*NoOp)(nil)
