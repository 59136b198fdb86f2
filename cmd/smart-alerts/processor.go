package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/afikmenashe/smart-alerts/internal/alert"
	"github.com/afikmenashe/smart-alerts/internal/events"
	"github.com/afikmenashe/smart-alerts/internal/metrics"
	"github.com/afikmenashe/smart-alerts/internal/pipeline"
)

type marketReader interface {
	ReadMarketEvent(ctx context.Context) (*events.MarketEvent, *kafka.Message, error)
	CommitMessage(ctx context.Context, msg *kafka.Message) error
}

type actionReader interface {
	ReadActionEvent(ctx context.Context) (*events.ActionEvent, *kafka.Message, error)
	CommitMessage(ctx context.Context, msg *kafka.Message) error
}

type eventHandler interface {
	HandleEvent(ctx context.Context, md *alert.MarketData, positions []alert.Position) ([]*alert.TriggeredAlert, error)
}

type actionHandler interface {
	RecordAction(ctx context.Context, userID, alertID string, actionType alert.ActionType, at time.Time) (*alert.UserAction, error)
}

// processMarketEvents evaluates market events until ctx is cancelled. Offsets
// are committed after evaluation; undecodable messages are committed past.
func processMarketEvents(ctx context.Context, r marketReader, h eventHandler, m metrics.Recorder) {
	for {
		ev, msg, err := r.ReadMarketEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logAndRecordError(m, "Failed to read market event", "error", err)
			if msg != nil {
				commitOffset(ctx, r, msg)
			}
			continue
		}

		if _, err := h.HandleEvent(ctx, ev.Data, ev.Positions); err != nil {
			logAndRecordError(m, "Failed to handle market event",
				"symbol", ev.Data.Symbol,
				"error", err,
			)
		}
		commitOffset(ctx, r, msg)
	}
}

// processActions applies the user action feed until ctx is cancelled. Actions
// on alerts that are no longer indexed are logged and skipped.
func processActions(ctx context.Context, r actionReader, h actionHandler, m metrics.Recorder) {
	for {
		ev, msg, err := r.ReadActionEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logAndRecordError(m, "Failed to read action event", "error", err)
			if msg != nil {
				commitOffset(ctx, r, msg)
			}
			continue
		}

		_, err = h.RecordAction(ctx, ev.UserID, ev.AlertID, ev.ActionType, ev.ActionAt)
		switch {
		case errors.Is(err, pipeline.ErrAlertNotFound):
			slog.Warn("Action for unknown alert, skipping",
				"user_id", ev.UserID,
				"alert_id", ev.AlertID,
			)
		case err != nil:
			logAndRecordError(m, "Failed to record user action",
				"user_id", ev.UserID,
				"alert_id", ev.AlertID,
				"error", err,
			)
		}
		commitOffset(ctx, r, msg)
	}
}

type committer interface {
	CommitMessage(ctx context.Context, msg *kafka.Message) error
}

// commitOffset commits the Kafka offset for the given message.
func commitOffset(ctx context.Context, c committer, msg *kafka.Message) {
	if err := c.CommitMessage(ctx, msg); err != nil {
		slog.Error("Failed to commit offset", "error", err)
	}
}

// logAndRecordError logs an error and records it in metrics.
func logAndRecordError(m metrics.Recorder, msg string, args ...any) {
	slog.Error(msg, args...)
	m.RecordError()
}
