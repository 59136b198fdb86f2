// Package scheduler runs periodic background jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Runner wraps a cron instance whose jobs receive a shared base context.
// Overlapping runs of the same job are skipped.
type Runner struct {
	name    string
	cron    *cron.Cron
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a runner. Specs accept the standard five fields and the
// "@every <duration>" form.
func New(name string) *Runner {
	return &Runner{
		name: name,
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Add registers job under spec.
func (r *Runner) Add(spec string, job func(ctx context.Context)) error {
	_, err := r.cron.AddFunc(spec, func() {
		ctx := r.baseCtx
		if ctx == nil {
			ctx = context.Background()
		}
		job(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s job %q: %w", r.name, spec, err)
	}
	return nil
}

// Start begins running jobs. Jobs see ctx until Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.baseCtx, r.cancel = context.WithCancel(ctx)
	r.cron.Start()
	slog.Info("Scheduler started", "name", r.name, "jobs", len(r.cron.Entries()))
}

// Stop prevents new runs and waits for running jobs to finish.
func (r *Runner) Stop() {
	done := r.cron.Stop()
	<-done.Done()
	if r.cancel != nil {
		r.cancel()
	}
	slog.Info("Scheduler stopped", "name", r.name)
}
