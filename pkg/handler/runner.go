package handler

import (
	"context"

	"plexmover/pkg/logger"
	"plexmover/pkg/notify"
	"plexmover/pkg/sshpool"
	"plexmover/pkg/store"
	"plexmover/pkg/transfer"
	"plexmover/pkg/trigger"
)

// Runner executes one batch end to end: scheduler run, report persistence,
// webhook delivery and the post-run command trigger. Failures past the run
// itself are logged, not raised; the report is the source of truth.
type Runner struct {
	scheduler *transfer.Scheduler
	pool      *sshpool.Pool
	store     store.RunStore
	notifier  notify.Notifier
	debouncer *trigger.Debouncer
	logger    *logger.Logger
}

func NewRunner(scheduler *transfer.Scheduler, pool *sshpool.Pool, runStore store.RunStore, notifier notify.Notifier, debouncer *trigger.Debouncer) *Runner {
	return &Runner{
		scheduler: scheduler,
		pool:      pool,
		store:     runStore,
		notifier:  notifier,
		debouncer: debouncer,
		logger:    logger.NewDefault(),
	}
}

func (r *Runner) RunBatch(ctx context.Context, jobs []*transfer.Job) *transfer.RunReport {
	// Auth exclusions are scoped to a single run.
	r.pool.ResetAuthFailures()

	report := r.scheduler.Run(ctx, jobs)

	if r.store != nil {
		if err := r.store.SaveReport(report); err != nil {
			r.logger.Error("failed to persist run report", err, map[string]any{
				"run_id": report.RunID,
			})
		}
	}

	if err := r.notifier.NotifyRunCompleted(ctx, report); err != nil {
		r.logger.Error("failed to deliver run report", err, map[string]any{
			"run_id": report.RunID,
		})
	}

	succeeded, _, _ := report.Counts()
	if succeeded > 0 && r.debouncer != nil {
		if err := r.debouncer.Request(ctx); err != nil {
			r.logger.Error("failed to schedule post-run command", err, map[string]any{
				"run_id": report.RunID,
			})
		}
	}

	return report
}
