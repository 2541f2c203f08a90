package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"plexmover/pkg/logger"
	"plexmover/pkg/shared"
	"plexmover/pkg/watchlist"
)

// WatchlistHandler consumes watchlist sync tasks: it builds the batch from
// the Plex watchlist and hands it to the runner.
type WatchlistHandler struct {
	processor *watchlist.Processor
	runner    *Runner
	logger    *logger.Logger
}

func NewWatchlistHandler(processor *watchlist.Processor, runner *Runner) *WatchlistHandler {
	return &WatchlistHandler{
		processor: processor,
		runner:    runner,
		logger:    logger.NewDefault(),
	}
}

func (h *WatchlistHandler) Handle(ctx context.Context, asynqTask *asynq.Task) error {
	var payload shared.WatchlistSyncPayload
	if err := json.Unmarshal(asynqTask.Payload(), &payload); err != nil {
		h.logger.Error("failed to unmarshal payload", err, nil)
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	if h.processor == nil {
		return fmt.Errorf("watchlist processing is not configured")
	}

	h.logger.Info("starting watchlist sync task", nil)

	jobs, err := h.processor.BuildJobs(ctx)
	if err != nil {
		h.logger.Error("failed to build jobs from watchlist", err, nil)
		return err
	}
	if len(jobs) == 0 {
		h.logger.Info("watchlist produced no transfer jobs", nil)
		return nil
	}

	report := h.runner.RunBatch(ctx, jobs)

	h.logger.Info("watchlist sync task finished", map[string]any{
		"run_id": report.RunID,
		"status": string(report.Status),
		"jobs":   len(jobs),
	})
	return nil
}
