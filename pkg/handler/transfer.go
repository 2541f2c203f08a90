package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"plexmover/pkg/logger"
	"plexmover/pkg/shared"
	"plexmover/pkg/transfer"
)

// TransferHandler consumes transfer batch tasks.
type TransferHandler struct {
	runner *Runner
	logger *logger.Logger
}

func NewTransferHandler(runner *Runner) *TransferHandler {
	return &TransferHandler{
		runner: runner,
		logger: logger.NewDefault(),
	}
}

func (h *TransferHandler) Handle(ctx context.Context, asynqTask *asynq.Task) error {
	var payload shared.TransferBatchPayload
	if err := json.Unmarshal(asynqTask.Payload(), &payload); err != nil {
		h.logger.Error("failed to unmarshal payload", err, nil)
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	jobs := make([]*transfer.Job, len(payload.Jobs))
	for i := range payload.Jobs {
		jobs[i] = &payload.Jobs[i]
	}

	h.logger.Info("starting transfer batch task", map[string]any{
		"jobs": len(jobs),
	})

	// The run never raises upward; failed jobs are data in the report, so the
	// task itself completes regardless of per-job outcomes.
	report := h.runner.RunBatch(ctx, jobs)

	h.logger.Info("transfer batch task finished", map[string]any{
		"run_id": report.RunID,
		"status": string(report.Status),
	})
	return nil
}
