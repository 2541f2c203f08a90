package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"plexmover/pkg/config"
	"plexmover/pkg/logger"
	"plexmover/pkg/shared"
	"plexmover/pkg/sshpool"
)

// commandDebouncer is the slice of the debouncer the handler needs.
// *trigger.Debouncer satisfies it.
type commandDebouncer interface {
	ShouldExecute(ctx context.Context) (bool, error)
	MarkCompleted(ctx context.Context) error
}

// RemoteCommandHandler executes the debounced post-transfer command on a
// remote host, over a session from the shared pool.
type RemoteCommandHandler struct {
	config      *config.TriggerConfig
	pool        *sshpool.Pool
	debouncer   commandDebouncer
	asyncClient *asynq.Client
	logger      *logger.Logger
}

func NewRemoteCommandHandler(config *config.TriggerConfig, pool *sshpool.Pool, debouncer commandDebouncer, asyncClient *asynq.Client) *RemoteCommandHandler {
	return &RemoteCommandHandler{
		config:      config,
		pool:        pool,
		debouncer:   debouncer,
		asyncClient: asyncClient,
		logger:      logger.NewDefault(),
	}
}

func (h *RemoteCommandHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload shared.RemoteCommandPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal remote command payload: %w", err)
	}
	if payload.Command == "" {
		return fmt.Errorf("empty remote command")
	}

	shouldExecute, err := h.debouncer.ShouldExecute(ctx)
	if err != nil {
		return fmt.Errorf("failed to check debounce condition: %w", err)
	}
	if !shouldExecute {
		// Transfers are still arriving; push the command out another window.
		delay := time.Duration(h.config.DebounceMinutes) * time.Minute
		newTask := asynq.NewTask(shared.TaskTypeRemoteCommand, t.Payload())
		if _, err := h.asyncClient.Enqueue(newTask, asynq.ProcessIn(delay)); err != nil {
			h.logger.Error("failed to reschedule remote command", err, map[string]any{
				"delay_minutes": h.config.DebounceMinutes,
			})
			return fmt.Errorf("failed to reschedule remote command: %w", err)
		}
		h.logger.Info("remote command rescheduled due to debounce", map[string]any{
			"delay_minutes": h.config.DebounceMinutes,
		})
		return nil
	}

	startTime := time.Now()
	timeout := time.Duration(h.config.TimeoutMinutes) * time.Minute
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := h.pool.Acquire(timeoutCtx, payload.HostID)
	if err != nil {
		return fmt.Errorf("failed to acquire session for %s: %w", payload.HostID, err)
	}

	output, err := sess.RunCommand(timeoutCtx, payload.Command)
	duration := time.Since(startTime)
	if err != nil {
		h.pool.Invalidate(sess)

		errorType := "command_error"
		if timeoutCtx.Err() == context.DeadlineExceeded {
			errorType = "timeout"
		}
		h.logger.Error("remote command failed", err, map[string]any{
			"host":       payload.HostID,
			"command":    payload.Command,
			"output":     output,
			"duration":   duration.String(),
			"error_type": errorType,
		})

		// The pending flag stays set so a concurrent run completion cannot
		// schedule a second command while asynq retries this one.
		return fmt.Errorf("remote command execution failed: %w", err)
	}
	h.pool.Release(sess)

	h.logger.Info("remote command executed successfully", map[string]any{
		"host":     payload.HostID,
		"command":  payload.Command,
		"output":   output,
		"duration": duration.String(),
	})

	if err := h.debouncer.MarkCompleted(ctx); err != nil {
		h.logger.Error("failed to mark remote command as completed", err, nil)
		return fmt.Errorf("failed to mark remote command as completed: %w", err)
	}
	return nil
}
