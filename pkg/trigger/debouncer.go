package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"plexmover/pkg/config"
	"plexmover/pkg/logger"
	"plexmover/pkg/shared"
)

const debounceStateKey = "remote_command_debounce_state"

// DebounceState tracks the coalescing window for the post-transfer command.
type DebounceState struct {
	LastRequestTime   int64 `json:"last_request_time"`
	PendingTaskExists bool  `json:"pending_task_exists"`
}

// Debouncer coalesces post-transfer command requests: many completed runs in
// quick succession produce a single remote command once things settle.
type Debouncer struct {
	redisClient *redis.Client
	asyncClient *asynq.Client
	config      *config.TriggerConfig
	logger      *logger.Logger
}

func NewDebouncer(redisClient *redis.Client, asyncClient *asynq.Client, config *config.TriggerConfig, logger *logger.Logger) *Debouncer {
	return &Debouncer{
		redisClient: redisClient,
		asyncClient: asyncClient,
		config:      config,
		logger:      logger,
	}
}

// Request notes that a run just finished and, if no command is already
// pending, schedules one after the debounce window.
func (d *Debouncer) Request(ctx context.Context) error {
	if !d.config.Enabled || d.config.Command == "" {
		return nil
	}

	now := time.Now().Unix()

	state, err := d.getState(ctx)
	if err != nil {
		return fmt.Errorf("failed to get debounce state: %w", err)
	}

	state.LastRequestTime = now

	if state.PendingTaskExists {
		if err := d.saveState(ctx, state); err != nil {
			return fmt.Errorf("failed to save debounce state: %w", err)
		}
		d.logger.Debug("remote command request coalesced", map[string]any{
			"host": d.config.Host,
		})
		return nil
	}

	state.PendingTaskExists = true
	if err := d.saveState(ctx, state); err != nil {
		return fmt.Errorf("failed to save debounce state: %w", err)
	}

	payload := shared.RemoteCommandPayload{
		HostID:  d.config.Host,
		Command: d.config.Command,
	}
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal remote command payload: %w", err)
	}

	delay := time.Duration(d.config.DebounceMinutes) * time.Minute
	task := asynq.NewTask(shared.TaskTypeRemoteCommand, taskPayload)
	if _, err := d.asyncClient.Enqueue(task, asynq.ProcessIn(delay)); err != nil {
		return fmt.Errorf("failed to enqueue remote command task: %w", err)
	}

	d.logger.Info("remote command scheduled", map[string]any{
		"host":          d.config.Host,
		"delay_minutes": d.config.DebounceMinutes,
	})
	return nil
}

// ShouldExecute reports whether the debounce window has elapsed since the
// most recent request. When it has not, the handler reschedules itself.
func (d *Debouncer) ShouldExecute(ctx context.Context) (bool, error) {
	state, err := d.getState(ctx)
	if err != nil {
		return false, err
	}

	elapsed := time.Now().Unix() - state.LastRequestTime
	return elapsed >= int64(d.config.DebounceMinutes)*60, nil
}

// MarkCompleted clears the pending flag so the next run schedules a fresh
// command.
func (d *Debouncer) MarkCompleted(ctx context.Context) error {
	state, err := d.getState(ctx)
	if err != nil {
		return err
	}
	state.PendingTaskExists = false
	return d.saveState(ctx, state)
}

func (d *Debouncer) getState(ctx context.Context) (*DebounceState, error) {
	raw, err := d.redisClient.Get(ctx, debounceStateKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &DebounceState{}, nil
		}
		return nil, err
	}

	var state DebounceState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (d *Debouncer) saveState(ctx context.Context, state *DebounceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return d.redisClient.Set(ctx, debounceStateKey, data, 0).Err()
}
