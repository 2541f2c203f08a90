package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"plexmover/pkg/config"
	"plexmover/pkg/logger"
	"plexmover/pkg/shared"
	"plexmover/pkg/transfer"
)

// Publisher enqueues work for the daemon.
type Publisher struct {
	client *asynq.Client
	config *config.Config
}

func NewPublisher(config *config.Config) (*Publisher, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}

	client := asynq.NewClient(redisOpt)

	return &Publisher{
		client: client,
		config: config,
	}, nil
}

func (p *Publisher) Close() {
	_ = p.client.Close()
}

// PublishTransferBatch enqueues an ordered batch of transfer jobs.
func (p *Publisher) PublishTransferBatch(jobs []transfer.Job) error {
	if len(jobs) == 0 {
		return fmt.Errorf("at least one job is required")
	}

	for i, job := range jobs {
		if job.SourcePath == "" {
			return fmt.Errorf("job %d: source path is required", i+1)
		}
		if job.DestHostID == "" {
			return fmt.Errorf("job %d: destination host is required", i+1)
		}
		if job.DestPath == "" {
			return fmt.Errorf("job %d: destination path is required", i+1)
		}
		if _, ok := p.config.Hosts[job.DestHostID]; !ok {
			return fmt.Errorf("job %d: host %q is not configured", i+1, job.DestHostID)
		}
		if _, err := os.Stat(job.SourcePath); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("job %d: source file not found: %s", i+1, job.SourcePath)
		}
	}

	payload := shared.TransferBatchPayload{Jobs: jobs}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	return p.enqueue(shared.TaskTypeTransferBatch, payloadBytes, map[string]any{
		"jobs": len(jobs),
	})
}

// PublishWatchlistSync enqueues a full watchlist pass.
func (p *Publisher) PublishWatchlistSync() error {
	payloadBytes, err := json.Marshal(shared.WatchlistSyncPayload{})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.enqueue(shared.TaskTypeWatchlistSync, payloadBytes, nil)
}

func (p *Publisher) enqueue(taskType string, payload []byte, fields map[string]any) error {
	task := asynq.NewTask(taskType, payload)
	info, err := p.client.Enqueue(
		task,
		asynq.MaxRetry(p.config.Publish.MaxRetry),
		asynq.Timeout(time.Duration(p.config.Publish.TimeoutMinutes)*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["task_id"] = info.ID
	fields["queue"] = info.Queue
	fields["type"] = taskType
	logger.Info("task enqueued successfully", fields)
	return nil
}
