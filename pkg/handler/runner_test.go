package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"

	"plexmover/pkg/shared"
	"plexmover/pkg/sshpool"
	"plexmover/pkg/transfer"
)

type recordingExecutor struct {
	results map[string]transfer.Result
	calls   int
}

func (e *recordingExecutor) Execute(_ context.Context, job *transfer.Job) transfer.Result {
	e.calls++
	res, ok := e.results[job.ID]
	if !ok {
		res = transfer.Result{Status: transfer.StatusSuccess}
	}
	res.JobID = job.ID
	return res
}

type recordingStore struct {
	saved   []*transfer.RunReport
	saveErr error
}

func (s *recordingStore) SaveReport(report *transfer.RunReport) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, report)
	return nil
}

func (s *recordingStore) GetReport(string) (*transfer.RunReport, error) { return nil, nil }
func (s *recordingStore) ListRunIDs() ([]string, error)                 { return nil, nil }
func (s *recordingStore) Close() error                                  { return nil }

type recordingNotifier struct {
	reports []*transfer.RunReport
	err     error
}

func (n *recordingNotifier) NotifyRunCompleted(_ context.Context, report *transfer.RunReport) error {
	n.reports = append(n.reports, report)
	return n.err
}

func newTestRunner(exec transfer.Executor, runStore *recordingStore, notifier *recordingNotifier) *Runner {
	pool := sshpool.New(sshpool.NewCredentialStore(nil), sshpool.Options{})
	scheduler := transfer.NewScheduler(exec, 2)
	return NewRunner(scheduler, pool, runStore, notifier, nil)
}

func TestRunBatchPersistsAndNotifies(t *testing.T) {
	exec := &recordingExecutor{results: map[string]transfer.Result{
		"job-b": {Status: transfer.StatusFailed, ErrorKind: transfer.KindIOError},
	}}
	runStore := &recordingStore{}
	notifier := &recordingNotifier{}
	runner := newTestRunner(exec, runStore, notifier)

	jobs := []*transfer.Job{
		{ID: "job-a", SourcePath: "/tmp/a", DestHostID: "nas", DestPath: "watch/a"},
		{ID: "job-b", SourcePath: "/tmp/b", DestHostID: "nas", DestPath: "watch/b"},
	}

	report := runner.RunBatch(context.Background(), jobs)

	assert.Equal(t, transfer.RunPartialFailure, report.Status)
	assert.Len(t, report.Results, 2)

	assert.Len(t, runStore.saved, 1)
	assert.Same(t, report, runStore.saved[0])
	assert.Len(t, notifier.reports, 1)
	assert.Same(t, report, notifier.reports[0])
}

func TestRunBatchToleratesStoreAndNotifyFailures(t *testing.T) {
	exec := &recordingExecutor{}
	runStore := &recordingStore{saveErr: errors.New("disk full")}
	notifier := &recordingNotifier{err: errors.New("webhook down")}
	runner := newTestRunner(exec, runStore, notifier)

	report := runner.RunBatch(context.Background(), []*transfer.Job{
		{ID: "job-a", SourcePath: "/tmp/a", DestHostID: "nas", DestPath: "watch/a"},
	})

	assert.Equal(t, transfer.RunSuccess, report.Status)
}

func TestTransferHandlerCompletesRegardlessOfJobFailures(t *testing.T) {
	exec := &recordingExecutor{results: map[string]transfer.Result{
		"job-1": {Status: transfer.StatusFailed, ErrorKind: transfer.KindTimeout},
	}}
	runStore := &recordingStore{}
	notifier := &recordingNotifier{}
	handler := NewTransferHandler(newTestRunner(exec, runStore, notifier))

	payload, err := json.Marshal(shared.TransferBatchPayload{Jobs: []transfer.Job{
		{ID: "job-1", SourcePath: "/tmp/a", DestHostID: "nas", DestPath: "watch/a"},
	}})
	assert.NoError(t, err)

	err = handler.Handle(context.Background(), asynq.NewTask(shared.TaskTypeTransferBatch, payload))

	assert.NoError(t, err)
	assert.Len(t, runStore.saved, 1)
	assert.Equal(t, transfer.RunFailed, runStore.saved[0].Status)
}

func TestTransferHandlerRejectsMalformedPayload(t *testing.T) {
	handler := NewTransferHandler(newTestRunner(&recordingExecutor{}, &recordingStore{}, &recordingNotifier{}))

	err := handler.Handle(context.Background(), asynq.NewTask(shared.TaskTypeTransferBatch, []byte("{")))
	assert.Error(t, err)
}
