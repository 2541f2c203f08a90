package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"plexmover/pkg/logger"
)

// Executor runs one job's full retry sequence to a final result. *Retryer
// satisfies it.
type Executor interface {
	Execute(ctx context.Context, job *Job) Result
}

// Scheduler fans a batch of jobs out across a bounded worker pool and folds
// the outcomes into a RunReport. A batch of N jobs always yields exactly N
// results, in submission order; failures are data, not control flow.
type Scheduler struct {
	exec    Executor
	workers int
	log     *logger.Logger
}

func NewScheduler(exec Executor, workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		exec:    exec,
		workers: workers,
		log:     logger.NewDefault(),
	}
}

type indexedJob struct {
	idx int
	job *Job
}

// Run processes jobs to completion and returns the run report. Cancelling ctx
// aborts in-flight transfers; every job still gets a result.
func (s *Scheduler) Run(ctx context.Context, jobs []*Job) *RunReport {
	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}

	for i, job := range jobs {
		if job.ID == "" {
			job.ID = fmt.Sprintf("job-%d", i+1)
		}
	}

	s.log.Info("starting transfer run", map[string]any{
		"run_id":  report.RunID,
		"jobs":    len(jobs),
		"workers": s.workers,
	})

	results := make([]Result, len(jobs))

	var mu sync.Mutex
	excludedHosts := make(map[string]string)

	workers := s.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	jobCh := make(chan indexedJob)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ij := range jobCh {
				results[ij.idx] = s.runOne(ctx, ij.job, &mu, excludedHosts)
			}
		}()
	}

	for i, job := range jobs {
		jobCh <- indexedJob{idx: i, job: job}
	}
	close(jobCh)
	wg.Wait()

	report.Results = results
	report.FinishedAt = time.Now()
	report.Status = overallStatus(results)

	succeeded, failed, skipped := report.Counts()
	s.log.Info("transfer run finished", map[string]any{
		"run_id":    report.RunID,
		"status":    string(report.Status),
		"succeeded": succeeded,
		"failed":    failed,
		"skipped":   skipped,
		"duration":  report.FinishedAt.Sub(report.StartedAt).String(),
	})

	return report
}

func (s *Scheduler) runOne(ctx context.Context, job *Job, mu *sync.Mutex, excludedHosts map[string]string) Result {
	mu.Lock()
	reason, excluded := excludedHosts[job.DestHostID]
	mu.Unlock()
	if excluded {
		// Host already failed authentication; do not retry it per job.
		return Result{
			JobID:     job.ID,
			Status:    StatusSkipped,
			ErrorKind: KindAuthentication,
			Error:     reason,
		}
	}

	res := s.exec.Execute(ctx, job)

	if res.Status == StatusSkipped && res.ErrorKind == KindAuthentication {
		mu.Lock()
		excludedHosts[job.DestHostID] = res.Error
		mu.Unlock()
	}
	return res
}
