package transfer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"plexmover/pkg/sshpool"
)

// countingExecutor resolves each job from a canned table and tracks call
// concurrency.
type countingExecutor struct {
	mu       sync.Mutex
	results  map[string]Result
	calls    []string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (e *countingExecutor) Execute(_ context.Context, job *Job) Result {
	cur := e.inFlight.Add(1)
	for {
		max := e.maxSeen.Load()
		if cur <= max || e.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.inFlight.Add(-1)

	e.mu.Lock()
	e.calls = append(e.calls, job.ID)
	e.mu.Unlock()

	res, ok := e.results[job.ID]
	if !ok {
		res = Result{Status: StatusSuccess}
	}
	res.JobID = job.ID
	return res
}

func makeJobs(ids ...string) []*Job {
	jobs := make([]*Job, len(ids))
	for i, id := range ids {
		jobs[i] = &Job{ID: id, SourcePath: "/tmp/" + id, DestHostID: "nas", DestPath: "watch/" + id}
	}
	return jobs
}

func TestSchedulerPreservesSubmissionOrder(t *testing.T) {
	exec := &countingExecutor{results: map[string]Result{}, delay: time.Millisecond}
	sched := NewScheduler(exec, 4)

	var ids []string
	for i := 0; i < 12; i++ {
		ids = append(ids, fmt.Sprintf("job-%02d", i))
	}

	report := sched.Run(context.Background(), makeJobs(ids...))

	assert.NotEmpty(t, report.RunID)
	assert.Len(t, report.Results, len(ids))
	for i, id := range ids {
		assert.Equal(t, id, report.Results[i].JobID)
	}
	assert.Equal(t, RunSuccess, report.Status)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestSchedulerOverallStatus(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]Result
		jobs    []string
		want    RunStatus
	}{
		{
			name: "all succeed",
			jobs: []string{"a", "b"},
			want: RunSuccess,
		},
		{
			name: "mixed outcome is a partial failure",
			jobs: []string{"a", "b"},
			results: map[string]Result{
				"b": {Status: StatusFailed, ErrorKind: KindIOError},
			},
			want: RunPartialFailure,
		},
		{
			name: "nothing succeeds",
			jobs: []string{"a", "b"},
			results: map[string]Result{
				"a": {Status: StatusFailed, ErrorKind: KindIOError},
				"b": {Status: StatusSkipped, ErrorKind: KindAuthentication},
			},
			want: RunFailed,
		},
		{
			name: "empty batch",
			jobs: nil,
			want: RunSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &countingExecutor{results: tt.results}
			sched := NewScheduler(exec, 2)

			report := sched.Run(context.Background(), makeJobs(tt.jobs...))

			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Results, len(tt.jobs))
		})
	}
}

func TestSchedulerAssignsJobIDs(t *testing.T) {
	exec := &countingExecutor{results: map[string]Result{}}
	sched := NewScheduler(exec, 1)

	jobs := []*Job{
		{SourcePath: "/tmp/a", DestHostID: "nas", DestPath: "watch/a"},
		{SourcePath: "/tmp/b", DestHostID: "nas", DestPath: "watch/b"},
	}

	report := sched.Run(context.Background(), jobs)

	assert.Equal(t, "job-1", report.Results[0].JobID)
	assert.Equal(t, "job-2", report.Results[1].JobID)
}

func TestSchedulerExcludesHostAfterAuthFailure(t *testing.T) {
	// A single worker makes the job order deterministic: the first job for the
	// bad host poisons it, the remaining two never reach the executor.
	exec := &countingExecutor{results: map[string]Result{
		"bad-1": {Status: StatusSkipped, ErrorKind: KindAuthentication, Error: "auth failed for host bad"},
	}}
	sched := NewScheduler(exec, 1)

	jobs := []*Job{
		{ID: "bad-1", SourcePath: "/tmp/a", DestHostID: "bad", DestPath: "watch/a"},
		{ID: "good-1", SourcePath: "/tmp/b", DestHostID: "nas", DestPath: "watch/b"},
		{ID: "bad-2", SourcePath: "/tmp/c", DestHostID: "bad", DestPath: "watch/c"},
		{ID: "bad-3", SourcePath: "/tmp/d", DestHostID: "bad", DestPath: "watch/d"},
	}

	report := sched.Run(context.Background(), jobs)

	assert.Equal(t, []string{"bad-1", "good-1"}, exec.calls)
	assert.Equal(t, RunPartialFailure, report.Status)

	assert.Equal(t, StatusSkipped, report.Results[0].Status)
	assert.Equal(t, StatusSuccess, report.Results[1].Status)
	for _, res := range report.Results[2:] {
		assert.Equal(t, StatusSkipped, res.Status)
		assert.Equal(t, KindAuthentication, res.ErrorKind)
		assert.Equal(t, "auth failed for host bad", res.Error)
	}
}

func TestSchedulerBoundsWorkerCount(t *testing.T) {
	exec := &countingExecutor{results: map[string]Result{}, delay: 5 * time.Millisecond}
	sched := NewScheduler(exec, 2)

	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, fmt.Sprintf("job-%02d", i))
	}

	report := sched.Run(context.Background(), makeJobs(ids...))

	assert.Len(t, report.Results, 10)
	assert.LessOrEqual(t, exec.maxSeen.Load(), int32(2))
}

// hostGaugeEngine tracks how many transfers run against each host at once.
type hostGaugeEngine struct {
	mu        sync.Mutex
	inFlight  map[string]int
	maxSeen   map[string]int
	crossHost bool
	delay     time.Duration
}

func (e *hostGaugeEngine) Transfer(_ context.Context, job *Job, sess sshpool.Session) Result {
	host := sess.HostID()

	e.mu.Lock()
	e.inFlight[host]++
	if e.inFlight[host] > e.maxSeen[host] {
		e.maxSeen[host] = e.inFlight[host]
	}
	active := 0
	for _, n := range e.inFlight {
		if n > 0 {
			active++
		}
	}
	if active > 1 {
		e.crossHost = true
	}
	e.mu.Unlock()

	time.Sleep(e.delay)

	e.mu.Lock()
	e.inFlight[host]--
	e.mu.Unlock()

	return Result{JobID: job.ID, Status: StatusSuccess}
}

func TestSchedulerSerializesPerHostButRunsHostsInParallel(t *testing.T) {
	creds := []sshpool.Credential{
		{HostID: "alpha", Address: "127.0.0.1", Port: 22, Username: "media", Password: "x"},
		{HostID: "beta", Address: "127.0.0.2", Port: 22, Username: "media", Password: "x"},
	}
	pool := sshpool.New(sshpool.NewCredentialStore(creds), sshpool.Options{
		PerHostLimit: 1,
		Dial: func(_ context.Context, cred sshpool.Credential) (sshpool.Session, error) {
			return &fakeSession{hostID: cred.HostID}, nil
		},
	})

	engine := &hostGaugeEngine{
		inFlight: map[string]int{},
		maxSeen:  map[string]int{},
		delay:    30 * time.Millisecond,
	}
	retryer := NewRetryer(pool, engine, RetryPolicy{MaxAttempts: 1}, 0)
	sched := NewScheduler(retryer, 3)

	jobs := []*Job{
		{ID: "a1", SourcePath: "/tmp/a1", DestHostID: "alpha", DestPath: "watch/a1"},
		{ID: "a2", SourcePath: "/tmp/a2", DestHostID: "alpha", DestPath: "watch/a2"},
		{ID: "b1", SourcePath: "/tmp/b1", DestHostID: "beta", DestPath: "watch/b1"},
	}

	report := sched.Run(context.Background(), jobs)

	assert.Equal(t, RunSuccess, report.Status)
	assert.Len(t, report.Results, 3)

	// Both alpha jobs went through one session slot; beta did not wait for it.
	assert.Equal(t, 1, engine.maxSeen["alpha"])
	assert.True(t, engine.crossHost)
}

func TestRunReportCounts(t *testing.T) {
	report := &RunReport{Results: []Result{
		{Status: StatusSuccess},
		{Status: StatusSuccess},
		{Status: StatusFailed},
		{Status: StatusSkipped},
	}}

	succeeded, failed, skipped := report.Counts()
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, skipped)
}
