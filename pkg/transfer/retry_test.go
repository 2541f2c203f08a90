package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"plexmover/pkg/sshpool"
)

// scriptedPool hands out fakeSessions and counts how they come back.
type scriptedPool struct {
	mu          sync.Mutex
	acquireErr  error
	acquires    int
	released    int
	invalidated int
}

func (p *scriptedPool) Acquire(_ context.Context, hostID string) (sshpool.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return &fakeSession{hostID: hostID}, nil
}

func (p *scriptedPool) Release(sshpool.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
}

func (p *scriptedPool) Invalidate(sshpool.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated++
}

// scriptedEngine returns one canned result per attempt, in order.
type scriptedEngine struct {
	results []Result
	calls   int
}

func (e *scriptedEngine) Transfer(_ context.Context, job *Job, _ sshpool.Session) Result {
	res := e.results[e.calls]
	e.calls++
	res.JobID = job.ID
	return res
}

func newTestRetryer(pool SessionPool, engine Transferer, maxAttempts int) (*Retryer, *[]time.Duration) {
	r := NewRetryer(pool, engine, RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
	}, 0)
	slept := &[]time.Duration{}
	r.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return r, slept
}

func TestRetryerExecute(t *testing.T) {
	failed := func(kind ErrorKind) Result {
		return Result{Status: StatusFailed, ErrorKind: kind, Error: string(kind)}
	}
	succeeded := Result{Status: StatusSuccess, BytesTransferred: 42}

	tests := []struct {
		name            string
		maxAttempts     int
		results         []Result
		wantStatus      JobStatus
		wantAttempts    int
		wantKind        ErrorKind
		wantSleeps      int
		wantReleased    int
		wantInvalidated int
	}{
		{
			name:         "first attempt succeeds",
			maxAttempts:  3,
			results:      []Result{succeeded},
			wantStatus:   StatusSuccess,
			wantAttempts: 1,
			wantReleased: 1,
		},
		{
			name:            "transient failures then success",
			maxAttempts:     3,
			results:         []Result{failed(KindConnectionLost), failed(KindConnectionLost), succeeded},
			wantStatus:      StatusSuccess,
			wantAttempts:    3,
			wantSleeps:      2,
			wantReleased:    1,
			wantInvalidated: 2,
		},
		{
			name:         "terminal failure stops immediately",
			maxAttempts:  3,
			results:      []Result{failed(KindLocalSourceMissing)},
			wantStatus:   StatusFailed,
			wantAttempts: 1,
			wantKind:     KindLocalSourceMissing,
			wantReleased: 1,
		},
		{
			name:            "attempt budget exhausted",
			maxAttempts:     2,
			results:         []Result{failed(KindTimeout), failed(KindTimeout)},
			wantStatus:      StatusFailed,
			wantAttempts:    2,
			wantKind:        KindTimeout,
			wantSleeps:      1,
			wantInvalidated: 2,
		},
		{
			name:         "io error does not taint the session",
			maxAttempts:  2,
			results:      []Result{failed(KindIOError), succeeded},
			wantStatus:   StatusSuccess,
			wantAttempts: 2,
			wantSleeps:   1,
			wantReleased: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &scriptedPool{}
			engine := &scriptedEngine{results: tt.results}
			retryer, slept := newTestRetryer(pool, engine, tt.maxAttempts)

			res := retryer.Execute(context.Background(), &Job{ID: "job-1", DestHostID: "nas"})

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantAttempts, res.Attempts)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, res.ErrorKind)
			}
			assert.Len(t, *slept, tt.wantSleeps)
			assert.Equal(t, tt.wantReleased, pool.released)
			assert.Equal(t, tt.wantInvalidated, pool.invalidated)
			assert.Equal(t, len(tt.results), engine.calls)
		})
	}
}

func TestRetryerAuthFailureSkipsJob(t *testing.T) {
	pool := &scriptedPool{acquireErr: &sshpool.AuthError{HostID: "nas", Cause: assert.AnError}}
	engine := &scriptedEngine{}
	retryer, slept := newTestRetryer(pool, engine, 3)

	res := retryer.Execute(context.Background(), &Job{ID: "job-1", DestHostID: "nas"})

	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, KindAuthentication, res.ErrorKind)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, pool.acquires)
	assert.Zero(t, engine.calls)
	assert.Empty(t, *slept)
}

func TestRetryerBackoffBounds(t *testing.T) {
	r := NewRetryer(nil, nil, RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
	}, 0)

	for attempt := 1; attempt <= 10; attempt++ {
		uncapped := r.policy.BaseDelay << (attempt - 1)
		if uncapped > r.policy.MaxDelay || uncapped <= 0 {
			uncapped = r.policy.MaxDelay
		}
		for i := 0; i < 20; i++ {
			delay := r.backoff(attempt)
			assert.GreaterOrEqual(t, delay, uncapped/2, "attempt %d", attempt)
			assert.LessOrEqual(t, delay, uncapped, "attempt %d", attempt)
		}
	}
}

func TestRetryerCancelledWhileWaiting(t *testing.T) {
	pool := &scriptedPool{}
	engine := &scriptedEngine{results: []Result{
		{Status: StatusFailed, ErrorKind: KindConnectionLost},
	}}
	retryer := NewRetryer(pool, engine, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, 0)
	retryer.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	res := retryer.Execute(context.Background(), &Job{ID: "job-1", DestHostID: "nas"})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, KindCancelled, res.ErrorKind)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, engine.calls)
}
