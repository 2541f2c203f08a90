package transfer

import (
	"context"
	"math/rand/v2"
	"time"

	"plexmover/pkg/logger"
	"plexmover/pkg/sshpool"
)

// SessionPool is the slice of the connection manager the coordinator needs.
// *sshpool.Pool satisfies it.
type SessionPool interface {
	Acquire(ctx context.Context, hostID string) (sshpool.Session, error)
	Release(sess sshpool.Session)
	Invalidate(sess sshpool.Session)
}

// Transferer runs a single transfer attempt. *Engine satisfies it.
type Transferer interface {
	Transfer(ctx context.Context, job *Job, sess sshpool.Session) Result
}

// RetryPolicy shapes the backoff between attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Retryer wraps engine calls with bounded retries. Retryable failures are
// absorbed here; only the final outcome surfaces to the scheduler.
type Retryer struct {
	pool            SessionPool
	engine          Transferer
	policy          RetryPolicy
	transferTimeout time.Duration
	sleep           func(ctx context.Context, d time.Duration) error
	log             *logger.Logger
}

func NewRetryer(pool SessionPool, engine Transferer, policy RetryPolicy, transferTimeout time.Duration) *Retryer {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 2 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = time.Minute
	}
	return &Retryer{
		pool:            pool,
		engine:          engine,
		policy:          policy,
		transferTimeout: transferTimeout,
		sleep:           sleepContext,
		log:             logger.NewDefault(),
	}
}

// Execute runs job to a final result, retrying transient failures up to the
// attempt budget. The returned result always carries the attempt count.
func (r *Retryer) Execute(ctx context.Context, job *Job) Result {
	var last Result
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		res := r.attempt(ctx, job)
		res.Attempts = attempt
		last = res

		if res.Status != StatusFailed || !IsRetryable(res.ErrorKind) {
			return res
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.backoff(attempt)
		r.log.Warn("transfer failed, retrying", map[string]any{
			"job_id":     job.ID,
			"host":       job.DestHostID,
			"attempt":    attempt,
			"error_kind": string(res.ErrorKind),
			"delay":      delay.String(),
		})
		if err := r.sleep(ctx, delay); err != nil {
			last.ErrorKind = KindCancelled
			last.Error = newError(KindCancelled, "run cancelled while waiting to retry", err).Error()
			return last
		}
	}
	return last
}

func (r *Retryer) attempt(ctx context.Context, job *Job) Result {
	sess, err := r.pool.Acquire(ctx, job.DestHostID)
	if err != nil {
		kind := KindOf(err)
		if kind == KindAuthentication {
			// Host is unusable before any transfer attempt.
			return Result{
				JobID:     job.ID,
				Status:    StatusSkipped,
				ErrorKind: KindAuthentication,
				Error:     err.Error(),
			}
		}
		return Result{
			JobID:     job.ID,
			Status:    StatusFailed,
			ErrorKind: kind,
			Error:     err.Error(),
		}
	}

	attemptCtx := ctx
	if r.transferTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.transferTimeout)
		defer cancel()
	}

	res := r.engine.Transfer(attemptCtx, job, sess)

	if res.Status == StatusFailed && taintsSession(res.ErrorKind) {
		r.pool.Invalidate(sess)
	} else {
		r.pool.Release(sess)
	}
	return res
}

// backoff computes an exponential delay with full jitter, capped at MaxDelay.
func (r *Retryer) backoff(attempt int) time.Duration {
	delay := r.policy.BaseDelay << (attempt - 1)
	if delay > r.policy.MaxDelay || delay <= 0 {
		delay = r.policy.MaxDelay
	}
	half := delay / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
