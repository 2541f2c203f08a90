package sshpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"plexmover/pkg/logger"
)

// ErrUnknownHost is returned when a job targets a host that has no credential.
var ErrUnknownHost = errors.New("unknown host")

// Options configures a Pool.
type Options struct {
	// PerHostLimit bounds the number of simultaneously open sessions to one
	// host. Remote SSH servers commonly rate-limit connections, so keep it small.
	PerHostLimit int

	// IdleTTL is the maximum idle age of a pooled session before reuse.
	// Remote servers enforce idle timeouts, so stale sessions are discarded
	// rather than handed out.
	IdleTTL time.Duration

	// ConnectTimeout bounds the TCP connect plus SSH handshake.
	ConnectTimeout time.Duration

	// Dial overrides session dialing, used by tests.
	Dial DialFunc
}

// Pool owns every Session in the process. Sessions are keyed by host
// identity, reused in LIFO order, and handed to at most one transfer at a
// time. Acquire blocks while a host is at its concurrency limit.
type Pool struct {
	creds   *CredentialStore
	perHost int
	idleTTL time.Duration
	dial    DialFunc
	log     *logger.Logger

	mu    sync.Mutex
	hosts map[string]*hostState
}

type idleSession struct {
	session  Session
	lastUsed time.Time
}

type hostState struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	idle    []idleSession
	authErr error
	open    int
}

func New(creds *CredentialStore, opts Options) *Pool {
	if opts.PerHostLimit <= 0 {
		opts.PerHostLimit = 2
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 5 * time.Minute
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	dial := opts.Dial
	if dial == nil {
		dial = newDialFunc(opts.ConnectTimeout)
	}
	return &Pool{
		creds:   creds,
		perHost: opts.PerHostLimit,
		idleTTL: opts.IdleTTL,
		dial:    dial,
		log:     logger.NewDefault(),
		hosts:   make(map[string]*hostState),
	}
}

func (p *Pool) hostState(hostID string) *hostState {
	p.mu.Lock()
	defer p.mu.Unlock()
	hs, ok := p.hosts[hostID]
	if !ok {
		hs = &hostState{sem: semaphore.NewWeighted(int64(p.perHost))}
		p.hosts[hostID] = hs
	}
	return hs
}

// Acquire returns a session for hostID, blocking until a concurrency slot
// frees up. The caller must hand the session back via Release or Invalidate.
func (p *Pool) Acquire(ctx context.Context, hostID string) (Session, error) {
	cred, ok := p.creds.Lookup(hostID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHost, hostID)
	}

	hs := p.hostState(hostID)

	hs.mu.Lock()
	authErr := hs.authErr
	hs.mu.Unlock()
	if authErr != nil {
		return nil, authErr
	}

	if err := hs.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	if sess := p.takeIdle(hs, hostID); sess != nil {
		return sess, nil
	}

	sess, err := p.dial(ctx, cred)
	if err != nil {
		hs.sem.Release(1)
		var ae *AuthError
		if errors.As(err, &ae) {
			hs.mu.Lock()
			hs.authErr = ae
			hs.mu.Unlock()
			p.log.Warn("host authentication failed, excluding host", map[string]any{
				"host": hostID,
			})
		}
		return nil, err
	}

	hs.mu.Lock()
	hs.open++
	hs.mu.Unlock()

	p.log.Debug("opened new session", map[string]any{"host": hostID})
	return sess, nil
}

// takeIdle pops the freshest idle session, discarding any that sat idle
// longer than the TTL.
func (p *Pool) takeIdle(hs *hostState, hostID string) Session {
	now := time.Now()
	for {
		hs.mu.Lock()
		n := len(hs.idle)
		if n == 0 {
			hs.mu.Unlock()
			return nil
		}
		entry := hs.idle[n-1]
		hs.idle = hs.idle[:n-1]
		if now.Sub(entry.lastUsed) > p.idleTTL {
			hs.open--
			hs.mu.Unlock()
			_ = entry.session.Close()
			p.log.Debug("discarded stale session", map[string]any{"host": hostID})
			continue
		}
		hs.mu.Unlock()
		return entry.session
	}
}

// Release returns a healthy session to the pool for reuse.
func (p *Pool) Release(sess Session) {
	hs := p.hostState(sess.HostID())
	hs.mu.Lock()
	hs.idle = append(hs.idle, idleSession{session: sess, lastUsed: time.Now()})
	hs.mu.Unlock()
	hs.sem.Release(1)
}

// Invalidate discards a session whose channel errored or is in an
// indeterminate state. The next Acquire for the host dials fresh.
func (p *Pool) Invalidate(sess Session) {
	hs := p.hostState(sess.HostID())
	_ = sess.Close()
	hs.mu.Lock()
	hs.open--
	hs.mu.Unlock()
	hs.sem.Release(1)
	p.log.Debug("invalidated session", map[string]any{"host": sess.HostID()})
}

// AuthFailed reports whether the host was excluded by an authentication
// failure, and the error that excluded it.
func (p *Pool) AuthFailed(hostID string) (error, bool) {
	hs := p.hostState(hostID)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.authErr, hs.authErr != nil
}

// ResetAuthFailures clears per-host exclusions. The scheduler calls it at the
// start of each run so one bad run does not poison the next.
func (p *Pool) ResetAuthFailures() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hs := range p.hosts {
		hs.mu.Lock()
		hs.authErr = nil
		hs.mu.Unlock()
	}
}

// OpenSessions reports the number of live sessions for a host, idle ones
// included.
func (p *Pool) OpenSessions(hostID string) int {
	hs := p.hostState(hostID)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.open
}

// Close tears down every idle session. Sessions still checked out are the
// responsibility of their holders.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hs := range p.hosts {
		hs.mu.Lock()
		for _, entry := range hs.idle {
			_ = entry.session.Close()
			hs.open--
		}
		hs.idle = nil
		hs.mu.Unlock()
	}
	return nil
}
