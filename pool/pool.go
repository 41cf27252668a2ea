// Package pool manages long-lived NNTP sessions: lazy creation up to a
// hard cap, idle reuse with health probes on stale sessions, and
// failover across an ordered provider list.
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"veilnet.io/errors"
	"veilnet.io/log"
	"veilnet.io/nntp"
)

type idleEntry struct {
	session   nntp.Session
	idleSince time.Time
	createdAt time.Time
}

// Pool bounds concurrent sessions to one NNTP provider, reusing idle
// ones and lazily creating new ones up to Config.MaxOpen.
type Pool struct {
	cfg    Config
	dialer nntp.Dialer
	log    log.Logger

	mu     sync.Mutex
	idle   *list.List // of *idleEntry
	open   int        // total sessions outstanding (idle + in-use)
	closed bool
}

// New builds a Pool against dialer using cfg; cfg's zero value is
// replaced field-by-field with DefaultConfig's values where unset.
func New(cfg Config, dialer nntp.Dialer) *Pool {
	d := DefaultConfig()
	if cfg.MinIdle > 0 {
		d.MinIdle = cfg.MinIdle
	}
	if cfg.MaxOpen > 0 {
		d.MaxOpen = cfg.MaxOpen
	}
	if cfg.IdleTimeout > 0 {
		d.IdleTimeout = cfg.IdleTimeout
	}
	if cfg.MaxLifetime > 0 {
		d.MaxLifetime = cfg.MaxLifetime
	}
	if cfg.AcquireTimeout > 0 {
		d.AcquireTimeout = cfg.AcquireTimeout
	}
	if cfg.ProbeInterval > 0 {
		d.ProbeInterval = cfg.ProbeInterval
	}
	d.Host, d.Port, d.TLS, d.Username, d.Password = cfg.Host, cfg.Port, cfg.TLS, cfg.Username, cfg.Password

	return &Pool{
		cfg:    d,
		dialer: dialer,
		log:    log.With("component", "pool"),
		idle:   list.New(),
	}
}

// Lease wraps an acquired session; Release must be called exactly once.
type Lease struct {
	pool    *Pool
	Session nntp.Session
	entry   *idleEntry
}

// Acquire returns a healthy session, creating one if no idle session is
// available and the open cap is not reached. It fails with PoolExhausted
// if no slot frees within Config.AcquireTimeout, AuthFailure if dialing
// fails on credentials, and Unreachable on a network-level dial failure.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	const op = "pool.Acquire"
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	for {
		lease, tryAgain, err := p.tryAcquire(ctx)
		if err != nil {
			return nil, errors.E(op, err)
		}
		if lease != nil {
			return lease, nil
		}
		if !tryAgain {
			return nil, errors.E(op, errors.PoolExhausted, errors.Str("no session available"))
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errors.E(op, errors.PoolExhausted, errors.Str("acquire timed out"))
		}
		select {
		case <-ctx.Done():
			return nil, errors.E(op, errors.Unreachable, ctx.Err())
		case <-time.After(minDuration(remaining, 50*time.Millisecond)):
		}
	}
}

// tryAcquire attempts one non-blocking acquisition pass. tryAgain is
// true when the caller should back off and retry (pool at capacity).
func (p *Pool) tryAcquire(ctx context.Context) (lease *Lease, tryAgain bool, err error) {
	for {
		entry, atCapacity, closed := p.popIdleOrReserve()
		if closed {
			return nil, false, errors.E(errors.Unreachable, errors.Str("pool closed"))
		}

		if entry != nil {
			if p.expired(entry) {
				_ = entry.session.Quit(ctx)
				p.mu.Lock()
				p.open--
				p.mu.Unlock()
				continue
			}
			if p.shouldProbe(entry) {
				if probeErr := p.probe(ctx, entry.session); probeErr != nil {
					p.log.Warnf("pool: dropping unhealthy idle session: %v", probeErr)
					_ = entry.session.Quit(ctx)
					p.mu.Lock()
					p.open--
					p.mu.Unlock()
					continue // try the next idle entry, or dial fresh.
				}
			}
			return &Lease{pool: p, Session: entry.session, entry: entry}, false, nil
		}

		if atCapacity {
			return nil, true, nil
		}

		sess, dialErr := p.dialer.Dial(ctx)
		if dialErr != nil {
			p.mu.Lock()
			p.open--
			p.mu.Unlock()
			return nil, false, classifyDialError(dialErr)
		}
		return &Lease{pool: p, Session: sess, entry: &idleEntry{session: sess, createdAt: time.Now()}}, false, nil
	}
}

// popIdleOrReserve removes one idle entry if present; otherwise, if the
// pool has capacity, reserves a slot (increments open) for a fresh dial
// and reports atCapacity=false with a nil entry.
func (p *Pool) popIdleOrReserve() (entry *idleEntry, atCapacity bool, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false, true
	}
	if front := p.idle.Front(); front != nil {
		p.idle.Remove(front)
		return front.Value.(*idleEntry), false, false
	}
	if p.open >= p.cfg.MaxOpen {
		return nil, true, false
	}
	p.open++
	return nil, false, false
}

func (p *Pool) shouldProbe(e *idleEntry) bool {
	return time.Since(e.idleSince) >= p.cfg.ProbeInterval
}

// expired reports whether an idle entry has outlived IdleTimeout or
// MaxLifetime and should be closed rather than handed out. The pool
// keeps MinIdle sessions warm past IdleTimeout (MaxLifetime still
// applies to them).
func (p *Pool) expired(e *idleEntry) bool {
	if time.Since(e.createdAt) >= p.cfg.MaxLifetime {
		return true
	}
	if time.Since(e.idleSince) < p.cfg.IdleTimeout {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open > p.cfg.MinIdle
}

// probe issues a cheap no-op against the session to verify it is still
// usable: a SelectGroup round trip with an empty group name.
func (p *Pool) probe(ctx context.Context, s nntp.Session) error {
	return s.SelectGroup(ctx, "")
}

func classifyDialError(err error) error {
	if we, ok := err.(*nntp.WireError); ok {
		switch we.Class {
		case nntp.ClassAuthRequired:
			return errors.E(errors.AuthFailure, we)
		default:
			return errors.E(errors.Unreachable, we)
		}
	}
	return errors.E(errors.Unreachable, err)
}

// Release returns the session to the idle set, or closes it and frees
// its slot when ok is false: a connection proven unhealthy is never
// returned to the pool.
func (l *Lease) Release(ctx context.Context, ok bool) {
	p := l.pool
	if !ok || time.Since(l.entry.createdAt) >= p.cfg.MaxLifetime {
		_ = l.Session.Quit(ctx)
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		return
	}
	l.entry.idleSince = time.Now()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = l.Session.Quit(ctx)
		return
	}
	p.idle.PushBack(l.entry)
	p.mu.Unlock()
}

// Close drains idle sessions and rejects further acquisitions. In-flight
// leases are unaffected; their eventual Release will close rather than
// recycle them once the pool is marked closed.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	var toClose []nntp.Session
	for e := p.idle.Front(); e != nil; e = e.Next() {
		toClose = append(toClose, e.Value.(*idleEntry).session)
	}
	p.idle.Init()
	p.mu.Unlock()

	for _, s := range toClose {
		_ = s.Quit(ctx)
	}
}

// Open reports the current number of outstanding sessions (idle + in-use).
func (p *Pool) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
