package pool

import (
	"context"
	"sync"

	"veilnet.io/errors"
	"veilnet.io/log"
)

// ProviderPool fails over across an ordered list of backend NNTP
// providers, each with its own Pool, advancing to the next provider
// after a configurable run of consecutive Unreachable acquire
// failures.
type ProviderPool struct {
	pools               []*Pool
	maxConsecutiveFails int
	log                 log.Logger

	mu           sync.Mutex
	active       int
	consecFailed int
}

// NewProviderPool builds a ProviderPool over pools in priority order;
// pools[0] is tried first. maxConsecutiveFails must be >= 1.
func NewProviderPool(pools []*Pool, maxConsecutiveFails int) *ProviderPool {
	if maxConsecutiveFails <= 0 {
		maxConsecutiveFails = 3
	}
	return &ProviderPool{
		pools:               pools,
		maxConsecutiveFails: maxConsecutiveFails,
		log:                 log.With("component", "pool.ProviderPool"),
	}
}

// Acquire tries the active provider; on an Unreachable failure it
// records a consecutive-failure count and rotates to the next provider
// once that count reaches maxConsecutiveFails, then retries once
// against the whole remaining list. AuthFailure and PoolExhausted are
// not rotation triggers: they're properties of the request, not the
// provider's reachability.
func (rp *ProviderPool) Acquire(ctx context.Context) (*Lease, error) {
	const op = "pool.ProviderPool.Acquire"
	if len(rp.pools) == 0 {
		return nil, errors.E(op, errors.Unreachable, errors.Str("no providers configured"))
	}

	var lastErr error
	maxAttempts := len(rp.pools) * rp.maxConsecutiveFails
	for attempt := 0; attempt < maxAttempts; attempt++ {
		idx := rp.currentActive()
		lease, err := rp.pools[idx].Acquire(ctx)
		if err == nil {
			rp.recordSuccess()
			return lease, nil
		}
		lastErr = err
		if !errors.Is(errors.Unreachable, err) {
			return nil, err
		}
		if rp.recordFailureAndMaybeRotate(idx) {
			rp.log.Warnf("pool: rotating away from provider %d after %d consecutive failures", idx, rp.maxConsecutiveFails)
		}
	}
	return nil, errors.E(op, errors.Unreachable, lastErr)
}

func (rp *ProviderPool) currentActive() int {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.active
}

func (rp *ProviderPool) recordSuccess() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.consecFailed = 0
}

// recordFailureAndMaybeRotate increments the failure count for the
// provider at idx (only if it is still the active one; a concurrent
// caller may have already rotated) and advances rp.active once the
// threshold is hit. Returns whether a rotation happened.
func (rp *ProviderPool) recordFailureAndMaybeRotate(idx int) bool {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.active != idx {
		return false // already rotated by another goroutine
	}
	rp.consecFailed++
	if rp.consecFailed < rp.maxConsecutiveFails {
		return false
	}
	rp.active = (rp.active + 1) % len(rp.pools)
	rp.consecFailed = 0
	return true
}

// Close closes every underlying provider pool.
func (rp *ProviderPool) Close(ctx context.Context) {
	for _, p := range rp.pools {
		p.Close(ctx)
	}
}
