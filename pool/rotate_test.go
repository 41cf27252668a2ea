package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"veilnet.io/nntp"
	"veilnet.io/nntp/inprocess"
)

// failingDialer always fails to dial with a plain (non-wire) error,
// simulating a provider that is unreachable at the network level.
type failingDialer struct{}

func (failingDialer) Dial(ctx context.Context) (nntp.Session, error) {
	return nil, errors.New("connection refused")
}

func TestProviderPoolRotatesAfterConsecutiveFailures(t *testing.T) {
	down := New(Config{MaxOpen: 1}, failingDialer{})
	srv := inprocess.NewServer()
	up := New(Config{MaxOpen: 1}, &inprocess.Dialer{Server: srv})

	rp := NewProviderPool([]*Pool{down, up}, 2)
	ctx := context.Background()

	// First two acquires fail against the down provider and trip the
	// rotation; the ProviderPool retries against the next provider
	// within the same Acquire call once rotated.
	lease, err := rp.Acquire(ctx)
	require.NoError(t, err)
	lease.Release(ctx, true)

	require.Equal(t, 1, rp.currentActive())
}

func TestProviderPoolNoProvidersFails(t *testing.T) {
	rp := NewProviderPool(nil, 1)
	_, err := rp.Acquire(context.Background())
	require.Error(t, err)
}
