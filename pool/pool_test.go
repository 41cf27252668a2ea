package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"veilnet.io/nntp"
	"veilnet.io/nntp/inprocess"
)

func TestAcquireReleaseReusesSession(t *testing.T) {
	srv := inprocess.NewServer()
	p := New(Config{MaxOpen: 2}, &inprocess.Dialer{Server: srv})

	ctx := context.Background()
	l1, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, p.Open())
	l1.Release(ctx, true)

	l2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, p.Open(), "released session should be reused, not redialed")
	l2.Release(ctx, true)
}

func TestAcquireExhaustsAtMaxOpen(t *testing.T) {
	srv := inprocess.NewServer()
	p := New(Config{MaxOpen: 1, AcquireTimeout: 100 * time.Millisecond}, &inprocess.Dialer{Server: srv})

	ctx := context.Background()
	l1, err := p.Acquire(ctx)
	require.NoError(t, err)

	_, err = p.Acquire(ctx)
	require.Error(t, err)

	l1.Release(ctx, true)
}

func TestReleaseNotOkClosesSession(t *testing.T) {
	srv := inprocess.NewServer()
	p := New(Config{MaxOpen: 2}, &inprocess.Dialer{Server: srv})

	ctx := context.Background()
	l1, err := p.Acquire(ctx)
	require.NoError(t, err)
	l1.Release(ctx, false)
	require.Equal(t, 0, p.Open())

	l2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, p.Open())
	l2.Release(ctx, true)
}

func TestAcquireSurfacesAuthFailure(t *testing.T) {
	srv := inprocess.NewServer()
	srv.AuthToken = "correct"
	p := New(Config{MaxOpen: 1}, &inprocess.Dialer{Server: srv, AuthToken: "wrong"})

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
}

func TestCloseDrainsIdleSessions(t *testing.T) {
	srv := inprocess.NewServer()
	p := New(Config{MaxOpen: 2}, &inprocess.Dialer{Server: srv})
	ctx := context.Background()

	l1, err := p.Acquire(ctx)
	require.NoError(t, err)
	l1.Release(ctx, true)
	require.Equal(t, 1, p.Open())

	p.Close(ctx)

	_, err = p.Acquire(ctx)
	require.Error(t, err)
}

var _ nntp.Dialer = (*inprocess.Dialer)(nil)
