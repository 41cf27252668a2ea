package upload

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"veilnet.io/crypto"
	"veilnet.io/nntp"
	"veilnet.io/nntp/inprocess"
	"veilnet.io/pool"
	"veilnet.io/store"
	"veilnet.io/veilnet"
)

func testEngine(t *testing.T, srv *inprocess.Server) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p := pool.New(pool.Config{MaxOpen: 4}, &inprocess.Dialer{Server: srv})
	e := New(Config{Workers: 2, MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffCap: 10 * time.Millisecond}, st, p)
	return e, st
}

func insertQueuedSegment(t *testing.T, st *store.Store, ref veilnet.SegmentRef, idx int) veilnet.Segment {
	t.Helper()
	seg := veilnet.Segment{
		Ref: ref, SegmentIndex: idx, PlainLength: 5, SHA256: crypto.SHA256([]byte("hello")),
		InternalSubject: "deadbeef", UsenetSubject: "ABCDEFGHIJKLMNOPQRST", State: veilnet.SegmentQueued,
	}
	require.NoError(t, st.WithTx(context.Background(), func(tx *store.Tx) error { return tx.InsertSegment(&seg) }))
	return seg
}

func TestSuccessfulPostTransitionsToPosted(t *testing.T) {
	srv := inprocess.NewServer()
	e, st := testEngine(t, srv)
	ctx := context.Background()
	e.Start(ctx)

	seg := insertQueuedSegment(t, st, veilnet.SegmentRef{FileID: "f1"}, 0)
	key := make([]byte, crypto.KeySize)
	e.Submit(&Job{Segment: seg, Plaintext: []byte("hello"), Key: key, Newsgroup: "alt.test", From: "poster@veilnet"})

	out := <-e.Outcomes()
	require.True(t, out.Posted)
	require.NoError(t, out.Err)
	e.Stop()

	cur, err := st.StreamSegments(ctx, seg.Ref)
	require.NoError(t, err)
	defer cur.Close()
	require.True(t, cur.Next())
	got, err := cur.Scan()
	require.NoError(t, err)
	require.Equal(t, veilnet.SegmentPosted, got.State)
	require.NotEmpty(t, got.MessageID)
}

func TestPermanentFailureMarksSegmentFailed(t *testing.T) {
	srv := inprocess.NewServer()
	srv.AuthToken = "needed"
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	p := pool.New(pool.Config{MaxOpen: 4}, &inprocess.Dialer{Server: srv, AuthToken: "wrong"})
	e := New(Config{Workers: 1, MaxAttempts: 2, BackoffBase: time.Millisecond, BackoffCap: time.Millisecond}, st, p)
	ctx := context.Background()
	e.Start(ctx)

	seg := insertQueuedSegment(t, st, veilnet.SegmentRef{FileID: "f2"}, 0)
	key := make([]byte, crypto.KeySize)
	e.Submit(&Job{Segment: seg, Plaintext: []byte("hello"), Key: key, Newsgroup: "alt.test", From: "poster@veilnet"})

	out := <-e.Outcomes()
	require.False(t, out.Posted)
	require.Error(t, out.Err)
	e.Stop()

	cur, err := st.StreamSegments(ctx, seg.Ref)
	require.NoError(t, err)
	defer cur.Close()
	require.True(t, cur.Next())
	got, err := cur.Scan()
	require.NoError(t, err)
	require.Equal(t, veilnet.SegmentFailed, got.State)
}

// flakyDialer fails its first Dial with a transient wire error and
// dials srv normally afterwards.
type flakyDialer struct {
	srv   *inprocess.Server
	calls int32
}

func (d *flakyDialer) Dial(ctx context.Context) (nntp.Session, error) {
	if atomic.AddInt32(&d.calls, 1) == 1 {
		return nil, &nntp.WireError{Class: nntp.ClassTransient, Message: "temporary failure"}
	}
	return (&inprocess.Dialer{Server: d.srv}).Dial(ctx)
}

func TestTransientFailureEventuallySucceedsAfterRetry(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	dialer := &flakyDialer{srv: inprocess.NewServer()}
	p := pool.New(pool.Config{MaxOpen: 4}, dialer)
	e := New(Config{Workers: 1, MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffCap: 10 * time.Millisecond}, st, p)
	ctx := context.Background()

	seg := insertQueuedSegment(t, st, veilnet.SegmentRef{FileID: "f3"}, 0)
	key := make([]byte, crypto.KeySize)

	// The first attempt fails to dial; the retry dials again and posts.
	e.Start(ctx)
	e.Submit(&Job{Segment: seg, Plaintext: []byte("hello"), Key: key, Newsgroup: "alt.test", From: "poster@veilnet"})
	out := <-e.Outcomes()
	require.True(t, out.Posted)
	require.NoError(t, out.Err)
	e.Stop()
	require.EqualValues(t, 2, atomic.LoadInt32(&dialer.calls))
}

func TestQueueBackpressureBlocksUntilDrain(t *testing.T) {
	q := NewQueue(2, 1)
	require.True(t, q.Push(&Job{Priority: 1}))
	require.True(t, q.Push(&Job{Priority: 1}))

	done := make(chan struct{})
	go func() {
		q.Push(&Job{Priority: 1})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("push should have blocked at high water mark")
	case <-time.After(30 * time.Millisecond):
	}

	// Two pops take the depth from 2 to 0, below the low water mark of 1.
	_, ok := q.Pop()
	require.True(t, ok)
	_, ok = q.Pop()
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push should have unblocked after drain below low water mark")
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	q := NewQueue(0, 0)
	q.Push(&Job{Priority: 1, Segment: veilnet.Segment{SegmentIndex: 1}})
	q.Push(&Job{Priority: 5, Segment: veilnet.Segment{SegmentIndex: 2}})
	q.Push(&Job{Priority: 3, Segment: veilnet.Segment{SegmentIndex: 3}})

	first, _ := q.Pop()
	require.Equal(t, 2, first.Segment.SegmentIndex)
	second, _ := q.Pop()
	require.Equal(t, 3, second.Segment.SegmentIndex)
	third, _ := q.Pop()
	require.Equal(t, 1, third.Segment.SegmentIndex)
}

var _ nntp.Dialer = (*inprocess.Dialer)(nil)
