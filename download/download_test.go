package download

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"veilnet.io/crypto"
	"veilnet.io/nntp"
	"veilnet.io/nntp/inprocess"
	"veilnet.io/pool"
	"veilnet.io/segment"
	"veilnet.io/veilnet"
)

// memSink is an in-memory Sink for tests, simulating a pre-allocated
// file descriptor accepting out-of-order writes.
type memSink struct {
	mu   sync.Mutex
	data []byte
}

func newMemSink(size int) *memSink { return &memSink{data: make([]byte, size)} }

func (s *memSink) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.data[off:], p)
	return len(p), nil
}

func postSegment(t *testing.T, srv *inprocess.Server, key []byte, plaintext []byte, subject string) string {
	t.Helper()
	sealed, err := crypto.Encrypt(plaintext, key)
	require.NoError(t, err)
	body := crypto.MarshalSealed(sealed)

	d := &inprocess.Dialer{Server: srv}
	sess, err := d.Dial(context.Background())
	require.NoError(t, err)

	msgID := "<" + subject + "@ngPost.com>"
	headers := nntp.NewArticleHeaders("poster@veilnet", "alt.test", subject, msgID, time.Now())
	require.NoError(t, sess.Post(context.Background(), headers, body))
	return msgID
}

func TestFetchSingleSegmentFile(t *testing.T) {
	srv := inprocess.NewServer()
	key := make([]byte, crypto.KeySize)
	plaintext := []byte("hello world, this is file content")
	sum := crypto.SHA256(plaintext)

	msgID := postSegment(t, srv, key, plaintext, "SUBJ0")

	p := pool.New(pool.Config{MaxOpen: 4}, &inprocess.Dialer{Server: srv})
	e := New(p, 4)

	sink := newMemSink(len(plaintext))
	job := FileJob{
		FileID: "file-1",
		Segments: []SegmentDescriptor{
			{SegmentIndex: 0, Offset: 0, Length: int64(len(plaintext)), SHA256: sum,
				Copies: []CopyRef{{MessageID: veilnet.MessageID(msgID), RedundancyCopy: 0}}},
		},
		Key:            key,
		Sink:           sink,
		ExpectedSHA256: sum,
	}

	manifest := e.Fetch(context.Background(), []FileJob{job})
	require.Len(t, manifest.Succeeded, 1)
	require.Empty(t, manifest.Failed)
	require.True(t, bytes.Equal(plaintext, sink.data))
}

func TestFetchFallsBackToRedundancyCopyOnMiss(t *testing.T) {
	srv := inprocess.NewServer()
	key := make([]byte, crypto.KeySize)
	plaintext := []byte("redundant content")
	sum := crypto.SHA256(plaintext)

	// Only post the second copy; the first is never posted (simulates a
	// lost article).
	copies, err := segment.Redundancy(plaintext, key, 2)
	require.NoError(t, err)
	msgID1 := "<missing@ngPost.com>"
	msgID2 := postSegment(t, srv, key, copies[1].Plaintext, "SUBJ1")

	p := pool.New(pool.Config{MaxOpen: 4}, &inprocess.Dialer{Server: srv})
	e := New(p, 4)

	sink := newMemSink(len(plaintext))
	job := FileJob{
		FileID: "file-2",
		Segments: []SegmentDescriptor{
			{SegmentIndex: 0, Offset: 0, Length: int64(len(plaintext)), SHA256: sum,
				Copies: []CopyRef{
					{MessageID: veilnet.MessageID(msgID1), RedundancyCopy: 0},
					{MessageID: veilnet.MessageID(msgID2), RedundancyCopy: 1},
				}},
		},
		Key:            key,
		Sink:           sink,
		ExpectedSHA256: sum,
	}

	manifest := e.Fetch(context.Background(), []FileJob{job})
	require.Len(t, manifest.Succeeded, 1)
	require.True(t, bytes.Equal(plaintext, sink.data))
}

func TestFetchAllCopiesExhaustedFails(t *testing.T) {
	srv := inprocess.NewServer()
	key := make([]byte, crypto.KeySize)
	sum := crypto.SHA256([]byte("anything"))

	p := pool.New(pool.Config{MaxOpen: 4}, &inprocess.Dialer{Server: srv})
	e := New(p, 4)

	sink := newMemSink(8)
	job := FileJob{
		FileID: "file-3",
		Segments: []SegmentDescriptor{
			{SegmentIndex: 0, Offset: 0, Length: 8, SHA256: sum,
				Copies: []CopyRef{{MessageID: "<gone@ngPost.com>", RedundancyCopy: 0}}},
		},
		Key:            key,
		Sink:           sink,
		ExpectedSHA256: sum,
	}

	manifest := e.Fetch(context.Background(), []FileJob{job})
	require.Empty(t, manifest.Succeeded)
	require.Len(t, manifest.Failed, 1)
	require.Equal(t, veilnet.FileID("file-3"), manifest.Failed[0].FileID)
}

// TestFetchPackedSegmentSlicesFilesApart posts one pack-group article
// bundling two small files and verifies each file's download job
// recovers only its own byte range from the shared buffer.
func TestFetchPackedSegmentSlicesFilesApart(t *testing.T) {
	srv := inprocess.NewServer()
	key := make([]byte, crypto.KeySize)
	fileAData, fileBData := []byte("hello"), []byte("world!")
	packed := append(append([]byte{}, fileAData...), fileBData...)
	packSum := crypto.SHA256(packed)
	msgID := postSegment(t, srv, key, packed, "PACKSUBJ")

	p := pool.New(pool.Config{MaxOpen: 4}, &inprocess.Dialer{Server: srv})
	e := New(p, 4)

	sinkA := newMemSink(len(fileAData))
	sinkB := newMemSink(len(fileBData))
	jobs := []FileJob{
		{
			FileID: "pfile-a", Key: key, Sink: sinkA, ExpectedSHA256: crypto.SHA256(fileAData),
			Segments: []SegmentDescriptor{{
				SegmentIndex: 0, Offset: 0, Length: int64(len(fileAData)), SHA256: packSum,
				Packed: true, PackOffset: 0, PackLength: int64(len(fileAData)),
				Copies: []CopyRef{{MessageID: veilnet.MessageID(msgID), RedundancyCopy: 0}},
			}},
		},
		{
			FileID: "pfile-b", Key: key, Sink: sinkB, ExpectedSHA256: crypto.SHA256(fileBData),
			Segments: []SegmentDescriptor{{
				SegmentIndex: 0, Offset: 0, Length: int64(len(fileBData)), SHA256: packSum,
				Packed: true, PackOffset: int64(len(fileAData)), PackLength: int64(len(fileBData)),
				Copies: []CopyRef{{MessageID: veilnet.MessageID(msgID), RedundancyCopy: 0}},
			}},
		},
	}

	manifest := e.Fetch(context.Background(), jobs)
	require.ElementsMatch(t, []veilnet.FileID{"pfile-a", "pfile-b"}, manifest.Succeeded)
	require.Empty(t, manifest.Failed)
	require.True(t, bytes.Equal(fileAData, sinkA.data))
	require.True(t, bytes.Equal(fileBData, sinkB.data))
}

func TestFetchPartialShareFailureLeavesOtherFilesSucceeding(t *testing.T) {
	srv := inprocess.NewServer()
	key := make([]byte, crypto.KeySize)
	goodPlaintext := []byte("good file content")
	goodSum := crypto.SHA256(goodPlaintext)
	goodMsgID := postSegment(t, srv, key, goodPlaintext, "GOODSUBJ")

	badSum := crypto.SHA256([]byte("never posted"))

	p := pool.New(pool.Config{MaxOpen: 4}, &inprocess.Dialer{Server: srv})
	e := New(p, 4)

	goodSink := newMemSink(len(goodPlaintext))
	badSink := newMemSink(8)

	jobs := []FileJob{
		{
			FileID: "good", Key: key, Sink: goodSink, ExpectedSHA256: goodSum,
			Segments: []SegmentDescriptor{{SegmentIndex: 0, Offset: 0, Length: int64(len(goodPlaintext)), SHA256: goodSum,
				Copies: []CopyRef{{MessageID: veilnet.MessageID(goodMsgID), RedundancyCopy: 0}}}},
		},
		{
			FileID: "bad", Key: key, Sink: badSink, ExpectedSHA256: badSum,
			Segments: []SegmentDescriptor{{SegmentIndex: 0, Offset: 0, Length: 8, SHA256: badSum,
				Copies: []CopyRef{{MessageID: "<gone@ngPost.com>", RedundancyCopy: 0}}}},
		},
	}

	manifest := e.Fetch(context.Background(), jobs)
	require.ElementsMatch(t, []veilnet.FileID{"good"}, manifest.Succeeded)
	require.Len(t, manifest.Failed, 1)
	require.Equal(t, veilnet.FileID("bad"), manifest.Failed[0].FileID)
}
