package coordinator

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"veilnet.io/errors"
	"veilnet.io/nntp"
	"veilnet.io/nntp/inprocess"
	"veilnet.io/publication"
	"veilnet.io/store"
	"veilnet.io/veilnet"
)

// testCoordinator wires a Coordinator against an in-memory store and an
// in-process NNTP server, with a small segment size so a handful of
// kilobytes of test data exercises the sliced (multi-segment) path
// without needing real large files.
func testCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := DefaultConfig()
	cfg.SegmentSize = 64
	cfg.RedundancyLevel = 1

	dialer := &inprocess.Dialer{Server: inprocess.NewServer()}
	c := New(cfg, st, dialer, nil)
	ctx := context.Background()
	c.Start(ctx)
	t.Cleanup(func() { c.Close(ctx) })
	return c
}

func waitDone(t *testing.T, c *Coordinator, id OperationID) Progress {
	t.Helper()
	for i := 0; i < 2000; i++ {
		p, ok := c.GetProgress(id)
		require.True(t, ok)
		if p.Done {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("operation never finished")
	return Progress{}
}

// TestEndToEndRoundTrip exercises add_folder -> index_folder ->
// upload_folder -> publish_folder -> download_share over a small tree
// (two files sliced into multiple segments each, plus one small file
// that is packed), and asserts every byte comes back unchanged.
func TestEndToEndRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := testCoordinator(t)

	src := t.TempDir()
	files := map[string][]byte{
		"a.txt":        bytes.Repeat([]byte("A"), 200),
		"nested/b.bin": bytes.Repeat([]byte{0xAB}, 300),
		"tiny.txt":     []byte("hi"), // below cfg.SegmentSize: exercises the pack-group path.
	}
	for rel, data := range files {
		full := filepath.Join(src, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, data, 0o644))
	}

	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	owner, err := c.CreateUser(ctx, secret)
	require.NoError(t, err)

	folder, err := c.AddFolder(ctx, owner, secret, src)
	require.NoError(t, err)

	indexID, err := c.IndexFolder(ctx, folder, owner, secret)
	require.NoError(t, err)
	p := waitDone(t, c, indexID)
	require.NoError(t, p.Err)
	require.Equal(t, 3, p.Completed)

	uploadID, err := c.UploadFolder(ctx, folder, owner, secret)
	require.NoError(t, err)
	p = waitDone(t, c, uploadID)
	require.NoError(t, p.Err)
	require.Zero(t, p.Failed)

	shareID, _, err := c.PublishFolder(ctx, folder, owner, secret, publication.PublishOptions{AccessLevel: veilnet.Public})
	require.NoError(t, err)

	dest := t.TempDir()
	downloadID, err := c.DownloadShare(ctx, shareID, dest, Credentials{})
	require.NoError(t, err)
	p = waitDone(t, c, downloadID)
	require.NoError(t, p.Err)

	for rel, want := range files {
		got, err := os.ReadFile(filepath.Join(dest, rel))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

// TestEmptyFolderPublishDownloadRoundTrip covers the empty-folder
// boundary: indexing succeeds with zero files, publishing still yields
// a valid share ID, and downloading it reconstructs an empty
// directory.
func TestEmptyFolderPublishDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := testCoordinator(t)

	src := t.TempDir()

	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	owner, err := c.CreateUser(ctx, secret)
	require.NoError(t, err)
	folder, err := c.AddFolder(ctx, owner, secret, src)
	require.NoError(t, err)

	indexID, err := c.IndexFolder(ctx, folder, owner, secret)
	require.NoError(t, err)
	p := waitDone(t, c, indexID)
	require.NoError(t, p.Err)
	require.Zero(t, p.Total)

	shareID, _, err := c.PublishFolder(ctx, folder, owner, secret, publication.PublishOptions{AccessLevel: veilnet.Public})
	require.NoError(t, err)
	require.Len(t, string(shareID), 24)

	dest := filepath.Join(t.TempDir(), "restored")
	downloadID, err := c.DownloadShare(ctx, shareID, dest, Credentials{})
	require.NoError(t, err)
	p = waitDone(t, c, downloadID)
	require.NoError(t, p.Err)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestProtectedShareWrongPasswordIsBadPassword publishes a PROTECTED
// share and opens it with a near-miss password: the GCM tag check on
// the encrypted index fails and surfaces as BadPassword, before any
// segment fetch is attempted.
func TestProtectedShareWrongPasswordIsBadPassword(t *testing.T) {
	ctx := context.Background()
	c := testCoordinator(t)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o644))

	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	owner, err := c.CreateUser(ctx, secret)
	require.NoError(t, err)
	folder, err := c.AddFolder(ctx, owner, secret, src)
	require.NoError(t, err)

	indexID, err := c.IndexFolder(ctx, folder, owner, secret)
	require.NoError(t, err)
	p := waitDone(t, c, indexID)
	require.NoError(t, p.Err)

	uploadID, err := c.UploadFolder(ctx, folder, owner, secret)
	require.NoError(t, err)
	p = waitDone(t, c, uploadID)
	require.NoError(t, p.Err)
	require.Zero(t, p.Failed)

	shareID, _, err := c.PublishFolder(ctx, folder, owner, secret, publication.PublishOptions{
		AccessLevel: veilnet.Protected, Password: "correct horse",
		ScryptN: 1024, ScryptR: 8, ScryptP: 1,
	})
	require.NoError(t, err)

	dest := t.TempDir()
	_, err = c.DownloadShare(ctx, shareID, dest, Credentials{Password: "correct house"})
	require.Error(t, err)
	require.True(t, errors.Is(errors.BadPassword, err), "want BadPassword, got %v", err)

	downloadID, err := c.DownloadShare(ctx, shareID, dest, Credentials{Password: "correct horse"})
	require.NoError(t, err)
	p = waitDone(t, c, downloadID)
	require.NoError(t, p.Err)
	got, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

// TestConfirmPostedRecoversCommittedArticle simulates a crash between
// an article's post and its posted-state commit: the segment sits in
// uploading state with its minted Message-ID recorded, and the article
// is retrievable upstream. With VerifyBeforeRetry on, recovery commits
// the posted transition from a HEAD check instead of posting twice.
func TestConfirmPostedRecoversCommittedArticle(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := DefaultConfig()
	cfg.VerifyBeforeRetry = true
	srv := inprocess.NewServer()
	c := New(cfg, st, &inprocess.Dialer{Server: srv}, nil)
	c.Start(ctx)
	t.Cleanup(func() { c.Close(ctx) })

	msgID := veilnet.MessageID("<orphaned0123456@ngPost.com>")
	seg := &veilnet.Segment{
		Ref: veilnet.SegmentRef{FileID: "file-crash"}, SegmentIndex: 0,
		PlainLength: 4, InternalSubject: "deadbeef", UsenetSubject: "ABCDEFGHIJKLMNOPQRST",
		MessageID: msgID, State: veilnet.SegmentUploading,
	}
	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error { return tx.InsertSegment(seg) }))

	sess, err := (&inprocess.Dialer{Server: srv}).Dial(ctx)
	require.NoError(t, err)
	headers := nntp.NewArticleHeaders("poster@veilnet", "alt.test", seg.UsenetSubject, string(msgID), time.Now())
	require.NoError(t, sess.Post(ctx, headers, []byte("body")))

	require.True(t, c.confirmPosted(ctx, seg))

	cur, err := st.StreamSegments(ctx, seg.Ref)
	require.NoError(t, err)
	defer cur.Close()
	require.True(t, cur.Next())
	got, err := cur.Scan()
	require.NoError(t, err)
	require.Equal(t, veilnet.SegmentPosted, got.State)
	require.Equal(t, msgID, got.MessageID)
}

// TestCancelIndexMarksOperationCancelled verifies that cancelling an
// in-flight IndexFolder run leaves the finished operation's Progress
// marked Cancelled.
func TestCancelIndexMarksOperationCancelled(t *testing.T) {
	ctx := context.Background()
	c := testCoordinator(t)

	src := t.TempDir()
	for i := 0; i < 20; i++ {
		name := filepath.Join(src, "file"+string(rune('a'+i))+".bin")
		require.NoError(t, os.WriteFile(name, bytes.Repeat([]byte{byte(i)}, 500), 0o644))
	}

	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	owner, err := c.CreateUser(ctx, secret)
	require.NoError(t, err)
	folder, err := c.AddFolder(ctx, owner, secret, src)
	require.NoError(t, err)

	id, err := c.IndexFolder(ctx, folder, owner, secret)
	require.NoError(t, err)
	require.True(t, c.Cancel(id))

	p := waitDone(t, c, id)
	require.True(t, p.Cancelled)
}
