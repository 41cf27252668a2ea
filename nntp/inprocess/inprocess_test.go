package inprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"veilnet.io/nntp"
)

func TestPostThenArticleRoundTrip(t *testing.T) {
	srv := NewServer()
	d := &Dialer{Server: srv}
	sess, err := d.Dial(context.Background())
	require.NoError(t, err)

	headers := nntp.NewArticleHeaders("poster@veilnet", "alt.binaries.test", "SUBJ123", "<abc@ngPost.com>", time.Now())
	require.NoError(t, sess.Post(context.Background(), headers, []byte("ciphertext")))

	got, err := sess.Article(context.Background(), "<abc@ngPost.com>")
	require.NoError(t, err)
	require.Equal(t, []byte("ciphertext"), got.Body)
	require.Equal(t, "SUBJ123", got.Headers["Subject"])
}

func TestArticleMissingIsNotFound(t *testing.T) {
	srv := NewServer()
	d := &Dialer{Server: srv}
	sess, err := d.Dial(context.Background())
	require.NoError(t, err)

	_, err = sess.Article(context.Background(), "<missing@ngPost.com>")
	require.Error(t, err)
	we, ok := err.(*nntp.WireError)
	require.True(t, ok)
	require.Equal(t, nntp.ClassNotFound, we.Class)
}

func TestDialRejectsBadAuthToken(t *testing.T) {
	srv := NewServer()
	srv.AuthToken = "secret"
	d := &Dialer{Server: srv, AuthToken: "wrong"}
	_, err := d.Dial(context.Background())
	require.Error(t, err)
	we, ok := err.(*nntp.WireError)
	require.True(t, ok)
	require.Equal(t, nntp.ClassAuthRequired, we.Class)
}

func TestPostDuplicateMessageIDFails(t *testing.T) {
	srv := NewServer()
	d := &Dialer{Server: srv}
	sess, err := d.Dial(context.Background())
	require.NoError(t, err)

	headers := nntp.NewArticleHeaders("poster@veilnet", "alt.binaries.test", "SUBJ", "<dup@ngPost.com>", time.Now())
	require.NoError(t, sess.Post(context.Background(), headers, []byte("one")))
	err = sess.Post(context.Background(), headers, []byte("two"))
	require.Error(t, err)
}
