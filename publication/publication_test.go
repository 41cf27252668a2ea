package publication

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"veilnet.io/access"
	"veilnet.io/crypto"
	"veilnet.io/store"
	"veilnet.io/veilnet"
)

func seedFolder(t *testing.T, st *store.Store, folderID veilnet.FolderID, fileID veilnet.FileID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertFile(&veilnet.File{
			ID: fileID, FolderID: folderID, RelPath: "docs/a.txt", Version: 1,
			Size: 5, SHA256: crypto.SHA256([]byte("hello")),
		}); err != nil {
			return err
		}
		base := veilnet.Segment{
			Ref: veilnet.SegmentRef{FileID: fileID}, SegmentIndex: 0, RedundancyCopy: 0,
			PlainLength: 5, SHA256: crypto.SHA256([]byte("hello")),
			InternalSubject: "deadbeef", UsenetSubject: "ABCDEFGHIJKLMNOPQRST",
			MessageID: "<base@ngPost.com>", State: veilnet.SegmentPosted, PostedAt: time.Now(),
		}
		if err := tx.InsertSegment(&base); err != nil {
			return err
		}
		redundant := base
		redundant.RedundancyCopy = 1
		redundant.MessageID = "<copy1@ngPost.com>"
		redundant.UsenetSubject = "ZYXWVUTSRQPONMLKJIHG"
		return tx.InsertSegment(&redundant)
	}))
}

func TestIndexMarshalUnmarshalRoundTrip(t *testing.T) {
	idx := &Index{
		FolderID: "folder1", FolderVersion: 3,
		Files: []FileEntry{
			{
				FileID: "file1", RelPath: "a/b.txt", Size: 42, SHA256: crypto.SHA256([]byte("x")),
				Segments: []SegmentEntry{
					{
						SegmentIndex: 0, Offset: 0, Length: 42, SHA256: crypto.SHA256([]byte("y")),
						Copies: []CopyEntry{
							{RedundancyCopy: 0, MessageID: "<m0@ngPost.com>"},
							{RedundancyCopy: 1, MessageID: "<m1@ngPost.com>"},
						},
					},
				},
			},
		},
	}
	encoded := Marshal(idx)
	decoded, err := Unmarshal(encoded)
	require.NoError(t, err)
	require.Equal(t, idx, decoded)
}

func TestUnmarshalTruncatedFails(t *testing.T) {
	idx := &Index{FolderID: "f", Files: []FileEntry{{FileID: "x", RelPath: "p", Segments: []SegmentEntry{{SegmentIndex: 0}}}}}
	encoded := Marshal(idx)
	_, err := Unmarshal(encoded[:len(encoded)-2])
	require.Error(t, err)
}

// seedPackedFolder seeds a folder with a single pack group containing
// two small files sharing one posted segment, mirroring what
// coordinator.persistPackedFiles commits for files below the segment
// size.
func seedPackedFolder(t *testing.T, st *store.Store, folderID veilnet.FolderID) (fileA, fileB veilnet.FileID) {
	t.Helper()
	ctx := context.Background()
	fileA, fileB = "pfile-a", "pfile-b"
	packed := append(append([]byte{}, "hello"...), "world!"...) // "hello" (5) + "world!" (6)
	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertFile(&veilnet.File{ID: fileA, FolderID: folderID, RelPath: "a.txt", Version: 1, Size: 5, SHA256: crypto.SHA256([]byte("hello"))}); err != nil {
			return err
		}
		if err := tx.InsertFile(&veilnet.File{ID: fileB, FolderID: folderID, RelPath: "b.txt", Version: 1, Size: 6, SHA256: crypto.SHA256([]byte("world!"))}); err != nil {
			return err
		}
		pg := &veilnet.PackGroup{
			ID: "pg-test", FolderID: folderID, Version: 1, Total: int64(len(packed)),
			Entries: []veilnet.PackedEntry{
				{FileID: fileA, Offset: 0, Length: 5},
				{FileID: fileB, Offset: 5, Length: 6},
			},
		}
		if err := tx.InsertPackGroup(pg); err != nil {
			return err
		}
		seg := veilnet.Segment{
			Ref: veilnet.SegmentRef{PackGroupID: pg.ID}, SegmentIndex: 0, RedundancyCopy: 0,
			PlainLength: int64(len(packed)), SHA256: crypto.SHA256(packed),
			InternalSubject: "deadbeef", UsenetSubject: "ABCDEFGHIJKLMNOPQRST",
			MessageID: "<pack@ngPost.com>", State: veilnet.SegmentPosted, PostedAt: time.Now(),
		}
		return tx.InsertSegment(&seg)
	}))
	return fileA, fileB
}

func TestBuildIndexIncludesPackedFiles(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	folderID := veilnet.FolderID("folder-packed")
	fileA, fileB := seedPackedFolder(t, st, folderID)

	m := New(st)
	shareID, _, err := m.Publish(ctx, folderID, 1, nil, PublishOptions{AccessLevel: veilnet.Public})
	require.NoError(t, err)

	pub, err := m.Resolve(ctx, shareID)
	require.NoError(t, err)
	shareKey := access.DerivePublicKey(shareID, folderID)
	idx, err := DecryptIndex(pub, shareKey)
	require.NoError(t, err)

	require.Len(t, idx.Files, 2)
	byID := map[veilnet.FileID]FileEntry{}
	for _, f := range idx.Files {
		byID[f.FileID] = f
	}

	a, ok := byID[fileA]
	require.True(t, ok, "packed file a.txt missing from index")
	require.Len(t, a.Segments, 1)
	require.True(t, a.Segments[0].Packed)
	require.Equal(t, int64(0), a.Segments[0].PackOffset)
	require.Equal(t, int64(5), a.Segments[0].PackLength)
	require.Len(t, a.Segments[0].Copies, 1)

	b, ok := byID[fileB]
	require.True(t, ok, "packed file b.txt missing from index")
	require.True(t, b.Segments[0].Packed)
	require.Equal(t, int64(5), b.Segments[0].PackOffset)
	require.Equal(t, int64(6), b.Segments[0].PackLength)
}

func TestPublishResolvePublicRoundTrip(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	folderID, fileID := veilnet.FolderID("folder1"), veilnet.FileID("file1")
	seedFolder(t, st, folderID, fileID)

	m := New(st)
	shareID, _, err := m.Publish(ctx, folderID, 1, nil, PublishOptions{AccessLevel: veilnet.Public})
	require.NoError(t, err)
	require.Len(t, string(shareID), 24)

	pub, err := m.Resolve(ctx, shareID)
	require.NoError(t, err)
	require.Equal(t, veilnet.Public, pub.AccessLevel)

	shareKey := access.DerivePublicKey(shareID, folderID)
	idx, err := DecryptIndex(pub, shareKey)
	require.NoError(t, err)
	require.Len(t, idx.Files, 1)
	require.Equal(t, fileID, idx.Files[0].FileID)
	require.Len(t, idx.Files[0].Segments[0].Copies, 2)
}

func TestPublishResolveProtectedRoundTrip(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	folderID, fileID := veilnet.FolderID("folder2"), veilnet.FileID("file2")
	seedFolder(t, st, folderID, fileID)

	m := New(st)
	shareID, _, err := m.Publish(ctx, folderID, 1, nil, PublishOptions{
		AccessLevel: veilnet.Protected, Password: "hunter2", ScryptN: 1024, ScryptR: 8, ScryptP: 1,
	})
	require.NoError(t, err)

	pub, err := m.Resolve(ctx, shareID)
	require.NoError(t, err)
	require.Equal(t, veilnet.Protected, pub.AccessLevel)

	shareKey, err := access.DeriveProtectedKey("hunter2", pub.PasswordSalt, pub.ScryptN, pub.ScryptR, pub.ScryptP)
	require.NoError(t, err)
	idx, err := DecryptIndex(pub, shareKey)
	require.NoError(t, err)
	require.Equal(t, fileID, idx.Files[0].FileID)

	wrongKey, err := access.DeriveProtectedKey("wrongpass", pub.PasswordSalt, pub.ScryptN, pub.ScryptR, pub.ScryptP)
	require.NoError(t, err)
	_, err = DecryptIndex(pub, wrongKey)
	require.Error(t, err)
}

func TestPublishPrivateRecordsCommitments(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	folderID, fileID := veilnet.FolderID("folder3"), veilnet.FileID("file3")
	seedFolder(t, st, folderID, fileID)

	userPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	folderContentKey := make([]byte, crypto.KeySize)

	m := New(st)
	shareID, wrapped, err := m.Publish(ctx, folderID, 1, folderContentKey, PublishOptions{
		AccessLevel: veilnet.Private, AuthorizedUsers: []ed25519.PublicKey{userPub},
	})
	require.NoError(t, err)
	require.Len(t, wrapped, 1)

	pub, err := m.Resolve(ctx, shareID)
	require.NoError(t, err)
	require.Equal(t, veilnet.Private, pub.AccessLevel)
	require.Equal(t, [][]byte{access.Commitment(userPub, shareID)}, pub.AuthorizedCommitments)

	shareKey, err := access.UnwrapPrivateKey(wrapped[0].Wrapped, folderContentKey, userPub)
	require.NoError(t, err)
	idx, err := DecryptIndex(pub, shareKey)
	require.NoError(t, err)
	require.Equal(t, fileID, idx.Files[0].FileID)
}

func TestRevokeMakesShareUnresolvable(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	folderID, fileID := veilnet.FolderID("folder4"), veilnet.FileID("file4")
	seedFolder(t, st, folderID, fileID)

	m := New(st)
	shareID, _, err := m.Publish(ctx, folderID, 1, nil, PublishOptions{AccessLevel: veilnet.Public})
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, shareID))
	_, err = m.Resolve(ctx, shareID)
	require.Error(t, err)
}

func TestResolveUnknownShareFails(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	m := New(st)
	_, err = m.Resolve(context.Background(), "NOSUCHSHARE00000000")
	require.Error(t, err)
}
