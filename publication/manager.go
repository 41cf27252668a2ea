package publication

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"time"

	"veilnet.io/access"
	"veilnet.io/crypto"
	"veilnet.io/download"
	"veilnet.io/errors"
	"veilnet.io/log"
	"veilnet.io/store"
	"veilnet.io/veilnet"
)

// shareIDEncoding renders share IDs in the 24-character uppercase
// base32 alphabet, matching obfuscate's wire-subject alphabet choice.
var shareIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// PublishOptions carries the access-control parameters for Publish; only
// the fields relevant to opts.AccessLevel are consulted.
type PublishOptions struct {
	AccessLevel veilnet.AccessLevel
	ExpiresAt   time.Time

	// PRIVATE only: users authorized to resolve the share, identified by
	// their Ed25519 public key.
	AuthorizedUsers []ed25519.PublicKey

	// PROTECTED only.
	Password string
	ScryptN  int
	ScryptR  int
	ScryptP  int
}

// Manager builds, resolves, and revokes publications. It owns no state
// of its own beyond the store handle, delegating key derivation to
// access and index encoding to this package's codec.
type Manager struct {
	store *store.Store
	log   log.Logger
}

// New builds a Manager over st.
func New(st *store.Store) *Manager {
	return &Manager{store: st, log: log.With("component", "publication.Manager")}
}

// WrappedKey is one authorized user's copy of a PRIVATE share's
// symmetric key, wrapped via access.WrapPrivateKey. The publications
// table has no column for these (it would grow an unbounded per-user
// blob list); Publish returns them instead so the caller distributes
// one per invite.
type WrappedKey struct {
	UserPublicKey ed25519.PublicKey
	Wrapped       []byte
}

// Publish snapshots folderID at its current version, builds the
// plaintext index, derives the share key per opts.AccessLevel, encrypts
// the index, mints a share ID, and persists everything in one
// transaction. folderContentKey is the
// folder's symmetric content key; it is embedded in the encrypted index
// for every access level, and for PRIVATE shares it also wraps the
// share key for each authorized user.
func (m *Manager) Publish(ctx context.Context, folderID veilnet.FolderID, folderVersion int64, folderContentKey []byte, opts PublishOptions) (veilnet.ShareID, []WrappedKey, error) {
	const op = "publication.Publish"

	idx, err := m.buildIndex(ctx, folderID, folderVersion)
	if err != nil {
		return "", nil, errors.E(op, err)
	}
	idx.ContentKey = folderContentKey
	plaintext := Marshal(idx)

	shareID, err := newShareID()
	if err != nil {
		return "", nil, errors.E(op, err)
	}

	pub := &veilnet.Publication{
		ShareID:       shareID,
		FolderID:      folderID,
		FolderVersion: folderVersion,
		AccessLevel:   opts.AccessLevel,
		ExpiresAt:     opts.ExpiresAt,
	}

	var shareKey []byte
	var wrappedKeys []WrappedKey
	switch opts.AccessLevel {
	case veilnet.Public:
		shareKey = access.DerivePublicKey(shareID, folderID)

	case veilnet.Private:
		shareKey = make([]byte, crypto.KeySize)
		if _, err := rand.Read(shareKey); err != nil {
			return "", nil, errors.E(op, err)
		}
		for _, userPub := range opts.AuthorizedUsers {
			pub.AuthorizedCommitments = append(pub.AuthorizedCommitments, access.Commitment(userPub, shareID))
			wrapped, err := access.WrapPrivateKey(shareKey, folderContentKey, userPub)
			if err != nil {
				return "", nil, errors.E(op, err)
			}
			wrappedKeys = append(wrappedKeys, WrappedKey{UserPublicKey: userPub, Wrapped: wrapped})
		}

	case veilnet.Protected:
		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return "", nil, errors.E(op, err)
		}
		n, r, p := opts.ScryptN, opts.ScryptR, opts.ScryptP
		if n == 0 {
			n, r, p = 1<<15, 8, 1
		}
		pub.PasswordSalt, pub.ScryptN, pub.ScryptR, pub.ScryptP = salt, n, r, p
		shareKey, err = access.DeriveProtectedKey(opts.Password, salt, n, r, p)
		if err != nil {
			return "", nil, errors.E(op, err)
		}

	default:
		return "", nil, errors.E(op, errors.Other, errors.Str("unknown access level"))
	}

	sealed, err := crypto.Encrypt(plaintext, shareKey)
	if err != nil {
		return "", nil, errors.E(op, err)
	}
	pub.EncryptedIndex = crypto.MarshalSealed(sealed)

	if err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertPublication(pub)
	}); err != nil {
		return "", nil, errors.E(op, "share:"+string(shareID), err)
	}
	m.log.Infof("published folder %s as share %s (%s)", folderID, shareID, opts.AccessLevel)
	return shareID, wrappedKeys, nil
}

// buildIndex snapshots the files and segments of folderID at
// folderVersion into the plaintext Index structure.
func (m *Manager) buildIndex(ctx context.Context, folderID veilnet.FolderID, folderVersion int64) (*Index, error) {
	const op = "publication.buildIndex"
	idx := &Index{FolderID: folderID, FolderVersion: folderVersion}

	fc, err := m.store.StreamFilesAtVersion(ctx, folderID, folderVersion)
	if err != nil {
		return nil, errors.E(op, err)
	}
	defer fc.Close()

	// Collect the files first: the per-file store reads below need the
	// connection this cursor holds until it is exhausted.
	var files []*veilnet.File
	for fc.Next() {
		f, err := fc.Scan()
		if err != nil {
			return nil, errors.E(op, err)
		}
		files = append(files, f)
	}
	if err := fc.Err(); err != nil {
		return nil, errors.E(op, err)
	}

	for _, f := range files {
		entry := FileEntry{FileID: f.ID, RelPath: f.RelPath, Size: f.Size, SHA256: f.SHA256}

		ref := veilnet.SegmentRef{FileID: f.ID}
		var packEntry *veilnet.PackedEntry
		var pg *veilnet.PackGroup
		if pg, err = m.fetchPackGroupForFile(ctx, f.ID); err != nil {
			return nil, errors.E(op, err)
		}
		if pg != nil {
			ref = veilnet.SegmentRef{PackGroupID: pg.ID}
			for i := range pg.Entries {
				if pg.Entries[i].FileID == f.ID {
					packEntry = &pg.Entries[i]
					break
				}
			}
			if packEntry == nil {
				return nil, errors.E(op, errors.Str("pack group missing entry for file "+string(f.ID)))
			}
		}

		sc, err := m.store.StreamSegments(ctx, ref)
		if err != nil {
			return nil, errors.E(op, err)
		}
		bySegIndex := map[int]*SegmentEntry{}
		var order []int
		for sc.Next() {
			s, err := sc.Scan()
			if err != nil {
				sc.Close()
				return nil, errors.E(op, err)
			}
			if s.State != veilnet.SegmentPosted && s.State != veilnet.SegmentVerified {
				continue
			}
			se, ok := bySegIndex[s.SegmentIndex]
			if !ok {
				if packEntry != nil {
					se = &SegmentEntry{
						SegmentIndex: s.SegmentIndex,
						Offset:       0,
						Length:       packEntry.Length,
						SHA256:       s.SHA256,
						Packed:       true,
						PackOffset:   packEntry.Offset,
						PackLength:   packEntry.Length,
					}
				} else {
					se = &SegmentEntry{
						SegmentIndex: s.SegmentIndex,
						Offset:       s.PlainOffset,
						Length:       s.PlainLength,
						SHA256:       s.SHA256,
					}
				}
				bySegIndex[s.SegmentIndex] = se
				order = append(order, s.SegmentIndex)
			}
			se.Copies = append(se.Copies, CopyEntry{RedundancyCopy: s.RedundancyCopy, MessageID: s.MessageID})
		}
		if err := sc.Err(); err != nil {
			sc.Close()
			return nil, errors.E(op, err)
		}
		sc.Close()
		for _, idxOrd := range order {
			entry.Segments = append(entry.Segments, *bySegIndex[idxOrd])
		}
		idx.Files = append(idx.Files, entry)
	}
	return idx, nil
}

// fetchPackGroupForFile looks up the pack group containing fileID, if
// any; returns (nil, nil) when fileID was sliced directly instead of
// packed.
func (m *Manager) fetchPackGroupForFile(ctx context.Context, fileID veilnet.FileID) (*veilnet.PackGroup, error) {
	const op = "publication.fetchPackGroupForFile"
	var pg *veilnet.PackGroup
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		found, err := tx.FetchPackGroupForFile(fileID)
		if err != nil {
			return err
		}
		pg = found
		return nil
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return pg, nil
}

// Resolve loads a publication's encrypted index blob without
// decrypting it; the manager never holds the key.
func (m *Manager) Resolve(ctx context.Context, shareID veilnet.ShareID) (*veilnet.Publication, error) {
	const op = "publication.Resolve"
	var pub *veilnet.Publication
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		p, err := tx.FetchPublication(shareID)
		if err != nil {
			return err
		}
		pub = p
		return nil
	})
	if err != nil {
		return nil, errors.E(op, "share:"+string(shareID), err)
	}
	if pub.Expired(time.Now()) {
		return nil, errors.E(op, "share:"+string(shareID), errors.UnknownShareID)
	}
	return pub, nil
}

// Revoke expires a publication immediately. Already-posted segments
// remain on the backing network: an append-only store cannot retract
// them.
func (m *Manager) Revoke(ctx context.Context, shareID veilnet.ShareID) error {
	const op = "publication.Revoke"
	now := time.Now()
	if err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.RevokePublication(shareID, now)
	}); err != nil {
		return errors.E(op, "share:"+string(shareID), err)
	}
	return nil
}

// DecryptIndex opens pub's encrypted index under shareKey (already
// derived by the caller via the appropriate access.Derive* function and
// validated, for PRIVATE shares, via access.Verify) and decodes it.
func DecryptIndex(pub *veilnet.Publication, shareKey []byte) (*Index, error) {
	const op = "publication.DecryptIndex"
	sealed, err := crypto.UnmarshalSealed(pub.EncryptedIndex)
	if err != nil {
		return nil, errors.E(op, err)
	}
	plaintext, err := crypto.Decrypt(sealed, shareKey)
	if err != nil {
		return nil, errors.E(op, err)
	}
	idx, err := Unmarshal(plaintext)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return idx, nil
}

// ToDownloadJobs adapts a decrypted Index into the download engine's
// FileJob shape, one job per file with a caller-supplied sink factory.
//
// Segment bodies are always encrypted under the folder's content key
// (idx.ContentKey), never under the share's own access-level key: the
// latter only seals the index blob itself, so FileJob.Key must come
// from the decrypted index, not from the caller's shareKey.
func ToDownloadJobs(idx *Index, sinkFor func(veilnet.FileID, string) download.Sink) []download.FileJob {
	jobs := make([]download.FileJob, 0, len(idx.Files))
	for _, f := range idx.Files {
		job := download.FileJob{
			FileID:         f.FileID,
			Key:            idx.ContentKey,
			Sink:           sinkFor(f.FileID, f.RelPath),
			ExpectedSHA256: f.SHA256,
		}
		for _, s := range f.Segments {
			desc := download.SegmentDescriptor{
				SegmentIndex: s.SegmentIndex,
				Offset:       s.Offset,
				Length:       s.Length,
				SHA256:       s.SHA256,
				Packed:       s.Packed,
				PackOffset:   s.PackOffset,
				PackLength:   s.PackLength,
			}
			for _, c := range s.Copies {
				desc.Copies = append(desc.Copies, download.CopyRef{MessageID: c.MessageID, RedundancyCopy: c.RedundancyCopy})
			}
			job.Segments = append(job.Segments, desc)
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// newShareID mints a fresh 24-character uppercase base32 share ID: 120
// bits of entropy, no prefix, no delimiter. The access level is
// carried only inside the publication record, never in the ID.
func newShareID() (veilnet.ShareID, error) {
	const op = "publication.newShareID"
	raw := make([]byte, 15) // 15 bytes -> 24 base32 chars exactly (15*8/5).
	if _, err := rand.Read(raw); err != nil {
		return "", errors.E(op, err)
	}
	return veilnet.ShareID(shareIDEncoding.EncodeToString(raw)), nil
}
