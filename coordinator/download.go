package coordinator

import (
	"context"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"strings"

	"veilnet.io/access"
	"veilnet.io/download"
	"veilnet.io/errors"
	"veilnet.io/publication"
	"veilnet.io/veilnet"
)

// Credentials bundles whatever a caller must supply to resolve a share,
// depending on its access level: PUBLIC shares need nothing, PRIVATE
// shares need the requester's own keypair plus the wrapped share key
// and folder content key the publisher distributed out of band, and
// PROTECTED shares need the password.
type Credentials struct {
	UserPriv         ed25519.PrivateKey
	WrappedShareKey  []byte
	FolderContentKey []byte

	Password string
}

// fileSink is an os.File-backed download.Sink, pre-sized to the
// expected file length so out-of-order segment writes never need to
// grow the file mid-download.
type fileSink struct {
	f *os.File
}

func newFileSink(path string, size int64) (*fileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &fileSink{f: f}, nil
}

func (s *fileSink) WriteAt(p []byte, off int64) (int, error) { return s.f.WriteAt(p, off) }
func (s *fileSink) Close() error                             { return s.f.Close() }

// DownloadShare resolves shareID, verifies creds against its access
// policy, derives the share key, and reconstructs every file the
// publication's index names into destRoot. It runs asynchronously;
// poll GetProgress(id).
func (c *Coordinator) DownloadShare(ctx context.Context, shareID veilnet.ShareID, destRoot string, creds Credentials) (OperationID, error) {
	const op = "coordinator.DownloadShare"
	pub, err := c.publication.Resolve(ctx, shareID)
	if err != nil {
		return "", errors.E(op, err)
	}

	shareKey, err := c.resolveShareKey(pub, creds)
	if err != nil {
		return "", errors.E(op, err)
	}

	idx, err := publication.DecryptIndex(pub, shareKey)
	if err != nil {
		// For a PROTECTED share the GCM tag check on the index is the
		// password check: a wrong password derives the wrong key and
		// fails here, before any segment fetch is attempted.
		if pub.AccessLevel == veilnet.Protected && errors.Is(errors.GCMTagFailure, err) {
			return "", errors.E(op, errors.BadPassword, err)
		}
		return "", errors.E(op, err)
	}

	id, opCtx, opState := c.ops.begin(ctx, KindDownload)
	opState.addTotal(len(idx.Files))
	go c.runDownload(opCtx, opState, pub, idx, destRoot)
	return id, nil
}

// resolveShareKey checks creds against pub's access policy and returns
// the share's symmetric index key, or an error if creds do not satisfy
// the policy.
func (c *Coordinator) resolveShareKey(pub *veilnet.Publication, creds Credentials) ([]byte, error) {
	const op = "coordinator.resolveShareKey"

	proof := access.Proof{Password: creds.Password}
	if pub.AccessLevel == veilnet.Private {
		if creds.UserPriv == nil {
			return nil, errors.E(op, errors.PermissionDenied, errors.Str("no private key supplied"))
		}
		challenge, err := access.NewChallenge()
		if err != nil {
			return nil, errors.E(op, err)
		}
		sig := access.Prove(creds.UserPriv, challenge, pub.ShareID)
		proof.PrivateProof = &access.PrivateProof{
			Challenge: challenge,
			Signature: sig,
			PublicKey: creds.UserPriv.Public().(ed25519.PublicKey),
		}
	}
	if err := access.Verify(pub, proof); err != nil {
		c.metrics.ShareDownloaded(pub.AccessLevel.String(), false)
		return nil, errors.E(op, err)
	}

	switch pub.AccessLevel {
	case veilnet.Public:
		return access.DerivePublicKey(pub.ShareID, pub.FolderID), nil
	case veilnet.Private:
		return access.UnwrapPrivateKey(creds.WrappedShareKey, creds.FolderContentKey, proof.PrivateProof.PublicKey)
	case veilnet.Protected:
		return access.DeriveProtectedKey(creds.Password, pub.PasswordSalt, pub.ScryptN, pub.ScryptR, pub.ScryptP)
	default:
		return nil, errors.E(op, errors.Other, errors.Str("unknown access level"))
	}
}

func (c *Coordinator) runDownload(ctx context.Context, opState *operation, pub *veilnet.Publication, idx *publication.Index, destRoot string) {
	const op = "coordinator.runDownload"

	// An empty share still reconstructs its (empty) destination
	// directory; per-file sinks only create the subtrees they need.
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		opState.finish(errors.E(op, err))
		return
	}

	var sinks []*fileSink
	sinkFor := func(fileID veilnet.FileID, relPath string) download.Sink {
		var size int64
		for _, f := range idx.Files {
			if f.FileID == fileID {
				size = f.Size
				break
			}
		}
		dest := filepath.Join(destRoot, filepath.FromSlash(safeRelPath(relPath)))
		sink, err := newFileSink(dest, size)
		if err != nil {
			c.log.Errorf("download: opening sink for %s: %v", relPath, err)
			return nil
		}
		sinks = append(sinks, sink)
		return sink
	}

	jobs := publication.ToDownloadJobs(idx, sinkFor)
	manifest := c.downloadEng.Fetch(ctx, jobs)
	for _, s := range sinks {
		s.Close()
	}

	opState.advance(len(manifest.Succeeded), len(manifest.Failed))
	ok := len(manifest.Failed) == 0
	c.metrics.ShareDownloaded(pub.AccessLevel.String(), ok)
	if !ok {
		opState.finish(errors.E(op, errors.ReconstructionFailure, errors.Str("one or more files failed to reconstruct")))
		return
	}
	opState.finish(nil)
	c.log.Infof("downloaded share %s: %d file(s)", pub.ShareID, len(manifest.Succeeded))
}

// safeRelPath strips any leading ".." or absolute path components from
// a file's index-recorded relative path before joining it under
// destRoot, so a corrupted or hostile index cannot write outside the
// download destination.
func safeRelPath(relPath string) string {
	clean := filepath.ToSlash(filepath.Clean("/" + relPath))
	return strings.TrimPrefix(clean, "/")
}
