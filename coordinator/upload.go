package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"veilnet.io/errors"
	"veilnet.io/segment"
	"veilnet.io/store"
	"veilnet.io/upload"
	"veilnet.io/veilnet"
)

// UploadFolder posts every not-yet-posted segment belonging to folder,
// including any left in state pending|queued|uploading by a run that
// crashed mid-upload: the next invocation enumerates them, re-queues
// them, and completes. It runs asynchronously; poll GetProgress(id)
// and Cancel(id) to abort.
func (c *Coordinator) UploadFolder(ctx context.Context, folder *veilnet.Folder, owner *veilnet.User, ownerSecret []byte) (OperationID, error) {
	const op = "coordinator.UploadFolder"
	if folder.Deleted {
		return "", errors.E(op, errors.FolderNotOwned, errors.Str("folder is deleted"))
	}
	keys, err := unwrapFolderKeys(folder, owner, ownerSecret)
	if err != nil {
		return "", errors.E(op, err)
	}

	id, opCtx, opState := c.ops.begin(ctx, KindUpload)
	go c.runUpload(opCtx, opState, folder, keys)
	return id, nil
}

func (c *Coordinator) runUpload(ctx context.Context, opState *operation, folder *veilnet.Folder, keys *folderKeys) {
	const op = "coordinator.runUpload"
	manifest, err := c.uploadOnce(ctx, folder, keys, opState)
	if err != nil {
		opState.finish(errors.E(op, err))
		c.log.Errorf("upload folder %s: %v", folder.ID, err)
		return
	}
	opState.finish(nil)
	c.log.Infof("uploaded folder %s: %d posted, %d failed", folder.ID, manifest.SegmentsPosted, manifest.SegmentsFailed)
}

// uploadOnce gathers every segment needing a post, rebuilds its
// plaintext from the folder's files on disk, and submits it to the
// shared upload engine, waiting for every submitted segment's outcome
// before returning a manifest.
func (c *Coordinator) uploadOnce(ctx context.Context, folder *veilnet.Folder, keys *folderKeys, opState *operation) (veilnet.UploadManifest, error) {
	const op = "coordinator.uploadOnce"

	segs, err := c.pendingSegments(ctx, folder.ID)
	if err != nil {
		return veilnet.UploadManifest{}, errors.E(op, err)
	}
	opState.addTotal(len(segs))

	fileCache := make(map[veilnet.FileID][]byte)
	packCache := make(map[veilnet.PackGroupID][]byte)

	var wg sync.WaitGroup
	for i := range segs {
		select {
		case <-ctx.Done():
			opState.advance(0, len(segs)-i)
			wg.Wait()
			return veilnet.UploadManifest{SegmentsPosted: opState.snapshot().Completed, SegmentsFailed: opState.snapshot().Failed}, nil
		default:
		}

		s := segs[i]
		if s.State == veilnet.SegmentUploading && s.MessageID != "" && c.cfg.VerifyBeforeRetry {
			if c.confirmPosted(ctx, s) {
				opState.advance(1, 0)
				continue
			}
		}
		base, err := c.segmentPlaintext(ctx, folder, s, fileCache, packCache)
		if err != nil {
			opState.advance(0, 1)
			c.log.Warnf("upload: reconstructing segment %s/%s#%d copy %d: %v", s.Ref.FileID, s.Ref.PackGroupID, s.SegmentIndex, s.RedundancyCopy, err)
			continue
		}
		copies, err := segment.Redundancy(base, keys.contentKey, s.RedundancyCopy+1)
		if err != nil {
			opState.advance(0, 1)
			continue
		}
		plaintext := copies[s.RedundancyCopy].Plaintext

		if s.State == veilnet.SegmentPending {
			if err := c.store.WithTx(ctx, func(tx *store.Tx) error {
				return tx.UpdateSegmentState(s.Ref, s.SegmentIndex, s.RedundancyCopy, veilnet.SegmentQueued, "")
			}); err != nil {
				opState.advance(0, 1)
				continue
			}
		}

		key := segmentKeyOf(s.Ref, s.SegmentIndex, s.RedundancyCopy)
		wg.Add(1)
		c.routeOutcome(key, func(out upload.Outcome) {
			defer wg.Done()
			if out.Posted {
				opState.advance(1, 0)
				c.metrics.SegmentPosted(string(folder.ID))
				return
			}
			opState.advance(0, 1)
			reason := ""
			if out.Err != nil {
				reason = out.Err.Error()
			}
			c.metrics.SegmentFailed(string(folder.ID), reason)
			c.log.Warnf("upload: segment %s/%s#%d copy %d failed: %v", out.Ref.FileID, out.Ref.PackGroupID, out.SegmentIndex, out.RedundancyCopy, out.Err)
		})
		c.uploadEng.Submit(&upload.Job{
			Segment:   *s,
			Plaintext: plaintext,
			Key:       keys.contentKey,
			Newsgroup: c.cfg.Newsgroup,
			From:      c.cfg.FromHeader,
		})
	}

	wg.Wait()
	p := opState.snapshot()
	return veilnet.UploadManifest{SegmentsPosted: p.Completed, SegmentsFailed: p.Failed}, nil
}

// confirmPosted checks whether an uploading-state segment's recorded
// Message-ID is retrievable upstream: a crashed run may have posted the
// article without reaching the posted-state commit. A positive HEAD
// commits the posted transition and skips the re-post; any failure
// (missing article, network error) means the segment is re-queued as
// usual.
func (c *Coordinator) confirmPosted(ctx context.Context, s *veilnet.Segment) bool {
	lease, err := c.pool.Acquire(ctx)
	if err != nil {
		return false
	}
	ok := true
	defer func() { lease.Release(ctx, ok) }()

	if _, err := lease.Session.Head(ctx, string(s.MessageID)); err != nil {
		return false
	}
	if err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.UpdateSegmentPosted(s.Ref, s.SegmentIndex, s.RedundancyCopy, s.MessageID, s.UsenetSubject, time.Now())
	}); err != nil {
		c.log.Warnf("upload: committing recovered segment %s/%s#%d copy %d: %v", s.Ref.FileID, s.Ref.PackGroupID, s.SegmentIndex, s.RedundancyCopy, err)
		return false
	}
	return true
}

// pendingSegments collects every segment of folder left in
// pending|queued|uploading state, fully materialized before any
// follow-up store reads so the streaming cursor's connection is
// released early.
func (c *Coordinator) pendingSegments(ctx context.Context, folderID veilnet.FolderID) ([]*veilnet.Segment, error) {
	const op = "coordinator.pendingSegments"
	cur, err := c.store.StreamSegmentsByStateForFolder(ctx, folderID,
		veilnet.SegmentPending, veilnet.SegmentQueued, veilnet.SegmentUploading)
	if err != nil {
		return nil, errors.E(op, err)
	}
	defer cur.Close()

	var out []*veilnet.Segment
	for cur.Next() {
		s, err := cur.Scan()
		if err != nil {
			return nil, errors.E(op, err)
		}
		out = append(out, s)
	}
	if err := cur.Err(); err != nil {
		return nil, errors.E(op, err)
	}
	return out, nil
}

// segmentPlaintext reconstructs the base (redundancy copy 0) plaintext
// a segment describes by re-reading its source file(s) from disk,
// since plaintext is never cached between indexing and uploading.
func (c *Coordinator) segmentPlaintext(ctx context.Context, folder *veilnet.Folder, s *veilnet.Segment, fileCache map[veilnet.FileID][]byte, packCache map[veilnet.PackGroupID][]byte) ([]byte, error) {
	const op = "coordinator.segmentPlaintext"

	if s.Ref.PackGroupID == "" {
		data, ok := fileCache[s.Ref.FileID]
		if !ok {
			f, err := c.fetchFileByID(ctx, s.Ref.FileID)
			if err != nil {
				return nil, errors.E(op, err)
			}
			data, err = os.ReadFile(filepath.Join(folder.RootPath, filepath.FromSlash(f.RelPath)))
			if err != nil {
				return nil, errors.E(op, err)
			}
			fileCache[s.Ref.FileID] = data
		}
		end := s.PlainOffset + s.PlainLength
		if s.PlainOffset < 0 || end > int64(len(data)) {
			return nil, errors.E(op, errors.HashMismatch, errors.Str("segment bounds out of range"))
		}
		return data[s.PlainOffset:end], nil
	}

	buf, ok := packCache[s.Ref.PackGroupID]
	if !ok {
		pg, err := c.fetchPackGroup(ctx, s.Ref.PackGroupID)
		if err != nil {
			return nil, errors.E(op, err)
		}
		buf = make([]byte, pg.Total)
		for _, entry := range pg.Entries {
			f, err := c.fetchFileByID(ctx, entry.FileID)
			if err != nil {
				return nil, errors.E(op, err)
			}
			data, err := os.ReadFile(filepath.Join(folder.RootPath, filepath.FromSlash(f.RelPath)))
			if err != nil {
				return nil, errors.E(op, err)
			}
			if int64(len(data)) != entry.Length {
				return nil, errors.E(op, errors.HashMismatch, errors.Str("packed file size changed since indexing: "+f.RelPath))
			}
			copy(buf[entry.Offset:entry.Offset+entry.Length], data)
		}
		packCache[s.Ref.PackGroupID] = buf
	}
	return buf, nil
}

func (c *Coordinator) fetchFileByID(ctx context.Context, id veilnet.FileID) (*veilnet.File, error) {
	var f *veilnet.File
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		f, err = tx.FetchFileByID(id)
		return err
	})
	return f, err
}

func (c *Coordinator) fetchPackGroup(ctx context.Context, id veilnet.PackGroupID) (*veilnet.PackGroup, error) {
	var pg *veilnet.PackGroup
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		pg, err = tx.FetchPackGroup(id)
		return err
	})
	return pg, err
}
