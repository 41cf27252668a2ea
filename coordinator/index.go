package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"

	"veilnet.io/errors"
	"veilnet.io/obfuscate"
	"veilnet.io/scanner"
	"veilnet.io/segment"
	"veilnet.io/store"
	"veilnet.io/veilnet"
)

// IndexResult summarizes one IndexFolder run.
type IndexResult struct {
	FolderVersion int64
	Added         int
	Modified      int
	Deleted       int
	Unchanged     int
	ScanErrors    []string
}

// newFileID mints a fresh 64-hex random file identifier. Each (folder,
// path, version) gets a distinct File row with its own ID, since
// segments reference a specific version's bytes, not a (path, version)
// pair; prior versions are retained as immutable historical records.
func newFileID() (veilnet.FileID, error) {
	const op = "coordinator.newFileID"
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.E(op, err)
	}
	return veilnet.FileID(hex.EncodeToString(raw)), nil
}

// IndexFolder scans folder.RootPath, diffs it against the previously
// indexed version, and persists a new File/Segment snapshot for every
// added or modified path, grouped by segment size into sliced or
// packed segments. It runs asynchronously; poll GetProgress(id) for
// status and Cancel(id) to abort.
func (c *Coordinator) IndexFolder(ctx context.Context, folder *veilnet.Folder, owner *veilnet.User, ownerSecret []byte) (OperationID, error) {
	const op = "coordinator.IndexFolder"
	if folder.Deleted {
		return "", errors.E(op, errors.FolderNotOwned, errors.Str("folder is deleted"))
	}
	keys, err := unwrapFolderKeys(folder, owner, ownerSecret)
	if err != nil {
		return "", errors.E(op, err)
	}

	id, opCtx, opState := c.ops.begin(ctx, KindIndex)
	go c.runIndex(opCtx, opState, folder, keys)
	return id, nil
}

func (c *Coordinator) runIndex(ctx context.Context, opState *operation, folder *veilnet.Folder, keys *folderKeys) {
	const op = "coordinator.runIndex"
	result, err := c.indexOnce(ctx, folder, keys, opState)
	if err != nil {
		opState.finish(errors.E(op, err))
		c.log.Errorf("index folder %s: %v", folder.ID, err)
		return
	}
	opState.finish(nil)
	c.log.Infof("indexed folder %s: +%d ~%d -%d =%d (version %d)",
		folder.ID, result.Added, result.Modified, result.Deleted, result.Unchanged, result.FolderVersion)
}

func (c *Coordinator) indexOnce(ctx context.Context, folder *veilnet.Folder, keys *folderKeys, opState *operation) (*IndexResult, error) {
	const op = "coordinator.indexOnce"

	prior, err := c.priorScannedFiles(ctx, folder.ID)
	if err != nil {
		return nil, errors.E(op, err)
	}

	resultsCh, err := scanner.Scan(ctx, folder.RootPath, scanner.Options{
		ChunkSize:   c.cfg.ScanChunkSize,
		Concurrency: c.cfg.ScanConcurrency,
	})
	if err != nil {
		return nil, errors.E(op, err)
	}

	var current []veilnet.ScannedFile
	var scanErrs []string
	for r := range resultsCh {
		if r.Err != nil {
			scanErrs = append(scanErrs, r.Err.Error())
			continue
		}
		current = append(current, *r.File)
	}
	sort.Slice(current, func(i, j int) bool { return current[i].RelPath < current[j].RelPath })

	events := scanner.Diff(prior, current)

	result := &IndexResult{ScanErrors: scanErrs}
	var changedPaths []veilnet.ScannedFile
	for _, ev := range events {
		switch ev.Kind {
		case veilnet.Added:
			result.Added++
			changedPaths = append(changedPaths, ev.File)
		case veilnet.Modified:
			result.Modified++
			changedPaths = append(changedPaths, ev.File)
		case veilnet.Deleted:
			result.Deleted++
		case veilnet.Unchanged:
			result.Unchanged++
		}
	}
	opState.addTotal(len(changedPaths))

	folderVersion, err := c.store.FolderVersion(ctx, folder.ID)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if len(changedPaths) > 0 {
		folderVersion++
	}

	redundancyN := c.cfg.RedundancyLevel
	if redundancyN < 1 {
		redundancyN = 1
	}

	var smallFiles []segment.SmallFile
	for _, sf := range changedPaths {
		select {
		case <-ctx.Done():
			return result, errors.E(op, errors.Str("cancelled"))
		default:
		}

		data, err := os.ReadFile(filepath.Join(folder.RootPath, filepath.FromSlash(sf.RelPath)))
		if err != nil {
			opState.advance(0, 1)
			c.log.Warnf("index: reading %s: %v", sf.RelPath, err)
			continue
		}
		fileID, err := newFileID()
		if err != nil {
			return result, errors.E(op, err)
		}

		if len(data) < c.cfg.SegmentSize {
			smallFiles = append(smallFiles, segment.SmallFile{FileID: fileID, RelPath: sf.RelPath, Data: data})
			if err := c.persistFileRow(ctx, folder, fileID, sf, folderVersion); err != nil {
				return result, errors.E(op, err)
			}
			opState.advance(1, 0)
			continue
		}

		if err := c.persistSlicedFile(ctx, folder, fileID, sf, folderVersion, data, keys, redundancyN); err != nil {
			return result, errors.E(op, err)
		}
		opState.advance(1, 0)
	}

	if len(smallFiles) > 0 {
		if err := c.persistPackedFiles(ctx, folder, folderVersion, smallFiles, keys, redundancyN); err != nil {
			return result, errors.E(op, err)
		}
	}

	result.FolderVersion = folderVersion
	return result, nil
}

// priorScannedFiles reconstructs the ScannedFile sequence the last
// IndexFolder run observed, from the latest persisted version of each
// path, for Diff to compare against.
func (c *Coordinator) priorScannedFiles(ctx context.Context, folderID veilnet.FolderID) ([]veilnet.ScannedFile, error) {
	const op = "coordinator.priorScannedFiles"
	fc, err := c.store.StreamFiles(ctx, folderID)
	if err != nil {
		return nil, errors.E(op, err)
	}
	defer fc.Close()

	var out []veilnet.ScannedFile
	for fc.Next() {
		f, err := fc.Scan()
		if err != nil {
			return nil, errors.E(op, err)
		}
		out = append(out, veilnet.ScannedFile{RelPath: f.RelPath, Size: f.Size, SHA256: f.SHA256, ModTime: f.ModTime})
	}
	if err := fc.Err(); err != nil {
		return nil, errors.E(op, err)
	}
	return out, nil
}

func (c *Coordinator) persistFileRow(ctx context.Context, folder *veilnet.Folder, fileID veilnet.FileID, sf veilnet.ScannedFile, version int64) error {
	const op = "coordinator.persistFileRow"
	return c.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertFile(&veilnet.File{
			ID: fileID, FolderID: folder.ID, RelPath: sf.RelPath, Version: version,
			Size: sf.Size, SHA256: sf.SHA256, ModTime: sf.ModTime,
		})
	})
}

// persistSlicedFile slices a large file into fixed-size segments,
// derives redundancy copies and subjects, and commits the File and
// Segment rows in one transaction.
func (c *Coordinator) persistSlicedFile(ctx context.Context, folder *veilnet.Folder, fileID veilnet.FileID, sf veilnet.ScannedFile, version int64, data []byte, keys *folderKeys, redundancyN int) error {
	const op = "coordinator.persistSlicedFile"
	baseSegs, err := segment.Slice(fileID, data, c.cfg.SegmentSize)
	if err != nil {
		return errors.E(op, err)
	}

	var allSegs []veilnet.Segment
	for _, base := range baseSegs {
		plain := data[base.PlainOffset : base.PlainOffset+base.PlainLength]
		copies, err := segment.Redundancy(plain, keys.contentKey, redundancyN)
		if err != nil {
			return errors.E(op, err)
		}
		internalSubj := obfuscate.InternalSubject(folder.ID, version, base.SegmentIndex, keys.signPriv)
		for _, cp := range copies {
			s := base
			s.RedundancyCopy = cp.RedundancyCopy
			s.InternalSubject = internalSubj
			allSegs = append(allSegs, s)
		}
	}
	if err := segment.ReassignSubjects(allSegs); err != nil {
		return errors.E(op, err)
	}

	return c.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertFile(&veilnet.File{
			ID: fileID, FolderID: folder.ID, RelPath: sf.RelPath, Version: version,
			Size: sf.Size, SHA256: sf.SHA256, ModTime: sf.ModTime,
		}); err != nil {
			return err
		}
		for i := range allSegs {
			if err := tx.InsertSegment(&allSegs[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// persistPackedFiles groups every small file touched by this index run
// into one or more pack groups and commits each group's PackGroup row
// and Segment rows in one transaction. The member files' own File rows
// are committed earlier, one transaction per file, by persistFileRow.
func (c *Coordinator) persistPackedFiles(ctx context.Context, folder *veilnet.Folder, version int64, files []segment.SmallFile, keys *folderKeys, redundancyN int) error {
	const op = "coordinator.persistPackedFiles"
	groups, err := segment.Pack(folder.ID, version, files, c.cfg.SegmentSize)
	if err != nil {
		return errors.E(op, err)
	}

	for gi, pg := range groups {
		copies, err := segment.Redundancy(pg.Plaintext, keys.contentKey, redundancyN)
		if err != nil {
			return errors.E(op, err)
		}
		internalSubj := obfuscate.InternalSubject(folder.ID, version, gi, keys.signPriv)
		var segs []veilnet.Segment
		for _, cp := range copies {
			s := pg.Segment
			s.RedundancyCopy = cp.RedundancyCopy
			s.InternalSubject = internalSubj
			segs = append(segs, s)
		}
		if err := segment.ReassignSubjects(segs); err != nil {
			return errors.E(op, err)
		}

		if err := c.store.WithTx(ctx, func(tx *store.Tx) error {
			if err := tx.InsertPackGroup(&pg.Group); err != nil {
				return err
			}
			for i := range segs {
				if err := tx.InsertSegment(&segs[i]); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return errors.E(op, err)
		}
	}
	return nil
}
