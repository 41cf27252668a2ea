// Package download implements the retrieval engine: for each file in a
// resolved publication index, fetch its segments (trying redundancy
// copies on miss or hash mismatch), decrypt, verify, and reassemble
// into a caller-provided sink.
package download

import (
	"context"
	"sync"

	"veilnet.io/crypto"
	"veilnet.io/errors"
	"veilnet.io/log"
	"veilnet.io/nntp"
	"veilnet.io/pool"
	"veilnet.io/segment"
	"veilnet.io/veilnet"
)

// SegmentDescriptor is one entry of the encrypted index's per-file
// segment list: enough to retrieve and verify one segment, trying
// redundancy copies in order.
//
// Packed marks a segment shared by several small files in one pack
// group: SHA256 verifies the whole fetched article, and
// PackOffset/PackLength name this file's own byte range inside that
// decrypted buffer before it is written to Offset in the sink.
type SegmentDescriptor struct {
	SegmentIndex int
	Offset       int64
	Length       int64
	SHA256       [32]byte
	// Copies lists (message_id, redundancy_copy) pairs in the order
	// they should be tried; index 0 is the base copy.
	Copies     []CopyRef
	Packed     bool
	PackOffset int64
	PackLength int64
}

// CopyRef names one redundancy copy's wire identity.
type CopyRef struct {
	MessageID      veilnet.MessageID
	RedundancyCopy int
}

// FileJob is one file to reconstruct: its segment descriptors in index
// order and the sink to write reconstructed bytes into.
type FileJob struct {
	FileID   veilnet.FileID
	Segments []SegmentDescriptor
	Key      []byte // Folder content key.
	Sink     Sink
	ExpectedSHA256 [32]byte
}

// Sink is a pre-allocatable, out-of-order-writable destination for
// reconstructed file bytes, typically a file descriptor opened with a
// pre-allocated size.
type Sink interface {
	WriteAt(p []byte, off int64) (n int, err error)
}

// Engine retrieves and reassembles files from a connection pool.
type Engine struct {
	pool    *pool.Pool
	log     log.Logger
	workers int
}

// New builds a download Engine whose concurrency is bounded by
// workers, normally sized to match the connection pool.
func New(p *pool.Pool, workers int) *Engine {
	if workers <= 0 {
		workers = 8
	}
	return &Engine{pool: p, log: log.With("component", "download.Engine"), workers: workers}
}

// FileResult is the outcome of reconstructing one file.
type FileResult struct {
	FileID veilnet.FileID
	OK     bool
	Reason string
}

// Fetch retrieves and reassembles every file in jobs, returning a
// manifest partitioning successes from failures. A failed file never
// stops the remaining files from completing.
func (e *Engine) Fetch(ctx context.Context, jobs []FileJob) veilnet.DownloadManifest {
	var manifest veilnet.DownloadManifest
	var mu sync.Mutex

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for _, job := range jobs {
		job := job
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			res := e.fetchFile(ctx, job)
			mu.Lock()
			if res.OK {
				manifest.Succeeded = append(manifest.Succeeded, job.FileID)
			} else {
				manifest.Failed = append(manifest.Failed, veilnet.FailedFile{FileID: job.FileID, Reason: res.Reason})
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return manifest
}

func (e *Engine) fetchFile(ctx context.Context, job FileJob) FileResult {
	if job.Sink == nil {
		return FileResult{FileID: job.FileID, OK: false, Reason: "no sink available"}
	}
	verifier := newReassemblyVerifier(job.ExpectedSHA256)
	for _, desc := range job.Segments {
		plaintext, err := e.fetchSegment(ctx, job.Key, desc)
		if err != nil {
			return FileResult{FileID: job.FileID, OK: false, Reason: err.Error()}
		}
		if desc.Packed {
			plaintext, err = segment.Unpack(plaintext, veilnet.PackedEntry{Offset: desc.PackOffset, Length: desc.PackLength})
			if err != nil {
				return FileResult{FileID: job.FileID, OK: false, Reason: err.Error()}
			}
		}
		if _, err := job.Sink.WriteAt(plaintext, desc.Offset); err != nil {
			return FileResult{FileID: job.FileID, OK: false, Reason: err.Error()}
		}
		verifier.add(plaintext)
	}
	if !verifier.matches() {
		return FileResult{FileID: job.FileID, OK: false, Reason: errors.E(errors.ReconstructionFailure).Error()}
	}
	return FileResult{FileID: job.FileID, OK: true}
}

// fetchSegment tries each redundancy copy in order, returning the first
// one that is retrievable and passes hash verification; a missing
// article or hash mismatch falls through to the next copy, and
// exhausting all copies makes the segment unrecoverable.
func (e *Engine) fetchSegment(ctx context.Context, key []byte, desc SegmentDescriptor) ([]byte, error) {
	const op = "download.fetchSegment"
	var lastErr error
	for _, copyRef := range desc.Copies {
		plaintext, err := e.fetchOneCopy(ctx, key, desc, copyRef)
		if err != nil {
			lastErr = err
			continue
		}
		return plaintext, nil
	}
	if lastErr == nil {
		lastErr = errors.Str("no redundancy copies listed")
	}
	return nil, errors.E(op, errors.ReconstructionFailure, lastErr)
}

func (e *Engine) fetchOneCopy(ctx context.Context, key []byte, desc SegmentDescriptor, copyRef CopyRef) ([]byte, error) {
	const op = "download.fetchOneCopy"
	lease, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.E(op, err)
	}
	ok := true
	defer func() { lease.Release(ctx, ok) }()

	article, err := lease.Session.Article(ctx, string(copyRef.MessageID))
	if err != nil {
		if we, isWire := err.(*nntp.WireError); isWire && we.Class == nntp.ClassNotFound {
			return nil, errors.E(op, errors.Str("article not found, trying next copy"))
		}
		ok = false
		return nil, errors.E(op, err)
	}

	sealed, err := crypto.UnmarshalSealed(article.Body)
	if err != nil {
		return nil, errors.E(op, err)
	}
	wireBytes, err := crypto.Decrypt(sealed, key)
	if err != nil {
		return nil, errors.E(op, errors.GCMTagFailure, err)
	}

	plaintext, err := segment.ReverseRedundancy(wireBytes, key, copyRef.RedundancyCopy)
	if err != nil {
		return nil, errors.E(op, err)
	}

	sum := crypto.SHA256(plaintext)
	if sum != desc.SHA256 {
		return nil, errors.E(op, errors.HashMismatch)
	}
	return plaintext, nil
}
