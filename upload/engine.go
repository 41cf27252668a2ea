package upload

import (
	"context"
	"sync"
	"time"

	"veilnet.io/crypto"
	"veilnet.io/errors"
	"veilnet.io/log"
	"veilnet.io/nntp"
	"veilnet.io/obfuscate"
	"veilnet.io/pool"
	"veilnet.io/store"
	"veilnet.io/veilnet"
)

// Config tunes the engine's retry and concurrency behavior.
type Config struct {
	Workers        int
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	QueueHighWater int
	QueueLowWater  int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        8,
		MaxAttempts:    5,
		BackoffBase:    500 * time.Millisecond,
		BackoffCap:     30 * time.Second,
		QueueHighWater: 512,
		QueueLowWater:  128,
	}
}

// Outcome is recorded per segment as workers finish; the coordinator
// aggregates these into an UploadManifest.
type Outcome struct {
	Ref            veilnet.SegmentRef
	SegmentIndex   int
	RedundancyCopy int
	Posted         bool
	Err            error
}

// Engine dispatches queued segment jobs to a fixed pool of workers, each
// acquiring a session from the connection pool to post one article at a
// time.
type Engine struct {
	cfg   Config
	store *store.Store
	pool  *pool.Pool
	queue *Queue
	log   log.Logger

	outcomes chan Outcome
	wg       sync.WaitGroup

	cancelled chan struct{}
	once      sync.Once
}

// New builds an Engine. Outcomes must be drained by the caller via
// Outcomes() or workers will block once its buffer fills.
func New(cfg Config, st *store.Store, p *pool.Pool) *Engine {
	d := DefaultConfig()
	if cfg.Workers > 0 {
		d.Workers = cfg.Workers
	}
	if cfg.MaxAttempts > 0 {
		d.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffBase > 0 {
		d.BackoffBase = cfg.BackoffBase
	}
	if cfg.BackoffCap > 0 {
		d.BackoffCap = cfg.BackoffCap
	}
	if cfg.QueueHighWater > 0 {
		d.QueueHighWater = cfg.QueueHighWater
	}
	if cfg.QueueLowWater > 0 {
		d.QueueLowWater = cfg.QueueLowWater
	}

	return &Engine{
		cfg:       d,
		store:     st,
		pool:      p,
		queue:     NewQueue(d.QueueHighWater, d.QueueLowWater),
		log:       log.With("component", "upload.Engine"),
		outcomes:  make(chan Outcome, d.Workers*4),
		cancelled: make(chan struct{}),
	}
}

// Start launches the worker pool; call Stop to drain and shut down.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
}

// Submit enqueues a job for posting. A segment still in state pending
// must be transitioned to queued by the caller before submission.
func (e *Engine) Submit(job *Job) {
	if job.Priority == 0 {
		job.Priority = 1
	}
	e.queue.Push(job)
}

// Outcomes returns the channel of per-segment results.
func (e *Engine) Outcomes() <-chan Outcome { return e.outcomes }

// Cancel drains in-flight workers (they finish their current post, since
// posts cannot be un-posted, then exit) and marks remaining queued
// segments cancelled.
func (e *Engine) Cancel(ctx context.Context) {
	e.once.Do(func() { close(e.cancelled) })
	e.queue.Close()
	for {
		job, ok := e.queue.Pop()
		if !ok {
			break
		}
		_ = e.store.WithTx(ctx, func(tx *store.Tx) error {
			return tx.UpdateSegmentState(job.Segment.Ref, job.Segment.SegmentIndex, job.Segment.RedundancyCopy, veilnet.SegmentCancelled, "")
		})
	}
}

// Stop closes the queue and waits for all workers to exit, then closes
// the outcomes channel.
func (e *Engine) Stop() {
	e.queue.Close()
	e.wg.Wait()
	close(e.outcomes)
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	for {
		job, ok := e.queue.Pop()
		if !ok {
			return
		}
		select {
		case <-e.cancelled:
			_ = e.store.WithTx(ctx, func(tx *store.Tx) error {
				return tx.UpdateSegmentState(job.Segment.Ref, job.Segment.SegmentIndex, job.Segment.RedundancyCopy, veilnet.SegmentCancelled, "")
			})
			continue
		default:
		}
		e.postOne(ctx, job)
	}
}

// postOne runs one attempt of the worker loop: acquire a session, mint
// a Message-ID, build and post the article, and commit the resulting
// state transition atomically.
func (e *Engine) postOne(ctx context.Context, job *Job) {
	lease, err := e.pool.Acquire(ctx)
	if err != nil {
		e.retryOrFail(ctx, job, err)
		return
	}
	ok := true
	defer func() { lease.Release(ctx, ok) }()

	if err := lease.Session.SelectGroup(ctx, job.Newsgroup); err != nil {
		ok = false
		e.retryOrFail(ctx, job, err)
		return
	}

	msgID, err := obfuscate.NewMessageID()
	if err != nil {
		e.fail(ctx, job, errors.E("upload.postOne", err))
		return
	}

	// Record the uploading transition with the minted Message-ID before
	// the article goes out, so a crash between post and commit leaves
	// enough state for recovery to HEAD-check whether the post landed.
	if err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.UpdateSegmentUploading(job.Segment.Ref, job.Segment.SegmentIndex, job.Segment.RedundancyCopy, msgID)
	}); err != nil {
		e.fail(ctx, job, errors.E("upload.postOne", err))
		return
	}

	sealed, err := crypto.Encrypt(job.Plaintext, job.Key)
	if err != nil {
		e.fail(ctx, job, errors.E("upload.postOne", err))
		return
	}
	body := crypto.MarshalSealed(sealed)
	headers := nntp.NewArticleHeaders(job.From, job.Newsgroup, job.Segment.UsenetSubject, string(msgID), time.Now())

	if err := lease.Session.Post(ctx, headers, body); err != nil {
		ok = false // Any post failure is treated as session-tainting; the pool redials on next acquire.
		e.retryOrFail(ctx, job, err)
		return
	}

	postedAt := time.Now()
	txErr := e.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.UpdateSegmentPosted(job.Segment.Ref, job.Segment.SegmentIndex, job.Segment.RedundancyCopy, msgID, job.Segment.UsenetSubject, postedAt)
	})
	if txErr != nil {
		e.fail(ctx, job, errors.E("upload.postOne", txErr))
		return
	}
	e.outcomes <- Outcome{Ref: job.Segment.Ref, SegmentIndex: job.Segment.SegmentIndex, RedundancyCopy: job.Segment.RedundancyCopy, Posted: true}
}

func (e *Engine) retryOrFail(ctx context.Context, job *Job, cause error) {
	if classifyPostErr(cause) == nil || job.AttemptCount+1 >= e.cfg.MaxAttempts {
		e.fail(ctx, job, cause)
		return
	}
	job.AttemptCount++
	job.NextReadyAt = time.Now().Add(backoff(e.cfg.BackoffBase, e.cfg.BackoffCap, job.AttemptCount))
	e.log.Warnf("upload: retrying segment %s#%d copy %d after %v (attempt %d): %v",
		job.Segment.Ref.FileID, job.Segment.SegmentIndex, job.Segment.RedundancyCopy, job.NextReadyAt, job.AttemptCount, cause)
	// A retried segment goes back to queued until its next attempt.
	_ = e.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.UpdateSegmentState(job.Segment.Ref, job.Segment.SegmentIndex, job.Segment.RedundancyCopy, veilnet.SegmentQueued, "")
	})
	e.queue.Push(job)
}

func (e *Engine) fail(ctx context.Context, job *Job, cause error) {
	_ = e.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.UpdateSegmentState(job.Segment.Ref, job.Segment.SegmentIndex, job.Segment.RedundancyCopy, veilnet.SegmentFailed, cause.Error())
	})
	e.outcomes <- Outcome{Ref: job.Segment.Ref, SegmentIndex: job.Segment.SegmentIndex, RedundancyCopy: job.Segment.RedundancyCopy, Posted: false, Err: cause}
}

// classifyPostErr returns nil if cause is a permanent failure (do not
// retry), or cause itself if it should be retried.
func classifyPostErr(cause error) error {
	if we, ok := cause.(*nntp.WireError); ok {
		switch we.Class {
		case nntp.ClassPermanent, nntp.ClassAuthRequired:
			return nil
		}
	}
	if errors.Is(errors.AuthFailure, cause) || errors.Is(errors.AuthRejected, cause) {
		return nil
	}
	return cause
}
