// Package upload implements the upload engine: a bounded priority work
// queue feeding a fixed worker pool that posts segments through the
// NNTP connection pool, with exponential backoff and jitter on
// transient failure and a bounded attempt count per segment.
package upload

import (
	"container/heap"
	"math/rand"
	"sync"
	"time"

	"veilnet.io/veilnet"
)

// Job is one segment queued for posting.
type Job struct {
	Segment   veilnet.Segment
	Plaintext []byte // Already assembled (redundancy-copy-transformed) bytes to encrypt and post.
	Key       []byte // Folder content key used to encrypt Plaintext.
	Newsgroup string
	From      string

	Priority     int
	AttemptCount int
	NextReadyAt  time.Time
}

type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority // Higher priority first.
	}
	return h[i].NextReadyAt.Before(h[j].NextReadyAt) // FIFO within equal priority.
}
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*Job)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is a bounded, priority-ordered, delay-aware job queue. Push
// blocks once depth exceeds HighWater until it drains below LowWater;
// Pop blocks until a job's NextReadyAt has arrived or the queue is
// closed.
type Queue struct {
	mu        sync.Mutex
	notEmpty  *sync.Cond
	notFull   *sync.Cond
	heap      jobHeap
	closed    bool
	highWater int
	lowWater  int
}

// NewQueue builds a Queue with the given backpressure watermarks; a
// non-positive highWater disables backpressure.
func NewQueue(highWater, lowWater int) *Queue {
	q := &Queue{highWater: highWater, lowWater: lowWater}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push enqueues job, blocking while the queue is at or above HighWater.
// Returns false if the queue has been closed.
func (q *Queue) Push(job *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.highWater > 0 && len(q.heap) >= q.highWater && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return false
	}
	heap.Push(&q.heap, job)
	q.notEmpty.Signal()
	return true
}

// Pop removes and returns the highest-priority ready job, blocking until
// one is available or the queue closes. ok is false once closed and
// drained.
func (q *Queue) Pop() (job *Job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.heap) > 0 {
			next := q.heap[0]
			if !next.NextReadyAt.IsZero() && next.NextReadyAt.After(time.Now()) {
				wait := time.Until(next.NextReadyAt)
				q.mu.Unlock()
				time.Sleep(minDuration(wait, 50*time.Millisecond))
				q.mu.Lock()
				continue
			}
			job = heap.Pop(&q.heap).(*Job)
			if q.lowWater <= 0 || len(q.heap) < q.lowWater {
				q.notFull.Broadcast()
			}
			return job, true
		}
		if q.closed {
			return nil, false
		}
		q.notEmpty.Wait()
	}
}

// Close marks the queue closed; blocked Push/Pop callers are released.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// backoff computes min(base * 2^attempt, cap) + jitter.
func backoff(base, cap time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < cap; i++ {
		d *= 2
	}
	if d > cap {
		d = cap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
