package coordinator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"veilnet.io/upload"
	"veilnet.io/veilnet"
)

// OperationID names one in-flight or completed coordinator workflow,
// the handle GetProgress and Cancel take.
type OperationID string

// OperationKind classifies what an operation is doing.
type OperationKind string

const (
	KindIndex    OperationKind = "index"
	KindUpload   OperationKind = "upload"
	KindDownload OperationKind = "download"
)

// Progress is a snapshot of one operation's state, returned by
// GetProgress.
type Progress struct {
	ID        OperationID
	Kind      OperationKind
	Total     int
	Completed int
	Failed    int
	Done      bool
	Cancelled bool
	Err       error
}

// operation is the mutable state backing a Progress snapshot, plus the
// cancel func threaded through the workflow's context. That context
// reaches the scanner, the indexing loop, the upload submission loop and
// the download engine. Upload jobs already submitted to the shared
// upload engine run on the engine's own context: cancelling stops
// further submissions but does not abort those jobs.
type operation struct {
	mu     sync.Mutex
	p      Progress
	cancel context.CancelFunc
}

func (o *operation) snapshot() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.p
}

func (o *operation) addTotal(n int) {
	o.mu.Lock()
	o.p.Total += n
	o.mu.Unlock()
}

func (o *operation) advance(completed, failed int) {
	o.mu.Lock()
	o.p.Completed += completed
	o.p.Failed += failed
	o.mu.Unlock()
}

func (o *operation) finish(err error) {
	o.mu.Lock()
	o.p.Done = true
	o.p.Err = err
	o.mu.Unlock()
}

// operationTable tracks every operation the coordinator has started,
// keyed by OperationID, for GetProgress/Cancel lookups. Entries are
// retained for the process lifetime; a long-running daemon fronting
// this library would evict completed entries under its own retention
// policy.
type operationTable struct {
	mu  sync.Mutex
	ops map[OperationID]*operation
}

func newOperationTable() *operationTable {
	return &operationTable{ops: make(map[OperationID]*operation)}
}

// begin registers a new operation of the given kind and returns its ID,
// a context derived from ctx that Cancel will cancel, and the
// operation handle the workflow updates as it progresses.
func (t *operationTable) begin(ctx context.Context, kind OperationKind) (OperationID, context.Context, *operation) {
	id := OperationID(uuid.NewString())
	opCtx, cancel := context.WithCancel(ctx)
	op := &operation{p: Progress{ID: id, Kind: kind}, cancel: cancel}
	t.mu.Lock()
	t.ops[id] = op
	t.mu.Unlock()
	return id, opCtx, op
}

func (t *operationTable) get(id OperationID) (*operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[id]
	return op, ok
}

// Cancel signals the operation's context; in-flight workers complete
// their current unit of work and then observe cancellation. Returns
// false if no such operation is known.
func (c *Coordinator) Cancel(id OperationID) bool {
	op, ok := c.ops.get(id)
	if !ok {
		return false
	}
	op.mu.Lock()
	op.p.Cancelled = true
	op.mu.Unlock()
	op.cancel()
	return true
}

// GetProgress returns a snapshot of operation id's state. ok is false
// if no such operation is known.
func (c *Coordinator) GetProgress(id OperationID) (Progress, bool) {
	op, ok := c.ops.get(id)
	if !ok {
		return Progress{}, false
	}
	return op.snapshot(), true
}

// segmentKey identifies one (segment, redundancy copy) pair, the unit
// upload.Outcome reports against.
type segmentKey struct {
	fileID         veilnet.FileID
	packGroupID    veilnet.PackGroupID
	segmentIndex   int
	redundancyCopy int
}

func segmentKeyOf(ref veilnet.SegmentRef, segmentIndex, redundancyCopy int) segmentKey {
	return segmentKey{fileID: ref.FileID, packGroupID: ref.PackGroupID, segmentIndex: segmentIndex, redundancyCopy: redundancyCopy}
}

// routeOutcome registers fn to run once the engine reports an outcome
// for key. The upload engine's Outcomes channel is shared by the whole
// coordinator (one worker pool serves every in-flight UploadFolder
// call), so outcomes are correlated back to their submitting operation
// by segment identity rather than by a per-call channel.
func (c *Coordinator) routeOutcome(key segmentKey, fn func(upload.Outcome)) {
	c.outcomeMu.Lock()
	c.outcomeRoutes[key] = fn
	c.outcomeMu.Unlock()
}

// dispatchOutcomes drains the upload engine's shared outcome channel
// for the coordinator's lifetime, invoking and discarding each
// segment's registered callback exactly once.
func (c *Coordinator) dispatchOutcomes() {
	for out := range c.uploadEng.Outcomes() {
		key := segmentKeyOf(out.Ref, out.SegmentIndex, out.RedundancyCopy)
		c.outcomeMu.Lock()
		fn, ok := c.outcomeRoutes[key]
		if ok {
			delete(c.outcomeRoutes, key)
		}
		c.outcomeMu.Unlock()
		if ok {
			fn(out)
		}
	}
}
