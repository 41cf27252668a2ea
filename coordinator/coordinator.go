// Package coordinator sequences the end-to-end workflows (index ->
// segment -> upload -> publish, and the reverse) by composing the
// scanner, segment, upload, download, publication, and identity
// packages behind a small command set an RPC surface or CLI can call:
// CreateUser, AddFolder, IndexFolder, UploadFolder, PublishFolder,
// DownloadShare, Cancel, GetProgress. Besides the services it was
// constructed with, the Coordinator holds an in-memory table of the
// operations it started and the routing of upload outcomes back to
// the operations waiting on them.
package coordinator

import (
	"context"
	"sync"

	"veilnet.io/download"
	"veilnet.io/log"
	"veilnet.io/metrics"
	"veilnet.io/nntp"
	"veilnet.io/pool"
	"veilnet.io/publication"
	"veilnet.io/store"
	"veilnet.io/upload"
	"veilnet.io/veilnet"
)

// Config holds every tunable the engine exposes, loaded by the caller
// (e.g. from YAML, see config.go).
type Config struct {
	SegmentSize     int
	RedundancyLevel int

	Newsgroup  string
	FromHeader string

	Pool   pool.Config
	Upload upload.Config

	ScryptN int
	ScryptR int
	ScryptP int

	ScanChunkSize   int
	ScanConcurrency int

	DownloadWorkers int

	// VerifyBeforeRetry makes crash recovery HEAD-check the Message-ID
	// recorded on an uploading-state segment before re-queuing it, so a
	// post that landed without reaching its commit is not posted twice.
	// Off by default: at-least-once delivery is the documented baseline,
	// and the extra round trip per recovered segment is not always worth
	// paying.
	VerifyBeforeRetry bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SegmentSize:     veilnet.DefaultSegmentSize,
		RedundancyLevel: 0,
		Newsgroup:       "alt.binaries.test",
		FromHeader:      "poster@veilnet.io",
		Pool:            pool.DefaultConfig(),
		Upload:          upload.DefaultConfig(),
		ScryptN:         16384,
		ScryptR:         8,
		ScryptP:         1,
		ScanChunkSize:   1 << 20,
		ScanConcurrency: 8,
		DownloadWorkers: 8,
	}
}

// Coordinator is the top-level service composing every component
// package. It is constructed once per process; there are no
// package-level singletons.
type Coordinator struct {
	cfg Config
	log log.Logger

	store       *store.Store
	pool        *pool.Pool
	uploadEng   *upload.Engine
	downloadEng *download.Engine
	publication *publication.Manager
	metrics     metrics.Recorder

	ops *operationTable

	outcomeMu     sync.Mutex
	outcomeRoutes map[segmentKey]func(upload.Outcome)
}

// New builds a Coordinator wired to st for persistence and dialer for
// NNTP connectivity. rec may be nil, in which case operations are not
// recorded.
func New(cfg Config, st *store.Store, dialer nntp.Dialer, rec metrics.Recorder) *Coordinator {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	p := pool.New(cfg.Pool, dialer)
	c := &Coordinator{
		cfg:         cfg,
		log:         log.With("component", "coordinator.Coordinator"),
		store:       st,
		pool:        p,
		uploadEng:   upload.New(cfg.Upload, st, p),
		downloadEng: download.New(p, cfg.DownloadWorkers),
		publication: publication.New(st),
		metrics:     rec,
		ops:         newOperationTable(),

		outcomeRoutes: make(map[segmentKey]func(upload.Outcome)),
	}
	return c
}

// Start launches the upload engine's worker pool and the outcome
// dispatcher. Must be called once before UploadFolder is used.
func (c *Coordinator) Start(ctx context.Context) {
	c.uploadEng.Start(ctx)
	go c.dispatchOutcomes()
}

// Close releases the upload engine and connection pool. Outstanding
// operations are not waited on; cancel them first if a clean shutdown
// is required.
func (c *Coordinator) Close(ctx context.Context) {
	c.uploadEng.Stop()
	c.pool.Close(ctx)
}
