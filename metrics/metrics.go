// Package metrics defines the optional operation-counter contract the
// coordinator expects and ships one concrete implementation backed by
// github.com/prometheus/client_golang. Supplying no Recorder is a
// no-op and changes no core behavior.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives counts for the workflows the coordinator drives.
// Every method must be safe for concurrent use.
type Recorder interface {
	SegmentPosted(folderID string)
	SegmentFailed(folderID string, reason string)
	SegmentRecovered(shareID string)
	SegmentUnrecoverable(shareID string)
	SharePublished(accessLevel string)
	ShareDownloaded(accessLevel string, ok bool)
}

// NoOp is the default Recorder: every call is a no-op.
type NoOp struct{}

func (NoOp) SegmentPosted(string)         {}
func (NoOp) SegmentFailed(string, string) {}
func (NoOp) SegmentRecovered(string)      {}
func (NoOp) SegmentUnrecoverable(string)  {}
func (NoOp) SharePublished(string)        {}
func (NoOp) ShareDownloaded(string, bool) {}

var _ Recorder = NoOp{}

// Prometheus is a Recorder backed by client_golang counters, registered
// against the given registerer (pass prometheus.DefaultRegisterer for
// the process-wide default).
type Prometheus struct {
	segmentsPosted   *prometheus.CounterVec
	segmentsFailed   *prometheus.CounterVec
	segmentsRecov    *prometheus.CounterVec
	segmentsUnrecov  *prometheus.CounterVec
	sharesPublished  *prometheus.CounterVec
	sharesDownloaded *prometheus.CounterVec
}

// NewPrometheus builds and registers a Prometheus recorder against reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		segmentsPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veilnet", Name: "segments_posted_total", Help: "Segments successfully posted, by folder.",
		}, []string{"folder_id"}),
		segmentsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veilnet", Name: "segments_failed_total", Help: "Segments that reached a permanent failure, by folder and reason.",
		}, []string{"folder_id", "reason"}),
		segmentsRecov: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veilnet", Name: "segments_recovered_total", Help: "Segments recovered from a non-primary redundancy copy, by share.",
		}, []string{"share_id"}),
		segmentsUnrecov: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veilnet", Name: "segments_unrecoverable_total", Help: "Segments that exhausted every redundancy copy, by share.",
		}, []string{"share_id"}),
		sharesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veilnet", Name: "shares_published_total", Help: "Shares published, by access level.",
		}, []string{"access_level"}),
		sharesDownloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veilnet", Name: "shares_downloaded_total", Help: "Share downloads attempted, by access level and outcome.",
		}, []string{"access_level", "ok"}),
	}
	reg.MustRegister(p.segmentsPosted, p.segmentsFailed, p.segmentsRecov, p.segmentsUnrecov, p.sharesPublished, p.sharesDownloaded)
	return p
}

func (p *Prometheus) SegmentPosted(folderID string) {
	p.segmentsPosted.WithLabelValues(folderID).Inc()
}

func (p *Prometheus) SegmentFailed(folderID, reason string) {
	p.segmentsFailed.WithLabelValues(folderID, reason).Inc()
}

func (p *Prometheus) SegmentRecovered(shareID string) {
	p.segmentsRecov.WithLabelValues(shareID).Inc()
}

func (p *Prometheus) SegmentUnrecoverable(shareID string) {
	p.segmentsUnrecov.WithLabelValues(shareID).Inc()
}

func (p *Prometheus) SharePublished(accessLevel string) {
	p.sharesPublished.WithLabelValues(accessLevel).Inc()
}

func (p *Prometheus) ShareDownloaded(accessLevel string, ok bool) {
	p.sharesDownloaded.WithLabelValues(accessLevel, boolLabel(ok)).Inc()
}

func boolLabel(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}

var _ Recorder = (*Prometheus)(nil)
