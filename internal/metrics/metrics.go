package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the pipeline collectors. A nil *Recorder records nothing.
type Recorder struct {
	uploads         *prometheus.CounterVec
	scanRows        *prometheus.CounterVec
	confirmations   *prometheus.CounterVec
	cancellations   *prometheus.CounterVec
	snapshots       *prometheus.CounterVec
	skippedServices prometheus.Counter
	snapshotRetries prometheus.Counter
	generation      prometheus.Histogram
	jobs            *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "uploads_total",
			Help:      "Attendance uploads processed, by outcome.",
		}, []string{"outcome"}),
		scanRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "scan_rows_total",
			Help:      "Manifest entries by match result.",
		}, []string{"result"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "confirmations_total",
			Help:      "Upload confirmations, by outcome.",
		}, []string{"outcome"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "cancellations_total",
			Help:      "Upload cancellations, by outcome.",
		}, []string{"outcome"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "warning_snapshots_total",
			Help:      "Warning snapshot writes, by outcome.",
		}, []string{"outcome"}),
		skippedServices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "warning_skipped_services_total",
			Help:      "Completed services skipped for lack of a confirmed batch.",
		}),
		snapshotRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "warning_snapshot_retries_total",
			Help:      "Retried snapshot writes.",
		}),
		generation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chapel",
			Name:      "warning_generation_seconds",
			Help:      "Duration of weekly warning generation runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "jobs_total",
			Help:      "Queued jobs consumed, by disposition.",
		}, []string{"disposition"}),
	}
	reg.MustRegister(r.uploads, r.scanRows, r.confirmations, r.cancellations,
		r.snapshots, r.skippedServices, r.snapshotRetries, r.generation, r.jobs)
	return r
}

func (r *Recorder) Upload(outcome string) {
	if r == nil {
		return
	}
	r.uploads.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ScanRows(result string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.scanRows.WithLabelValues(result).Add(float64(n))
}

func (r *Recorder) Confirmation(outcome string) {
	if r == nil {
		return
	}
	r.confirmations.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Cancellation(outcome string) {
	if r == nil {
		return
	}
	r.cancellations.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Snapshot(outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.snapshots.WithLabelValues(outcome).Add(float64(n))
}

func (r *Recorder) SkippedService() {
	if r == nil {
		return
	}
	r.skippedServices.Inc()
}

func (r *Recorder) SnapshotRetry() {
	if r == nil {
		return
	}
	r.snapshotRetries.Inc()
}

// ObserveGeneration records how long a generation run took.
func (r *Recorder) ObserveGeneration(d time.Duration) {
	if r == nil {
		return
	}
	r.generation.Observe(d.Seconds())
}

func (r *Recorder) Job(disposition string) {
	if r == nil {
		return
	}
	r.jobs.WithLabelValues(disposition).Inc()
}

// Outcome maps an error to a metric label.
func Outcome(err error, kind string) string {
	if err == nil {
		return "ok"
	}
	if kind == "" {
		return "error"
	}
	return kind
}
