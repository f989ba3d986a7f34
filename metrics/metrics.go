// Package metrics exposes Prometheus instrumentation for loads and lookups.
//
// A nil *Registry is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Load results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultAborted = "aborted"
)

// Lookup results.
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupClosest = "closest"
)

// Registry holds the collectors of one store.
type Registry struct {
	LoadsTotal          *prometheus.CounterVec
	LoadDuration        prometheus.Histogram
	LoadedEntriesTotal  prometheus.Counter
	SealedBytesTotal    prometheus.Counter
	BucketsFlushedTotal prometheus.Counter
	BucketFlushDuration prometheus.Histogram
	BucketEntries       prometheus.Histogram

	LookupsTotal        *prometheus.CounterVec
	LookupDuration      prometheus.Histogram
	ScannedEntriesTotal prometheus.Counter
}

// NewRegistry creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		LoadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsonkv_loads_total",
				Help: "Total number of bulk loads by result",
			},
			[]string{"result"}, // success, failure, aborted
		),
		LoadDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsonkv_load_duration_seconds",
				Help:    "Duration of bulk loads in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		LoadedEntriesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "jsonkv_loaded_entries_total",
				Help: "Total number of entries written to sealed files",
			},
		),
		SealedBytesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "jsonkv_sealed_bytes_total",
				Help: "Total number of bytes written to sealed files",
			},
		),
		BucketsFlushedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "jsonkv_buckets_flushed_total",
				Help: "Total number of buckets spilled to temporary storage",
			},
		),
		BucketFlushDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsonkv_bucket_flush_duration_seconds",
				Help:    "Duration of bucket sort and spill in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		BucketEntries: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsonkv_bucket_entries",
				Help:    "Number of entries per flushed bucket",
				Buckets: prometheus.ExponentialBuckets(1, 4, 9),
			},
		),
		LookupsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsonkv_lookups_total",
				Help: "Total number of point lookups by result",
			},
			[]string{"result"}, // hit, miss, closest
		),
		LookupDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsonkv_lookup_duration_seconds",
				Help:    "Point lookup latency in seconds",
				Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
			},
		),
		ScannedEntriesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "jsonkv_scanned_entries_total",
				Help: "Total number of entries returned by range iteration",
			},
		),
	}
}

// RecordBucketFlush records a bucket of entries spilled in d.
func (r *Registry) RecordBucketFlush(entries int, d time.Duration) {
	if r == nil {
		return
	}
	r.BucketsFlushedTotal.Inc()
	r.BucketEntries.Observe(float64(entries))
	r.BucketFlushDuration.Observe(d.Seconds())
}

// RecordLoad records the end of a load. Entries and bytes only count towards
// successful loads.
func (r *Registry) RecordLoad(result string, entries int, bytes int64, d time.Duration) {
	if r == nil {
		return
	}
	r.LoadsTotal.WithLabelValues(result).Inc()
	r.LoadDuration.Observe(d.Seconds())
	if result == ResultSuccess {
		r.LoadedEntriesTotal.Add(float64(entries))
		r.SealedBytesTotal.Add(float64(bytes))
	}
}

// RecordLookup records a point lookup.
func (r *Registry) RecordLookup(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.LookupsTotal.WithLabelValues(result).Inc()
	r.LookupDuration.Observe(d.Seconds())
}

// RecordScanned counts entries returned by an iterator.
func (r *Registry) RecordScanned(n int) {
	if r == nil {
		return
	}
	r.ScannedEntriesTotal.Add(float64(n))
}
