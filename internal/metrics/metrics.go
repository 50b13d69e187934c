// Package metrics provides Prometheus metrics for the image optimizer.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// memoryEntries is the source of the MemoryCacheEntries gauge.
var memoryEntries atomic.Pointer[func() int]

var (
	// CacheLookups counts pipeline lookups by the tier that answered
	// (memory, disk, miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgopt",
			Name:      "cache_lookups_total",
			Help:      "Image requests by cache tier that served them",
		},
		[]string{"tier"},
	)

	// FetchDuration measures origin fetch duration.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imgopt",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of origin fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// TransformDuration measures resize/encode duration per output format.
	TransformDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imgopt",
			Name:      "transform_duration_seconds",
			Help:      "Duration of image transforms in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"format"},
	)

	// ErrorsTotal counts failed requests by error kind.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgopt",
			Name:      "errors_total",
			Help:      "Total number of failed image requests",
		},
		[]string{"kind"},
	)

	// CoalescedTotal counts requests that shared another request's in-flight work.
	CoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imgopt",
			Name:      "coalesced_total",
			Help:      "Requests served from an identical in-flight request",
		},
	)

	// MemoryCacheEntries reports the size of the memory tier; 0 when disabled.
	MemoryCacheEntries = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "imgopt",
			Name:      "memory_cache_entries",
			Help:      "Number of variants held in the memory cache",
		},
		func() float64 {
			if fn := memoryEntries.Load(); fn != nil {
				return float64((*fn)())
			}
			return 0
		},
	)
)

// TrackMemoryEntries makes the MemoryCacheEntries gauge read from fn.
func TrackMemoryEntries(fn func() int) {
	memoryEntries.Store(&fn)
}

// RecordLookup records which tier served a request.
func RecordLookup(tier string) {
	CacheLookups.WithLabelValues(tier).Inc()
}

// RecordFetch records an origin fetch.
func RecordFetch(status string, duration float64) {
	FetchDuration.WithLabelValues(status).Observe(duration)
}

// RecordTransform records a transform.
func RecordTransform(format string, duration float64) {
	TransformDuration.WithLabelValues(format).Observe(duration)
}

// RecordError records a failed request.
func RecordError(kind string) {
	ErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordCoalesced records a request that joined an in-flight one.
func RecordCoalesced() {
	CoalescedTotal.Inc()
}
