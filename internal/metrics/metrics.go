// Package metrics provides Prometheus metrics for the asset pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightbox_cache_lookups_total",
			Help: "Thumbnail cache lookups by result",
		},
		[]string{"cache", "result"},
	)

	cacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightbox_cache_evictions_total",
			Help: "Entries evicted from decoded-image caches",
		},
		[]string{"cache"},
	)

	decodeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lightbox_decode_failures_total",
			Help: "Images that could not be decoded",
		},
	)

	// Transfer metrics
	transfersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lightbox_transfers_active",
			Help: "Transfer jobs currently copying",
		},
	)

	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightbox_transfers_total",
			Help: "Finished transfer jobs by terminal state",
		},
		[]string{"state"},
	)

	transferBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lightbox_transfer_bytes_total",
			Help: "Bytes written by transfer jobs",
		},
	)

	// Resolver metrics
	resolvesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightbox_layered_resolves_total",
			Help: "Layered file resolutions by outcome",
		},
		[]string{"outcome"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCacheLookup counts a hit or miss on the named cache.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// RecordCacheEviction counts one eviction from the named cache.
func RecordCacheEviction(cache string) {
	cacheEvictionsTotal.WithLabelValues(cache).Inc()
}

// RecordDecodeFailure counts one failed decode.
func RecordDecodeFailure() {
	decodeFailuresTotal.Inc()
}

// TransferStarted marks a job as copying.
func TransferStarted() {
	transfersActive.Inc()
}

// TransferStopped undoes TransferStarted.
func TransferStopped() {
	transfersActive.Dec()
}

// RecordTransferFinished counts a job reaching a terminal state.
func RecordTransferFinished(state string) {
	transfersTotal.WithLabelValues(state).Inc()
}

// AddTransferBytes adds n copied bytes.
func AddTransferBytes(n int64) {
	transferBytesTotal.Add(float64(n))
}

// RecordResolve counts a resolution outcome.
func RecordResolve(found bool) {
	outcome := "not_found"
	if found {
		outcome = "found"
	}
	resolvesTotal.WithLabelValues(outcome).Inc()
}
