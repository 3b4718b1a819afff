// Package observability centralizes the service's Prometheus instruments.
// Instruments live on a private registry until Init points them at the real
// one, so packages can observe unconditionally and tests start clean.
package observability

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var engineLabel atomic.Value

func init() {
	engineLabel.Store("direct")
	register(prometheus.NewRegistry())
}

// SetEngine names the active engine mode in query metrics.
func SetEngine(s string) {
	if s == "" {
		s = "direct"
	}
	engineLabel.Store(s)
}

func getEngine() string {
	if v := engineLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "direct"
}

var (
	initMu sync.Mutex

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	queryTotal            *prometheus.CounterVec
	queryDurationSeconds  *prometheus.HistogramVec
	malformedSkippedTotal *prometheus.CounterVec

	probeTotal           *prometheus.CounterVec
	probeDurationSeconds prometheus.Histogram

	dbQueryDurationSeconds *prometheus.HistogramVec

	cacheResults           *prometheus.CounterVec
	cacheOpDurationSeconds *prometheus.HistogramVec

	aoiParts      prometheus.Gauge
	aoiCoverCells prometheus.Gauge

	hotKeysTracked prometheus.Gauge

	invalidationsTotal     *prometheus.CounterVec
	invalidationLagSeconds prometheus.Gauge
	consumerErrorsTotal    prometheus.Counter

	buildInfo *prometheus.GaugeVec
)

// Init registers the instruments with the service registry. A nil registerer
// keeps them on a private one: observations still work, nothing is exported.
// Call before serving traffic.
func Init(reg prometheus.Registerer) {
	initMu.Lock()
	defer initMu.Unlock()
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	register(reg)
}

func register(reg prometheus.Registerer) {
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	queryTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intersect_queries_total",
			Help: "Intersection queries by execution path and outcome.",
		},
		[]string{"table", "path", "outcome", "engine"},
	)
	queryDurationSeconds = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intersect_query_duration_seconds",
			Help:    "End-to-end intersection query duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"path"},
	)
	malformedSkippedTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malformed_geometries_skipped_total",
			Help: "Candidate geometries skipped because they failed to decode.",
		},
		[]string{"table"},
	)

	probeTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capability_probes_total",
			Help: "Capability probes by verdict and cache state.",
		},
		[]string{"outcome", "cached"},
	)
	probeDurationSeconds = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "capability_probe_duration_seconds",
			Help:    "Duration of uncached capability probes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	dbQueryDurationSeconds = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database statement duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	cacheResults = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Result cache outcomes.",
		},
		[]string{"outcome"},
	)
	cacheOpDurationSeconds = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Redis operation duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	aoiParts = f.NewGauge(prometheus.GaugeOpts{
		Name: "aoi_parts",
		Help: "Polygon parts in the loaded area of interest.",
	})
	aoiCoverCells = f.NewGauge(prometheus.GaugeOpts{
		Name: "aoi_cover_cells",
		Help: "H3 cells covering the loaded area of interest.",
	})

	hotKeysTracked = f.NewGauge(prometheus.GaugeOpts{
		Name: "hot_keys_tracked",
		Help: "Tables and cover cells currently tracked by the hotness sketch.",
	})

	invalidationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidations_total",
			Help: "Table change events applied, by operation.",
		},
		[]string{"op"},
	)
	invalidationLagSeconds = f.NewGauge(prometheus.GaugeOpts{
		Name: "invalidation_lag_seconds",
		Help: "Age of the most recently applied change event.",
	})
	consumerErrorsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "invalidation_consumer_errors_total",
		Help: "Errors in the change event consumer.",
	})

	buildInfo = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveQuery records one intersection query. path is "server" or "client",
// outcome "ok" or the error class.
func ObserveQuery(table, path, outcome string, d time.Duration) {
	queryTotal.WithLabelValues(table, path, outcome, getEngine()).Inc()
	queryDurationSeconds.WithLabelValues(path).Observe(d.Seconds())
}

func AddMalformedSkipped(table string, n int) {
	if n > 0 {
		malformedSkippedTotal.WithLabelValues(table).Add(float64(n))
	}
}

func ObserveProbe(outcome string, cached bool, d time.Duration) {
	probeTotal.WithLabelValues(outcome, strconv.FormatBool(cached)).Inc()
	if !cached {
		probeDurationSeconds.Observe(d.Seconds())
	}
}

func ObserveDBQuery(op, outcome string, d time.Duration) {
	dbQueryDurationSeconds.WithLabelValues(op, outcome).Observe(d.Seconds())
}

func IncCacheHit()    { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss()   { cacheResults.WithLabelValues("miss").Inc() }
func IncCacheBypass() { cacheResults.WithLabelValues("bypass").Inc() }
func IncCacheError()  { cacheResults.WithLabelValues("error").Inc() }

func ObserveCacheOp(op string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cacheOpDurationSeconds.WithLabelValues(op, outcome).Observe(d.Seconds())
}

func SetAOIParts(n int)      { aoiParts.Set(float64(n)) }
func SetAOICoverCells(n int) { aoiCoverCells.Set(float64(n)) }

func SetHotKeysTracked(n int) { hotKeysTracked.Set(float64(n)) }

func ObserveInvalidation(op string) { invalidationsTotal.WithLabelValues(op).Inc() }

func SetInvalidationLag(seconds float64) { invalidationLagSeconds.Set(seconds) }

func IncConsumerError() { consumerErrorsTotal.Inc() }

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
