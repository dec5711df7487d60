package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

func init() {
	enabled.Store(true)
	register(prometheus.DefaultRegisterer)
	// the dedicated metrics registry carries its own detailed build info
	prometheus.MustRegister(buildInfo)
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream weather provider calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	upstreamFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_fetch_total",
			Help: "Upstream fetches by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Weather lookups by outcome (hit, miss, wait).",
		},
		[]string{"outcome"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache store operations by result.",
		},
		[]string{"op", "result"},
	)

	cacheOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "Duration of cache store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)

	singleflightCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "singleflight_calls_total",
			Help: "Fetch coordinator results by role (leader ran alone, shared joined a concurrent flight).",
		},
		[]string{"role"},
	)

	singleflightInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "singleflight_inflight",
			Help: "Upstream fetches currently in flight through the coordinator.",
		},
	)

	refreshRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_runs_total",
			Help: "Completed refresh ticks.",
		},
	)

	refreshBucketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_buckets_total",
			Help: "Buckets processed by the refresh scheduler by result.",
		},
		[]string{"result"},
	)

	refreshDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "refresh_duration_seconds",
			Help:    "Duration of one refresh tick in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	eventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Bucket events dropped because the publish queue was full.",
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Refresh request consumer errors by kind.",
		},
		[]string{"kind"},
	)

	refreshRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_requests_total",
			Help: "Kafka refresh requests handled per claim by result (marked, redeliver).",
		},
		[]string{"result"},
	)

	refreshRequestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "refresh_request_duration_seconds",
			Help:    "Time to handle one Kafka refresh request in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		upstreamLatencySeconds, upstreamFetchTotal,
		cacheResults, cacheOpTotal, cacheOpDurationSeconds,
		singleflightCalls, singleflightInflight,
		refreshRunsTotal, refreshBucketsTotal, refreshDurationSeconds,
		eventsDroppedTotal, kafkaConsumerErrors,
		refreshRequestsTotal, refreshRequestDurationSeconds,
	}
}

// Init registers the service collectors on reg (in addition to the default
// registry) and toggles recording.
func Init(reg prometheus.Registerer, on bool) {
	enabled.Store(on)
	if reg != nil {
		register(reg)
	}
}

func register(reg prometheus.Registerer) {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncUpstreamFetch(provider string, err error) {
	if !enabled.Load() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	upstreamFetchTotal.WithLabelValues(provider, outcome).Inc()
}

func IncCacheHit()  { incCacheResult("hit") }
func IncCacheMiss() { incCacheResult("miss") }
func IncCacheWait() { incCacheResult("wait") }

func incCacheResult(outcome string) {
	if !enabled.Load() {
		return
	}
	cacheResults.WithLabelValues(outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpTotal.WithLabelValues(op, result).Inc()
	cacheOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncSingleflight(shared bool) {
	if !enabled.Load() {
		return
	}
	role := "leader"
	if shared {
		role = "shared"
	}
	singleflightCalls.WithLabelValues(role).Inc()
}

func AddInflight(delta float64) {
	if !enabled.Load() {
		return
	}
	singleflightInflight.Add(delta)
}

func ObserveRefreshRun(refreshed, failed int, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	refreshRunsTotal.Inc()
	refreshBucketsTotal.WithLabelValues("refreshed").Add(float64(refreshed))
	refreshBucketsTotal.WithLabelValues("failed").Add(float64(failed))
	refreshDurationSeconds.Observe(durationSeconds)
}

func IncEventsDropped() {
	if !enabled.Load() {
		return
	}
	eventsDroppedTotal.Inc()
}

func IncKafkaConsumerError(kind string) {
	if !enabled.Load() {
		return
	}
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ObserveRefreshRequest(err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	result := "marked"
	if err != nil {
		result = "redeliver"
	}
	refreshRequestsTotal.WithLabelValues(result).Inc()
	refreshRequestDurationSeconds.Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
