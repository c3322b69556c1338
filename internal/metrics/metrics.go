package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-demos/internal/assets"
	"github.com/keithlinneman/linnemanlabs-demos/internal/version"
)

type ServerMetrics struct {
	reg                  *prometheus.Registry
	handler              http.Handler
	inflight             prometheus.Gauge
	reqTotal             *prometheus.CounterVec
	reqDur               *prometheus.HistogramVec
	respBytes            *prometheus.HistogramVec
	httpPanicTotal       prometheus.Counter
	buildInfo            *prometheus.GaugeVec
	ratelimitDeniedTotal prometheus.Counter
	ratelimitOffenders   prometheus.Counter

	errorsTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge

	// asset resolution + store metrics
	storeBackend     *prometheus.GaugeVec
	assetResolves    *prometheus.CounterVec
	storeDur         *prometheus.HistogramVec
	storeErrorsTotal *prometheus.CounterVec
	catalogProjects  prometheus.Gauge

	// analytics dispatch
	analyticsEvents *prometheus.CounterVec
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions.
// Project names are never used as labels.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitOffenders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limit_offenders_total",
			Help: "Total number of client identifiers that hit the rate limit (counted once per window entry)",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		storeBackend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "demos_store_backend_info",
			Help: "Configured store backends (labels carry value, gauge is always 1)",
		}, []string{"objects", "metadata"}),
		assetResolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "demos_asset_resolve_total",
			Help: "Asset resolutions by outcome and whether the SPA index fallback was used",
		}, []string{"outcome", "spa_fallback"}),
		storeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "demos_store_request_duration_seconds",
			Help:    "Object and metadata store call latency by operation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"}),
		storeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "demos_store_errors_total",
			Help: "Store calls that failed for a reason other than a missing key",
		}, []string{"op"}),
		catalogProjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "demos_catalog_projects",
			Help: "Number of projects in the most recently built listing",
		}),
		analyticsEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "demos_analytics_events_total",
			Help: "Pageview events by result (sent, failed, dropped_queue_full, dropped_rate_limited)",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitOffenders,
		m.errorsTotal,
		m.profilingActive,
		m.storeBackend,
		m.assetResolves,
		m.storeDur,
		m.storeErrorsTotal,
		m.catalogProjects,
		m.analyticsEvents,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildID,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   vi.Dirty(),
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

// IncRateLimitOffender counts a client's first denial, paired with ratelimit.WithOnFirstDenied
func (m *ServerMetrics) IncRateLimitOffender() {
	m.ratelimitOffenders.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// set once at startup.
func (m *ServerMetrics) SetStoreBackend(objects, metadata string) {
	m.storeBackend.Reset()
	m.storeBackend.WithLabelValues(objects, metadata).Set(1)
}

// ObserveResolve implements assets.Observer.
func (m *ServerMetrics) ObserveResolve(outcome assets.Outcome, spaFallback bool) {
	m.assetResolves.WithLabelValues(outcome.String(), strconv.FormatBool(spaFallback)).Inc()
}

// ObserveStore implements assets.Observer. err is nil for successful and not-found calls.
func (m *ServerMetrics) ObserveStore(op string, d time.Duration, err error) {
	m.storeDur.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		m.storeErrorsTotal.WithLabelValues(op).Inc()
	}
}

func (m *ServerMetrics) SetCatalogProjects(n int) {
	m.catalogProjects.Set(float64(n))
}

// IncAnalyticsEvent counts a pageview by dispatch result.
func (m *ServerMetrics) IncAnalyticsEvent(result string) {
	m.analyticsEvents.WithLabelValues(result).Inc()
}
