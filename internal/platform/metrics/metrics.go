// Package metrics exports the service's Prometheus collectors. The vitals
// gauges carry no patient or device labels; only aggregate values reach
// the metrics endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service registers. Collectors are
// scoped to an owned registry so tests never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	AuthAttemptsTotal *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge

	DeviceReadingsTotal *prometheus.CounterVec
	DeviceErrorsTotal   *prometheus.CounterVec

	MLAnomaliesDetected *prometheus.CounterVec
	MLAnalysisDuration  prometheus.Histogram

	DBConnectionsActive prometheus.Gauge
	DBQueryDuration     *prometheus.HistogramVec

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	SSEConnectionsActive prometheus.Gauge
	SSEEventsSent        *prometheus.CounterVec

	VitalsHeartRate prometheus.Gauge
	VitalsSpO2      prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		}, []string{"method", "endpoint"}),

		AuthAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Total authentication attempts",
		}, []string{"result"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Number of active user sessions",
		}),

		DeviceReadingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "device_readings_total",
			Help: "Total sensor readings received",
		}, []string{"device_id"}),
		DeviceErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "device_errors_total",
			Help: "Total device errors",
		}, []string{"device_id", "error_type"}),

		MLAnomaliesDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ml_anomalies_detected",
			Help: "Total anomalies detected by ML",
		}, []string{"alert_level"}),
		MLAnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "ml_analysis_duration_seconds",
			Help: "ML analysis duration in seconds",
		}),

		DBConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		}),
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "db_query_duration_seconds",
			Help: "Database query duration in seconds",
		}, []string{"query_type"}),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),

		SSEConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		}),
		SSEEventsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sse_events_sent_total",
			Help: "Total SSE events sent",
		}, []string{"event_type"}),

		VitalsHeartRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vitals_heart_rate_current",
			Help: "Current heart rate reading",
		}),
		VitalsSpO2: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vitals_spo2_current",
			Help: "Current SpO2 reading",
		}),
	}
}

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return echo.WrapHandler(h)
}

// Middleware records request count and latency per route. The route
// template (not the raw path) is used as the endpoint label so path
// parameters do not explode cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			endpoint := c.Path()
			if endpoint == "" {
				endpoint = c.Request().URL.Path
			}

			status := c.Response().Status
			if err != nil {
				if httpErr, ok := err.(*echo.HTTPError); ok {
					status = httpErr.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			method := c.Request().Method
			m.HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// SamplePoolStats copies live pool gauges on a fixed interval until done
// is closed.
func (m *Metrics) SamplePoolStats(acquired func() int32, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.DBConnectionsActive.Set(float64(acquired()))
		}
	}
}
