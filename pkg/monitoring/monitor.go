package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// Session engine metrics.

	ActiveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_active_sessions",
			Help: "Number of non-terminal sessions by activity kind",
		},
		[]string{"kind"}, // lab, attempt
	)

	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_session_transitions_total",
			Help: "State transitions applied by the session engine",
		},
		[]string{"kind", "to"},
	)

	FlagSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_flag_submissions_total",
			Help: "Flag submissions by outcome",
		},
		[]string{"outcome"}, // accepted, duplicate, rejected, throttled
	)

	ScoringDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_scoring_duration_seconds",
			Help:    "Time spent grading a finalized attempt",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	LedgerDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_ledger_dropped_events_total",
			Help: "Activity events dropped because the ledger buffer was full",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(SessionTransitions)
	prometheus.MustRegister(FlagSubmissions)
	prometheus.MustRegister(ScoringDuration)
	prometheus.MustRegister(LedgerDropped)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
