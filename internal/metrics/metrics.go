// Package metrics provides Prometheus instrumentation for the onboarding
// service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onboardly",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "onboardly",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OnboardingSessionsTotal counts onboarding sessions started.
	OnboardingSessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "onboardly",
		Name:      "onboarding_sessions_total",
		Help:      "Total onboarding sessions started.",
	})

	// OnboardingStepsTotal counts step transitions by target step.
	OnboardingStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onboardly",
			Name:      "onboarding_steps_total",
			Help:      "Total onboarding step transitions by target step.",
		},
		[]string{"step"},
	)

	// PaymentIntentsTotal counts payment intent lifecycle events.
	PaymentIntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onboardly",
			Name:      "payment_intents_total",
			Help:      "Total payment intent lifecycle events by outcome.",
		},
		[]string{"outcome"},
	)

	// PaymentPollsTotal counts status polls by resulting phase.
	PaymentPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onboardly",
			Name:      "payment_polls_total",
			Help:      "Total payment status polls by resulting phase.",
		},
		[]string{"result"},
	)

	// TenantActivationsTotal counts first-time tenant activations.
	TenantActivationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "onboardly",
		Name:      "tenant_activations_total",
		Help:      "Total tenants activated (pending to active transitions).",
	})

	// ActivationReplaysTotal counts idempotent completion replays.
	ActivationReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "onboardly",
		Name:      "activation_replays_total",
		Help:      "Total completion calls replayed against an already-active tenant.",
	})

	// OTPRequestsTotal counts one-time-code requests by channel.
	OTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onboardly",
			Name:      "otp_requests_total",
			Help:      "Total one-time-code requests by channel.",
		},
		[]string{"channel"},
	)

	// OTPVerificationsTotal counts verification attempts by channel and result.
	OTPVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onboardly",
			Name:      "otp_verifications_total",
			Help:      "Total one-time-code verification attempts by channel and result.",
		},
		[]string{"channel", "result"},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onboardly",
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook deliveries by result.",
		},
		[]string{"result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "onboardly", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "onboardly", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "onboardly", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OnboardingSessionsTotal,
		OnboardingStepsTotal,
		PaymentIntentsTotal,
		PaymentPollsTotal,
		TenantActivationsTotal,
		ActivationReplaysTotal,
		OTPRequestsTotal,
		OTPVerificationsTotal,
		WebhookDeliveriesTotal,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime
// goroutine count into Prometheus gauges. Call in a goroutine; exits when
// ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
