// Package metrics provides Prometheus instrumentation for the jobads engine.
package metrics

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jobads"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AdsCreatedTotal counts committed advertisements by tier and funding source.
	AdsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ads_created_total",
			Help:      "Advertisements created by tier and funding source.",
		},
		[]string{"tier", "funding"},
	)

	// AdRejectionsTotal counts ad creation requests rejected before any write.
	AdRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ad_rejections_total",
			Help:      "Rejected ad creation requests by reason.",
		},
		[]string{"reason"},
	)

	// PaymentsConfirmedTotal counts gateway confirmations by result
	// (activated, duplicate, rejected).
	PaymentsConfirmedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_confirmed_total",
			Help:      "Payment confirmations by result.",
		},
		[]string{"result"},
	)

	// AdsExpiredTotal counts ads moved to EXPIRED by the sweep.
	AdsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ads_expired_total",
		Help:      "Advertisements expired by the sweep.",
	})

	// AccessDecisionsTotal counts resume access decisions.
	AccessDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Access gate decisions by outcome and reason.",
		},
		[]string{"decision", "reason"},
	)

	// StoreRetriesTotal counts serialization-failure retries by store operation.
	StoreRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Datastore transaction retries after serialization failures.",
		},
		[]string{"op"},
	)

	// ActiveWebSocketClients tracks connected operator feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AdsCreatedTotal,
		AdRejectionsTotal,
		PaymentsConfirmedTotal,
		AdsExpiredTotal,
		AccessDecisionsTotal,
		StoreRetriesTotal,
		ActiveWebSocketClients,
	)
}

// RegisterDB exposes connection pool statistics for db under the jobads
// namespace. Registering the same pool twice is a no-op.
func RegisterDB(db *sql.DB) error {
	err := prometheus.Register(collectors.NewDBStatsCollector(db, namespace))
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		return nil
	}
	return err
}

// Middleware records request count and latency per route pattern.
// Requests that match no route share the "unmatched" label.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
