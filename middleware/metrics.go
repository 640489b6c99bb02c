package middleware

import (
	"strconv"
	"time"

	"order-svc/circuitbreaker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	ordersCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders created",
		},
		[]string{"source"},
	)

	orderSettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_settlements_total",
			Help: "Total number of payment results settled against orders",
		},
		[]string{"result"},
	)

	ordersExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_expired_total",
			Help: "Total number of pending orders cancelled by the expiry sweep",
		},
	)

	stockReductionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_stock_reduction_failures_total",
			Help: "Total number of failed stock reductions after payment",
		},
	)

	notificationsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_published_total",
			Help: "Total number of notification events published",
		},
		[]string{"type", "result"},
	)

	paymentResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_results_consumed_total",
			Help: "Total number of payment result messages consumed",
		},
		[]string{"outcome"},
	)

	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(ordersCreatedTotal)
	prometheus.MustRegister(orderSettlementsTotal)
	prometheus.MustRegister(ordersExpiredTotal)
	prometheus.MustRegister(stockReductionFailuresTotal)
	prometheus.MustRegister(notificationsPublishedTotal)
	prometheus.MustRegister(paymentResultsTotal)
	prometheus.MustRegister(circuitBreakerState)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordOrderCreated(source string) {
	ordersCreatedTotal.WithLabelValues(source).Inc()
}

// RecordSettlement counts a payment result by what it did to the order:
// "paid", "failed" or "ignored".
func RecordSettlement(result string) {
	orderSettlementsTotal.WithLabelValues(result).Inc()
}

func RecordOrderExpired() {
	ordersExpiredTotal.Inc()
}

func RecordStockReductionFailure() {
	stockReductionFailuresTotal.Inc()
}

func RecordNotificationPublished(notificationType, result string) {
	notificationsPublishedTotal.WithLabelValues(notificationType, result).Inc()
}

func RecordPaymentResult(outcome string) {
	paymentResultsTotal.WithLabelValues(outcome).Inc()
}

// SetCircuitBreakerState matches circuitbreaker.CircuitBreaker.OnStateChange.
func SetCircuitBreakerState(name string, state circuitbreaker.State) {
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}
