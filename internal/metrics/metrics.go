// Package metrics provides Prometheus instrumentation for the paper-trading
// engine.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeLatency tracks trade execution latency by side.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeRejections counts trades rejected by business rules.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trade_rejections_total",
		Help: "Trades rejected before execution",
	}, []string{"reason"})

	// AlertsTriggered counts alerts newly triggered by the monitor or a
	// manual trigger.
	AlertsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_alerts_triggered_total",
		Help: "Alerts transitioned to triggered",
	})

	// MonitorTicks counts alert-monitor ticks by outcome.
	MonitorTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_monitor_ticks_total",
		Help: "Alert monitor ticks",
	}, []string{"outcome"})

	// QuoteRequests counts market-data requests by endpoint.
	QuoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_quote_requests_total",
		Help: "Market-data API requests",
	}, []string{"endpoint"})

	// QuoteErrors counts failed market-data requests by endpoint.
	QuoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_quote_errors_total",
		Help: "Failed market-data API requests",
	}, []string{"endpoint"})

	// WebSocketClients tracks live trade-stream bridge connections.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_websocket_clients",
		Help: "Connected WebSocket bridge clients",
	})

	// SSEClients tracks live event-stream subscribers.
	SSEClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_sse_clients",
		Help: "Connected SSE event-stream clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE streams flush through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets WebSocket upgrades take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
