package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	salesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fiado_sales_created_total",
			Help: "Sales created, by payment mode.",
		},
		[]string{"mode"},
	)

	paymentsAppliedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fiado_payments_applied_total",
		Help: "Payments applied against credit sales.",
	})

	stockRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fiado_stock_rejections_total",
		Help: "Sales rejected for insufficient stock.",
	})
)

// Init registers all metrics in the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		salesCreatedTotal, paymentsAppliedTotal, stockRejectionsTotal,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func SaleCreated(mode string) { salesCreatedTotal.WithLabelValues(mode).Inc() }
func PaymentApplied()         { paymentsAppliedTotal.Inc() }
func StockRejection()         { stockRejectionsTotal.Inc() }

// Instrument wraps a handler with RPS, latency and in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric labels stay bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	segs := strings.Split(p, "/")
	if len(segs) == 4 && segs[1] == "v1" && segs[3] != "" {
		switch segs[2] {
		case "products", "customers", "sales":
			return "/v1/" + segs[2] + "/:id"
		}
	}
	if len(segs) == 5 && segs[1] == "v1" && segs[2] == "sales" && segs[4] == "payments" {
		return "/v1/sales/:id/payments"
	}
	return p
}

// statusWriter captures the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
