package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
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

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service reports ready, 0 otherwise.",
	})

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh attempts by result.",
		},
		[]string{"result"},
	)

	refreshReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_replays_total",
		Help: "Refresh tokens rejected as replays of superseded or revoked sessions.",
	})

	verifyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_verify_failures_total",
			Help: "Token verification failures by token type.",
		},
		[]string{"type"},
	)

	initOnce sync.Once
)

// Init registers the service metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
			loginsTotal, refreshTotal, refreshReplays, verifyFailures,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the readiness state reported by probes.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// ObserveLogin counts a login attempt ("success", "invalid_credentials", "error").
func ObserveLogin(result string) { loginsTotal.WithLabelValues(result).Inc() }

// ObserveRefresh counts a refresh attempt ("success", "invalid", "replay", "error").
func ObserveRefresh(result string) { refreshTotal.WithLabelValues(result).Inc() }

// ObserveReplay counts a detected refresh-token replay.
func ObserveReplay() { refreshReplays.Inc() }

// ObserveVerifyFailure counts a rejected access or refresh token.
func ObserveVerifyFailure(tokenType string) { verifyFailures.WithLabelValues(tokenType).Inc() }

// Instrument records in-flight, count and latency for every request.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric labels stay bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 3 || parts[0] != "admin" {
		return raw
	}
	switch parts[1] {
	case "roles", "permissions":
		if len(parts) == 3 {
			return "/admin/" + parts[1] + "/:id"
		}
	case "keys":
		if len(parts) == 4 && (parts[3] == "activate" || parts[3] == "deactivate") {
			return "/admin/keys/:kid/" + parts[3]
		}
	case "users":
		if len(parts) == 4 {
			switch parts[3] {
			case "access", "permissions", "sessions":
				return "/admin/users/:id/" + parts[3]
			}
		}
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
