package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credvault_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credvault_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	secretsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "credvault_secrets_total",
		Help: "Total number of live secrets.",
	})

	rotationCompliance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "credvault_rotation_compliance_percent",
		Help: "Percentage of scheduled passwords rotated on time.",
	})

	overduePasswords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "credvault_overdue_passwords",
		Help: "Number of passwords past their rotation deadline.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, secretsTotal, rotationCompliance, overduePasswords)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}

// RefreshDomainMetrics recomputes the secret count and rotation compliance
// gauges. Called periodically from the server main loop.
func (s *Server) RefreshDomainMetrics(ctx context.Context) {
	if n, err := s.store.CountSecrets(ctx); err == nil {
		secretsTotal.Set(float64(n))
	} else {
		log.Warn().Err(err).Msg("refreshing secret count gauge")
	}
	if m, err := s.rotation.ComputeComplianceMetrics(ctx); err == nil {
		rotationCompliance.Set(m.CompliancePercentage)
		overduePasswords.Set(float64(m.OverduePasswords))
	} else {
		log.Warn().Err(err).Msg("refreshing compliance gauges")
	}
}
