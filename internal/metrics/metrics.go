// Package metrics provides Prometheus instrumentation for the Kestrel
// scoring service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PredictionsTotal counts scored transactions by flag outcome.
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "predictions_total",
			Help:      "Total transactions scored, by flag outcome.",
		},
		[]string{"flagged"},
	)

	// RiskScoreDistribution observes the mapped fraud risk scores.
	RiskScoreDistribution = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Name:      "risk_score",
		Help:      "Distribution of fraud risk scores.",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	// ModelLoaded is 1 once the model pair is trained or loaded.
	ModelLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kestrel",
		Name:      "model_loaded",
		Help:      "Whether the model and scaler are initialized (0 or 1).",
	})

	// AlertsTotal counts alerts raised for flagged transactions.
	AlertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "alerts_total",
		Help:      "Total alerts raised for flagged transactions.",
	})

	// CacheHitsTotal counts prediction cache hits.
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "cache_hits_total",
		Help:      "Total prediction cache hits.",
	})

	// CacheMissesTotal counts prediction cache misses.
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "cache_misses_total",
		Help:      "Total prediction cache misses.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PredictionsTotal,
		RiskScoreDistribution,
		ModelLoaded,
		AlertsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
	)
}

// Handler returns the Prometheus metrics handler for the /metrics
// endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePrediction records the outcome of one scored transaction.
func ObservePrediction(riskScore float64, flagged bool) {
	RiskScoreDistribution.Observe(riskScore)
	if flagged {
		PredictionsTotal.WithLabelValues("true").Inc()
	} else {
		PredictionsTotal.WithLabelValues("false").Inc()
	}
}

// StatusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx,
// 5xx) to keep label cardinality down.
func StatusBucket(code int) string {
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
