// internal/metrics/metrics.go
package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GRPCServerHandlingSeconds is a histogram for gRPC server request latencies
	GRPCServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of gRPC that had been application-level handled by the server.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "code"},
	)

	// HTTPRequestSeconds is a histogram for HTTP request latencies
	HTTPRequestSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latency (seconds) by route and status.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status"},
	)

	// StageLatencySeconds is a histogram for per-stage pipeline latency
	StageLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prediction_stage_seconds",
			Help:    "Histogram of prediction pipeline stage latency (seconds).",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	// PredictionSeconds is a histogram for end-to-end prediction latency
	PredictionSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "Histogram of prediction latency (seconds) excluding transport overhead.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// PredictionsTotal counts predictions by outcome
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of predictions by outcome.",
		},
		[]string{"outcome"},
	)

	// PredictionProbability is a histogram of returned probabilities
	PredictionProbability = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prediction_probability",
			Help:    "Histogram of positive class probabilities.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
		},
	)

	// NonFinitePredictions counts NaN probabilities
	NonFinitePredictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prediction_non_finite_total",
			Help: "Total number of predictions whose probability was not a number.",
		},
	)

	// CacheHitsTotal counts result cache hits
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prediction_cache_hits_total",
			Help: "Total number of predictions served from the result cache.",
		},
	)

	// ModelReady is a gauge indicating whether the model is loaded
	ModelReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "model_ready",
			Help: "Whether the model is loaded and serving (1 = ready, 0 = not ready).",
		},
	)

	// HealthStatus is a gauge indicating the health status of the service
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "health_status",
			Help: "Health status of the service (1 = healthy, 0 = unhealthy).",
		},
	)
)

// RecordGRPCLatency records the latency of a gRPC method call
func RecordGRPCLatency(method, code string, seconds float64) {
	GRPCServerHandlingSeconds.WithLabelValues(method, code).Observe(seconds)
}

// RecordHTTPLatency records the latency of an HTTP request
func RecordHTTPLatency(method, route, status string, seconds float64) {
	HTTPRequestSeconds.WithLabelValues(method, route, status).Observe(seconds)
}

// RecordStage records the latency of one pipeline stage
func RecordStage(stage string, seconds float64) {
	StageLatencySeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordPrediction counts a prediction and its latency
func RecordPrediction(outcome string, seconds float64) {
	PredictionsTotal.WithLabelValues(outcome).Inc()
	PredictionSeconds.Observe(seconds)
}

// RecordProbability records a returned probability
func RecordProbability(p float64) {
	if math.IsNaN(p) {
		NonFinitePredictions.Inc()
		return
	}
	PredictionProbability.Observe(p)
}

// RecordCacheHit counts a result cache hit
func RecordCacheHit() {
	CacheHitsTotal.Inc()
}

// SetModelReady sets the model readiness gauge
func SetModelReady(ready bool) {
	if ready {
		ModelReady.Set(1)
		return
	}
	ModelReady.Set(0)
}

// SetHealthy sets the health status to healthy
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy
func SetUnhealthy() {
	HealthStatus.Set(0)
}
