// Package metrics holds the Prometheus collectors shared by the chain
// gateway, the scanner, the hint calculator and the API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Outcome string

const (
	Success Outcome = "success"
	Error   Outcome = "error"
)

func (o Outcome) String() string {
	return string(o)
}

func outcomeOf(failed bool) string {
	if failed {
		return Error.String()
	}
	return Success.String()
}

var defaultHistogramBucketsSeconds = []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30}

var (
	once sync.Once

	rpcLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trovewatch_rpc_latency_seconds",
			Help:    "Histogram of contract call durations in seconds.",
			Buckets: defaultHistogramBucketsSeconds,
		},
		[]string{"method", "status"},
	)

	scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trovewatch_scan_duration_seconds",
			Help:    "Histogram of full scan durations in seconds.",
			Buckets: defaultHistogramBucketsSeconds,
		},
		[]string{"mode"},
	)

	scanModeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trovewatch_scans_total",
			Help: "Number of completed scans by mode and price source.",
		},
		[]string{"mode", "price_fallback"},
	)

	redeemableGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trovewatch_redeemable_positions",
			Help: "Redeemable positions found by the latest scan.",
		},
	)

	atRiskGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trovewatch_at_risk_positions",
			Help: "Positions below the minimum collateral ratio in the latest scan.",
		},
	)

	skippedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trovewatch_skipped_positions_total",
			Help: "Positions that could not be evaluated.",
		},
	)

	hintCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trovewatch_hint_computations_total",
			Help: "Hint computations by convergence.",
		},
		[]string{"converged"},
	)

	submissionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trovewatch_redemption_submissions_total",
			Help: "Redemption transactions submitted by outcome.",
		},
		[]string{"status"},
	)

	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trovewatch_http_request_duration_seconds",
			Help:    "Histogram of API request durations in seconds.",
			Buckets: defaultHistogramBucketsSeconds,
		},
		[]string{"route", "code"},
	)
)

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			rpcLatency,
			scanDuration,
			scanModeCounter,
			redeemableGauge,
			atRiskGauge,
			skippedCounter,
			hintCounter,
			submissionCounter,
			httpLatency,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordRPCLatency(duration time.Duration, method string, failed bool) {
	rpcLatency.WithLabelValues(method, outcomeOf(failed)).Observe(duration.Seconds())
}

// RecordScan records the outcome of one scan.
func RecordScan(duration time.Duration, mode string, priceFallback bool, redeemable, atRisk, skipped int) {
	scanDuration.WithLabelValues(mode).Observe(duration.Seconds())
	fallback := "false"
	if priceFallback {
		fallback = "true"
	}
	scanModeCounter.WithLabelValues(mode, fallback).Inc()
	redeemableGauge.Set(float64(redeemable))
	atRiskGauge.Set(float64(atRisk))
	skippedCounter.Add(float64(skipped))
}

func RecordHint(converged bool) {
	label := "false"
	if converged {
		label = "true"
	}
	hintCounter.WithLabelValues(label).Inc()
}

func RecordSubmission(failed bool) {
	submissionCounter.WithLabelValues(outcomeOf(failed)).Inc()
}

// RecordHTTP records one API request. route is the mux pattern, never the
// raw path.
func RecordHTTP(duration time.Duration, route string, code int) {
	httpLatency.WithLabelValues(route, strconv.Itoa(code)).Observe(duration.Seconds())
}
