package observability

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RateMetrics wraps collectors tracking the interest rate engine.
type RateMetrics struct {
	calculations *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	apyClamps    *prometheus.CounterVec
	validations  *prometheus.CounterVec
	modifier     *prometheus.GaugeVec
	utilization  *prometheus.GaugeVec
}

// HTTPMetrics wraps collectors tracking the HTTP surface of lendingd.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	rateMetricsOnce sync.Once
	rateRegistry    *RateMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetrics
)

// Rates returns the lazily-initialised metrics registry for rate
// calculations.
func Rates() *RateMetrics {
	rateMetricsOnce.Do(func() {
		rateRegistry = &RateMetrics{
			calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "blend",
				Subsystem: "rates",
				Name:      "calculations_total",
				Help:      "Count of rate engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "blend",
				Subsystem: "rates",
				Name:      "calculation_duration_seconds",
				Help:      "Latency distribution for rate engine operations.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			}, []string{"operation"}),
			apyClamps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "blend",
				Subsystem: "rates",
				Name:      "apy_clamped_total",
				Help:      "Count of APY conversions clamped to the display ceiling, by compounding periods.",
			}, []string{"periods"}),
			validations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "blend",
				Subsystem: "rates",
				Name:      "curve_validations_total",
				Help:      "Count of curve validations segmented by result.",
			}, []string{"result"}),
			modifier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "blend",
				Subsystem: "rates",
				Name:      "ir_modifier",
				Help:      "Current reactive interest rate modifier per reserve.",
			}, []string{"reserve"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "blend",
				Subsystem: "rates",
				Name:      "utilization_ratio",
				Help:      "Last observed utilisation per reserve.",
			}, []string{"reserve"}),
		}
		prometheus.MustRegister(
			rateRegistry.calculations,
			rateRegistry.latency,
			rateRegistry.apyClamps,
			rateRegistry.validations,
			rateRegistry.modifier,
			rateRegistry.utilization,
		)
	})
	return rateRegistry
}

// Observe records the outcome of a rate engine operation. The outcome label
// is derived from the error: "success", "invalid_input", "out_of_bounds" or
// "error".
func (m *RateMetrics) Observe(operation string, duration time.Duration, err error, kinds map[string]error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	m.calculations.WithLabelValues(op, outcome(err, kinds)).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordClamp counts an APY clamped to the display ceiling.
func (m *RateMetrics) RecordClamp(periods int) {
	if m == nil {
		return
	}
	m.apyClamps.WithLabelValues(fmt.Sprintf("%d", periods)).Inc()
}

// RecordValidation counts a curve validation result.
func (m *RateMetrics) RecordValidation(valid bool) {
	if m == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.validations.WithLabelValues(result).Inc()
}

// SetReserveState publishes the latest modifier and utilisation of a reserve.
func (m *RateMetrics) SetReserveState(reserve string, modifier, utilization float64) {
	if m == nil {
		return
	}
	reserve = normalizeReserve(reserve)
	m.modifier.WithLabelValues(reserve).Set(modifier)
	m.utilization.WithLabelValues(reserve).Set(utilization)
}

// HTTP returns the lazily-initialised metrics registry for HTTP handlers.
func HTTP() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "blend",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "blend",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total HTTP errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "blend",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "blend",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of an HTTP request. The status code should be
// the one ultimately written to the response writer.
func (m *HTTPMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	result := "success"
	if status >= 400 {
		result = "error"
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, method, result).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *HTTPMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

func outcome(err error, kinds map[string]error) string {
	if err == nil {
		return "success"
	}
	for label, kind := range kinds {
		if errors.Is(err, kind) {
			return label
		}
	}
	return "error"
}

func normalizeReserve(reserve string) string {
	normalized := strings.TrimSpace(reserve)
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
