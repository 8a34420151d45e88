package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// BookMetrics tracks the health of the lending book itself: aggregate market
// balances, utilisation, and operation outcomes.
type BookMetrics struct {
	operations    *prometheus.CounterVec
	failures      *prometheus.CounterVec
	totalDeposits *prometheus.GaugeVec
	totalBorrows  *prometheus.GaugeVec
	utilisation   *prometheus.GaugeVec
	oraclePrice   prometheus.Gauge
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	bookMetricsOnce sync.Once
	bookRegistry    *BookMetrics
)

// RPCMetrics returns the lazily-initialised registry used to record JSON-RPC
// activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendbook",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendbook",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendbook",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of an RPC request. The status code should be the
// HTTP status ultimately written to the response writer.
func (m *rpcMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// Book exposes the singleton registry for lending book instrumentation.
func Book() *BookMetrics {
	bookMetricsOnce.Do(func() {
		bookRegistry = &BookMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendbook",
				Subsystem: "book",
				Name:      "operations_total",
				Help:      "Count of book operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendbook",
				Subsystem: "book",
				Name:      "failures_total",
				Help:      "Count of rejected book operations segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			totalDeposits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendbook",
				Subsystem: "book",
				Name:      "total_deposits",
				Help:      "Aggregate resting quantity per asset in wad units.",
			}, []string{"asset"}),
			totalBorrows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendbook",
				Subsystem: "book",
				Name:      "total_borrows",
				Help:      "Aggregate outstanding principal per asset in wad units.",
			}, []string{"asset"}),
			utilisation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendbook",
				Subsystem: "book",
				Name:      "utilisation",
				Help:      "Ratio of borrows to deposits per asset (0-1).",
			}, []string{"asset"}),
			oraclePrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendbook",
				Subsystem: "book",
				Name:      "oracle_price",
				Help:      "Most recently observed oracle price in wad units.",
			}),
		}
		prometheus.MustRegister(
			bookRegistry.operations,
			bookRegistry.failures,
			bookRegistry.totalDeposits,
			bookRegistry.totalBorrows,
			bookRegistry.utilisation,
			bookRegistry.oraclePrice,
		)
	})
	return bookRegistry
}

// RecordOperation increments the operation counter, recording the failure
// reason when err is non-nil.
func (m *BookMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.failures.WithLabelValues(op, reason).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

// RecordMarket updates the per-asset gauges from the aggregate balances.
func (m *BookMetrics) RecordMarket(asset string, deposits, borrows *big.Int) {
	if m == nil {
		return
	}
	label := labelAsset(asset)
	depositVal := bigToFloat(deposits)
	borrowVal := bigToFloat(borrows)
	m.totalDeposits.WithLabelValues(label).Set(depositVal)
	m.totalBorrows.WithLabelValues(label).Set(borrowVal)
	utilisation := 0.0
	if depositVal > 0 {
		utilisation = borrowVal / depositVal
		if utilisation > 1 {
			utilisation = 1
		}
	}
	m.utilisation.WithLabelValues(label).Set(utilisation)
}

// RecordOraclePrice updates the oracle price gauge.
func (m *BookMetrics) RecordOraclePrice(price *big.Int) {
	if m == nil {
		return
	}
	m.oraclePrice.Set(bigToFloat(price))
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
