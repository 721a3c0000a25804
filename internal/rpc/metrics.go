package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPC metrics
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasindexor_rpc_requests_total",
			Help: "Total number of RPC requests by method",
		},
		[]string{"method"},
	)

	RPCErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasindexor_rpc_errors_total",
			Help: "Total number of RPC errors by method and class",
		},
		[]string{"method", "error_class"},
	)

	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canvasindexor_rpc_request_duration_seconds",
			Help:    "Duration of RPC requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RPCRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasindexor_rpc_retries_total",
			Help: "Total number of retried operations",
		},
		[]string{"operation"},
	)

	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvasindexor_decode_errors_total",
			Help: "Total number of Placed logs that failed to decode",
		},
	)

	RangeSplits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvasindexor_rpc_range_splits_total",
			Help: "Total number of getLogs ranges split after a too many results response",
		},
	)
)

func RPCMethodInc(method string) {
	RPCRequests.WithLabelValues(method).Inc()
}

func RPCMethodDuration(method string, duration time.Duration) {
	RPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RPCMethodError(method, errorClass string) {
	RPCErrors.WithLabelValues(method, errorClass).Inc()
}

func RPCRetryInc(operation string) {
	RPCRetries.WithLabelValues(operation).Inc()
}

func DecodeErrorInc() {
	DecodeErrors.Inc()
}

func RangeSplitInc() {
	RangeSplits.Inc()
}
