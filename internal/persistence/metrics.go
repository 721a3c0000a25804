package persistence

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SnapshotFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasindexor_snapshot_flushes_total",
			Help: "Total number of snapshot writes by result",
		},
		[]string{"result"},
	)

	SnapshotFlushDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "canvasindexor_snapshot_flush_duration_seconds",
			Help:    "Duration of snapshot writes",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canvasindexor_snapshot_size_bytes",
			Help: "Size of the last snapshot written",
		},
	)

	SnapshotPixels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canvasindexor_snapshot_pixels",
			Help: "Number of pixels in the last snapshot written",
		},
	)

	SnapshotLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasindexor_snapshot_loads_total",
			Help: "Snapshot loads at startup by outcome",
		},
		[]string{"outcome"},
	)
)

func SnapshotFlushInc(success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	SnapshotFlushes.WithLabelValues(result).Inc()
}

func SnapshotFlushDuration(d time.Duration) {
	SnapshotFlushDurationSeconds.Observe(d.Seconds())
}

func SnapshotSize(bytes, pixels int) {
	SnapshotBytes.Set(float64(bytes))
	SnapshotPixels.Set(float64(pixels))
}

func SnapshotLoadInc(result LoadResult) {
	SnapshotLoads.WithLabelValues(result.String()).Inc()
}
