package syncer

import (
	"github.com/goran-ethernal/CanvasIndexor/internal/store"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LastProcessedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canvasindexor_last_processed_block",
			Help: "Highest block whose events are reflected in the canvas",
		},
	)

	TargetBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canvasindexor_backfill_target_block",
			Help: "Chain height the backfill is catching up to",
		},
	)

	BackfillProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canvasindexor_backfill_progress_percent",
			Help: "Backfill progress in percent",
		},
	)

	Chunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasindexor_backfill_chunks_total",
			Help: "Total number of backfill chunks by outcome",
		},
		[]string{"outcome"},
	)

	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasindexor_events_applied_total",
			Help: "Total number of events applied to the canvas by source and change",
		},
		[]string{"source", "change"},
	)

	PixelCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canvasindexor_pixels",
			Help: "Number of non-erased pixels on the canvas",
		},
	)

	PhaseGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "canvasindexor_phase",
			Help: "Current engine phase (1 for the active phase)",
		},
		[]string{"phase"},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvasindexor_watcher_reconnects_total",
			Help: "Total number of live subscription reconnects",
		},
	)
)

var allPhases = []canvas.Phase{
	canvas.PhaseLoading,
	canvas.PhaseBackfilling,
	canvas.PhaseWatching,
	canvas.PhaseStopped,
}

func CursorSet(block uint64) {
	LastProcessedBlock.Set(float64(block))
}

func TargetSet(block uint64) {
	TargetBlock.Set(float64(block))
}

func ProgressSet(percent float64) {
	BackfillProgress.Set(percent)
}

func ChunkAppliedInc() {
	Chunks.WithLabelValues("applied").Inc()
}

func ChunkSkippedInc() {
	Chunks.WithLabelValues("skipped").Inc()
}

func EventAppliedInc(source string, change store.Change) {
	EventsApplied.WithLabelValues(source, change.String()).Inc()
}

func PixelCountSet(count int) {
	PixelCount.Set(float64(count))
}

func PhaseSet(phase canvas.Phase) {
	for _, p := range allPhases {
		value := 0.0
		if p == phase {
			value = 1
		}
		PhaseGauge.WithLabelValues(p.String()).Set(value)
	}
}

func ReconnectInc() {
	Reconnects.Inc()
}
