package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SkippedRanges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canvasindexor_skipped_ranges",
			Help: "Number of block ranges recorded as skipped",
		},
	)

	LedgerWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvasindexor_ledger_write_errors_total",
			Help: "Total number of failed ledger writes",
		},
	)
)

func LedgerRangesSet(count int) {
	SkippedRanges.Set(float64(count))
}

func LedgerRangesInc() {
	SkippedRanges.Inc()
}

func LedgerWriteErrorInc() {
	LedgerWriteErrors.Inc()
}
