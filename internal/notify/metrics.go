package notify

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Observers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canvasindexor_observers",
			Help: "Number of registered live update observers",
		},
	)

	ObserverErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasindexor_observer_errors_total",
			Help: "Total number of failed observer deliveries",
		},
		[]string{"observer"},
	)

	UpdatesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvasindexor_updates_published_total",
			Help: "Total number of live updates published",
		},
	)
)

func ObserversSet(count int) {
	Observers.Set(float64(count))
}

// ObserverErrorInc labels by the observer kind, the part of the name before
// ':', so per-connection observers share one series.
func ObserverErrorInc(observer string) {
	kind, _, _ := strings.Cut(observer, ":")
	ObserverErrors.WithLabelValues(kind).Inc()
}

func UpdatesPublishedInc() {
	UpdatesPublished.Inc()
}
