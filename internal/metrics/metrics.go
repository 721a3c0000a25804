package metrics

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide metrics. Runtime statistics (goroutines, memstats) come from
// the default Go collector registered by client_golang.
var (
	startTime = time.Now()

	_ = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "canvasindexor_uptime_seconds",
			Help: "Seconds since the process started",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)

	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "canvasindexor_build_info",
			Help: "Always 1, labelled with the binary version",
		},
		[]string{"version", "go_version"},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasindexor_errors_total",
			Help: "Errors surfaced to the process level, by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "canvasindexor_component_health",
			Help: "1 while a component is healthy, 0 otherwise",
		},
		[]string{"component"},
	)
)

var health = struct {
	sync.RWMutex
	components map[string]bool
}{components: make(map[string]bool)}

func SetBuildInfo(version string) {
	BuildInfo.WithLabelValues(version, runtime.Version()).Set(1)
}

func ErrorsInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

// ComponentHealthSet records the health of a component for both the gauge
// and the /health endpoint of the metrics server.
func ComponentHealthSet(component string, healthy bool) {
	health.Lock()
	health.components[component] = healthy
	health.Unlock()

	v := 0.0
	if healthy {
		v = 1
	}
	ComponentHealth.WithLabelValues(component).Set(v)
}

// Unhealthy returns the sorted names of components last reported unhealthy.
func Unhealthy() []string {
	health.RLock()
	defer health.RUnlock()

	var out []string
	for name, ok := range health.components {
		if !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)

	return out
}
