package stream

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric the runtime exports.
const Namespace = "warpstream"

// ErrMetricsRegistered is returned when the registry already holds the
// runtime's metrics, typically from another live Runtime.
var ErrMetricsRegistered = errors.New("stream metrics already registered")

// Metrics holds the runtime's collectors.
type Metrics struct {
	TaskSteps       *prometheus.CounterVec
	Faults          *prometheus.CounterVec
	BundleLoads     *prometheus.CounterVec
	BundleUnloads   prometheus.Counter
	UnloadsCanceled prometheus.Counter
	DownloadedBytes *prometheus.CounterVec
	DownloadFailed  *prometheus.CounterVec
	LiveAssets      prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		TaskSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_steps_total",
			Help:      "Task executions by owner and resulting state.",
		}, []string{"owner", "state"}),
		Faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_faults_total",
			Help:      "Task faults by kind.",
		}, []string{"kind"}),
		BundleLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bundle_loads_total",
			Help:      "Bundle loads by result.",
		}, []string{"result"}),
		BundleUnloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bundle_unloads_total",
			Help:      "Bundles unloaded after their debounce delay.",
		}),
		UnloadsCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bundle_unloads_canceled_total",
			Help:      "Deferred unloads dropped because the bundle was used again.",
		}),
		DownloadedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes of committed bundle downloads by group.",
		}, []string{"group"}),
		DownloadFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "download_failures_total",
			Help:      "Failed bundle downloads by group.",
		}, []string{"group"}),
		LiveAssets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "live_assets",
			Help:      "Assets with a non-zero reference count.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TaskSteps, m.Faults, m.BundleLoads, m.BundleUnloads,
		m.UnloadsCanceled, m.DownloadedBytes, m.DownloadFailed, m.LiveAssets,
	}
}

// register adds every collector to reg. On failure the collectors
// registered so far are removed again.
func (m *Metrics) register(reg prometheus.Registerer) error {
	for i, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			for _, done := range m.collectors()[:i] {
				reg.Unregister(done)
			}
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return fmt.Errorf("%w: %v", ErrMetricsRegistered, err)
			}
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

func (m *Metrics) unregister(reg prometheus.Registerer) {
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}
