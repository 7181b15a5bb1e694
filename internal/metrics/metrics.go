// Package metrics provides Prometheus metrics for tailhole.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names use the tailhole_ prefix.
const Namespace = "tailhole"

var (
	// BuildInfo is a constant gauge carrying version labels.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "build_info",
		Help:      "Build information. Always 1.",
	}, []string{"version", "go_version"})

	// ContainersRunning tracks running managed containers per service.
	ContainersRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "containers_running",
		Help:      "Managed containers currently running, by service.",
	}, []string{"service"})

	// ConvergeDuration observes how long a convergence run takes.
	ConvergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "converge_duration_seconds",
		Help:      "Duration of stack convergence runs.",
		Buckets:   prometheus.DefBuckets,
	})

	// ConvergeActions counts convergence actions by type and status.
	ConvergeActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "converge_actions_total",
		Help:      "Convergence actions taken, by action type and status.",
	}, []string{"action", "status"})

	// Restarts counts container restarts observed by the supervisor.
	Restarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "restarts_total",
		Help:      "Container restarts observed, by service.",
	}, []string{"service"})

	// DNSCheckFailures counts failed DNS verification probes.
	DNSCheckFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "dns_check_failures_total",
		Help:      "Failed DNS verification probes, by probe name.",
	}, []string{"probe"})
)

// SetBuildInfo records the build information gauge.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}
