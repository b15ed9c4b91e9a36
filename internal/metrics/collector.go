// Package metrics provides Prometheus metrics for go-worker-swarm.
//
// Metrics are aggregate by design: labels are bounded (kill stage, exit
// class) so cardinality stays flat regardless of worker count.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	swarmInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_swarm_info",
			Help: "Information about the supervisor (value always 1)",
		},
		[]string{"version", "worker"},
	)

	swarmTargetWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_swarm_target_workers",
			Help: "Target number of workers to keep alive",
		},
	)

	swarmLiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_swarm_live_workers",
			Help: "Workers currently considered live",
		},
	)

	swarmSpawnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_swarm_spawns_total",
			Help: "Total worker processes spawned",
		},
	)

	swarmReapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_swarm_reaps_total",
			Help: "Total workers reaped, by exit class",
		},
		[]string{"exit"},
	)

	swarmHeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_swarm_heartbeats_total",
			Help: "Total heartbeat reads across all workers",
		},
	)

	swarmKillSignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_swarm_kill_signals_total",
			Help: "Total kill signals sent, by stage",
		},
		[]string{"stage"},
	)

	swarmEscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_swarm_escalations_total",
			Help: "Total escalations into the immediate stage, by reason",
		},
		[]string{"reason"},
	)

	swarmUptimeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_swarm_uptime_seconds",
			Help:    "Worker uptime at reap time",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)
)

var registerOnce sync.Once

// Register registers all supervisor metrics with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			swarmInfo,
			swarmTargetWorkers,
			swarmLiveWorkers,
			swarmSpawnsTotal,
			swarmReapsTotal,
			swarmHeartbeatsTotal,
			swarmKillSignalsTotal,
			swarmEscalationsTotal,
			swarmUptimeSeconds,
		)
	})
}

// SetInfo records the static info gauge.
func SetInfo(version, workerName string) {
	swarmInfo.WithLabelValues(version, workerName).Set(1)
}

// SetTargetWorkers records the controller's target count.
func SetTargetWorkers(n int) {
	swarmTargetWorkers.Set(float64(n))
}

// SetLiveWorkers records the live count after a keepalive pass.
func SetLiveWorkers(n int) {
	swarmLiveWorkers.Set(float64(n))
}

// WorkerSpawned counts one spawn.
func WorkerSpawned() {
	swarmSpawnsTotal.Inc()
}

// WorkerReaped counts one reap with its exit class and uptime.
func WorkerReaped(exitCode int, uptime time.Duration) {
	swarmReapsTotal.WithLabelValues(exitClass(exitCode)).Inc()
	swarmUptimeSeconds.Observe(uptime.Seconds())
}

// HeartbeatReceived counts one heartbeat read.
func HeartbeatReceived() {
	swarmHeartbeatsTotal.Inc()
}

// KillSignalSent counts one kill signal for a stage.
func KillSignalSent(stage string) {
	swarmKillSignalsTotal.WithLabelValues(stage).Inc()
}

// Escalated counts one escalation into the immediate stage.
func Escalated(reason string) {
	swarmEscalationsTotal.WithLabelValues(reason).Inc()
}

// exitClass buckets exit codes into bounded label values.
func exitClass(code int) string {
	switch code {
	case 0:
		return "clean"
	case -1:
		return "unreaped"
	case 137:
		return "sigkill"
	case 143:
		return "sigterm"
	default:
		if code > 128 {
			return "signal_" + strconv.Itoa(code-128)
		}
		return "error"
	}
}
