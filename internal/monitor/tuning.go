package monitor

import (
	"syscall"
	"time"

	"github.com/randomizedcoder/go-worker-swarm/internal/config"
)

// Tuning is the value snapshot of kill-protocol settings a Monitor needs.
// It is copied into each Monitor at spawn time so a Monitor never holds a
// reference back to its owning manager.
type Tuning struct {
	HeartbeatTimeout time.Duration

	GracefulKillSignal            syscall.Signal
	GracefulKillInterval          time.Duration
	GracefulKillIntervalIncrement time.Duration
	GracefulKillTimeout           time.Duration // <= 0 disables the graceful deadline

	ImmediateKillSignal            syscall.Signal
	ImmediateKillInterval          time.Duration
	ImmediateKillIntervalIncrement time.Duration
	ImmediateKillTimeout           time.Duration

	ReloadSignal syscall.Signal
}

// TuningFromConfig builds a Tuning snapshot from a validated Config.
func TuningFromConfig(cfg *config.Config) Tuning {
	return Tuning{
		HeartbeatTimeout: cfg.HeartbeatTimeout,

		GracefulKillSignal:            config.MustSignal(cfg.GracefulKillSignal),
		GracefulKillInterval:          cfg.GracefulKillInterval,
		GracefulKillIntervalIncrement: cfg.GracefulKillIntervalIncrement,
		GracefulKillTimeout:           cfg.GracefulKillTimeout,

		ImmediateKillSignal:            config.MustSignal(cfg.ImmediateKillSignal),
		ImmediateKillInterval:          cfg.ImmediateKillInterval,
		ImmediateKillIntervalIncrement: cfg.ImmediateKillIntervalIncrement,
		ImmediateKillTimeout:           cfg.ImmediateKillTimeout,

		ReloadSignal: syscall.SIGHUP,
	}
}
