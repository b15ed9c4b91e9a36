// Package orchestrator wires the supervisor together: process manager,
// controller, metrics, live reload, and the signal-driven run loop.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-worker-swarm/internal/config"
	"github.com/randomizedcoder/go-worker-swarm/internal/controller"
	"github.com/randomizedcoder/go-worker-swarm/internal/metrics"
	"github.com/randomizedcoder/go-worker-swarm/internal/monitor"
	"github.com/randomizedcoder/go-worker-swarm/internal/procman"
	"github.com/randomizedcoder/go-worker-swarm/internal/stats"
)

// Orchestrator coordinates all components of a supervision run.
type Orchestrator struct {
	cfg    *config.Config
	logger *slog.Logger

	pm            *procman.Manager
	ctrl          *controller.Controller
	tracker       *stats.Tracker
	metricsServer *metrics.Server
	watcher       *config.Watcher
}

// New creates an Orchestrator with the given configuration and worker
// command builder.
func New(cfg *config.Config, logger *slog.Logger, builder procman.CommandBuilder, version string) *Orchestrator {
	metrics.Register()
	metrics.SetInfo(version, builder.Name())
	metrics.SetTargetWorkers(cfg.Workers)

	tracker := stats.NewTracker(cfg.Workers)

	pm := procman.New(procman.ManagerConfig{
		Config:  cfg,
		Logger:  logger,
		Builder: builder,
		Callbacks: monitor.Callbacks{
			OnKillSignal: func(workerID int, stage monitor.KillStage, sig syscall.Signal) {
				metrics.KillSignalSent(stage.String())
			},
			OnEscalate: func(workerID int, reason string) {
				metrics.Escalated(reason)
			},
			OnReap: func(workerID int, st *monitor.Status, uptime time.Duration) {
				metrics.WorkerReaped(st.ExitCode(), uptime)
				tracker.WorkerReaped(workerID, st.ExitCode(), uptime)
			},
		},
		OnHeartbeat: func(workerID int) {
			metrics.HeartbeatReceived()
			tracker.HeartbeatObserved(workerID, time.Now())
		},
	})

	// With auto-tick the keepalive cadence stays at its coarse default;
	// otherwise the controller shares the tick interval.
	waitTick := time.Duration(0)
	if !cfg.AutoTick {
		waitTick = cfg.TickInterval
	}

	ctrl := controller.New(controller.Config{
		Workers:              cfg.Workers,
		StartWorkerDelay:     cfg.StartWorkerDelay,
		StartWorkerDelayRand: cfg.StartWorkerDelayRand,
		WaitTick:             waitTick,
		Logger:               logger,
		StartWorker: func(ctx context.Context, workerID int) (*monitor.Monitor, error) {
			mon, err := pm.Spawn(ctx, workerID)
			if err == nil {
				metrics.WorkerSpawned()
				tracker.WorkerStarted(workerID)
			}
			return mon, err
		},
		OnLiveCount: func(n int) {
			metrics.SetLiveWorkers(n)
			tracker.LiveCount(n)
		},
	})

	return &Orchestrator{
		cfg:           cfg,
		logger:        logger,
		pm:            pm,
		ctrl:          ctrl,
		tracker:       tracker,
		metricsServer: metrics.NewServer(cfg.MetricsAddr, logger),
	}
}

// Controller exposes the worker-pool controller, mainly for the TUI.
func (o *Orchestrator) Controller() *controller.Controller {
	return o.ctrl
}

// Tracker exposes the stats tracker, mainly for the TUI.
func (o *Orchestrator) Tracker() *stats.Tracker {
	return o.tracker
}

// Run supervises until a stop signal drains the pool. SIGTERM/SIGINT stop
// gracefully, SIGQUIT stops immediately, SIGHUP restarts all workers
// (preserving slot ids), SIGUSR2 forwards a reload to the workers.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.metricsServer.Start(); err != nil {
		return err
	}

	// Without auto-tick the orchestrator drives the supervisor loop itself.
	if !o.cfg.AutoTick {
		go o.tickLoop()
	}

	if o.cfg.ConfigFile != "" {
		o.watcher = config.NewWatcher(o.cfg.ConfigFile, o.logger)
		o.watcher.OnReload(o.applyReload)
		if err := o.watcher.Start(); err != nil {
			o.logger.Warn("config_watcher_start_failed", "error", err)
			o.watcher = nil
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	o.logger.Info("supervisor_starting",
		"workers", o.cfg.Workers,
		"heartbeat_timeout", o.cfg.HeartbeatTimeout.String(),
		"metrics_addr", o.cfg.MetricsAddr,
	)

	for {
		restart := o.superviseOnce(ctx, sigCh)
		if restart && ctx.Err() == nil {
			o.logger.Info("restarting_workers")
			o.ctrl.ClearStopRequest()
			continue
		}
		break
	}

	o.shutdown()
	return nil
}

// superviseOnce runs the controller until it drains, forwarding signals.
// Returns true when the drain was a restart request.
func (o *Orchestrator) superviseOnce(ctx context.Context, sigCh <-chan os.Signal) (restart bool) {
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		o.ctrl.Run(ctx)
	}()

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				o.logger.Info("received_signal", "signal", sig.String(), "action", "graceful_stop")
				o.ctrl.Stop(true)
			case syscall.SIGQUIT:
				o.logger.Info("received_signal", "signal", sig.String(), "action", "immediate_stop")
				o.ctrl.Stop(false)
			case syscall.SIGHUP:
				o.logger.Info("received_signal", "signal", sig.String(), "action", "restart")
				restart = true
				o.ctrl.Restart(true)
			case syscall.SIGUSR2:
				o.logger.Info("received_signal", "signal", sig.String(), "action", "reload")
				o.ctrl.Reload()
			}
		case <-runDone:
			return restart
		}
	}
}

// tickLoop drives the process manager when auto-tick is disabled.
func (o *Orchestrator) tickLoop() {
	for {
		if err := o.pm.Tick(o.cfg.TickInterval); err != nil {
			if errors.Is(err, procman.ErrAlreadyClosed) {
				return
			}
			o.logger.Warn("tick_failed", "error", err)
		}
	}
}

// applyReload applies a freshly loaded config: target worker count changes
// take effect through Scale, and workers get the reload signal.
func (o *Orchestrator) applyReload(newCfg *config.Config) {
	if newCfg.Workers != o.ctrl.NumWorkers() {
		o.ctrl.Scale(newCfg.Workers)
		o.tracker.SetTargetWorkers(newCfg.Workers)
		metrics.SetTargetWorkers(newCfg.Workers)
	}
	o.ctrl.Reload()
}

// shutdown releases everything after the pool has drained.
func (o *Orchestrator) shutdown() {
	if o.watcher != nil {
		o.watcher.Stop()
	}

	o.pm.Close()
	if done := o.pm.AutoTickDone(); done != nil {
		select {
		case <-done:
		case <-time.After(2 * o.cfg.TickInterval):
			o.logger.Warn("auto_tick_stop_timeout")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
		o.logger.Warn("metrics_server_shutdown_error", "error", err)
	}

	o.logger.Info("supervisor_stopped")
}

// WriteSummary prints the end-of-run summary and, when verbose, the final
// metric families in Prometheus text format.
func (o *Orchestrator) WriteSummary() {
	stats.WriteSummary(os.Stdout, o.tracker.Snapshot())
	if o.cfg.Verbose {
		if err := metrics.WriteSnapshot(os.Stdout); err != nil {
			o.logger.Warn("metrics_snapshot_failed", "error", err)
		}
	}
}
