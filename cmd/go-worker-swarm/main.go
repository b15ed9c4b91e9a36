// Package main provides the go-worker-swarm CLI entry point.
//
// go-worker-swarm is a multi-worker process supervisor: it keeps N worker
// processes alive, watches their heartbeat pipes for liveness, and runs
// unresponsive workers down with a staged kill protocol.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-worker-swarm/internal/config"
	"github.com/randomizedcoder/go-worker-swarm/internal/logging"
	"github.com/randomizedcoder/go-worker-swarm/internal/orchestrator"
	"github.com/randomizedcoder/go-worker-swarm/internal/procman"
	"github.com/randomizedcoder/go-worker-swarm/internal/tui"
	"github.com/randomizedcoder/go-worker-swarm/internal/worker"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-worker-swarm
var version = "dev"

func main() {
	// Re-executed as a demo worker child.
	if os.Getenv("SWARM_DEMO_WORKER") == "1" {
		worker.Main(runDemoWorker)
		return
	}

	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-worker-swarm %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// When the TUI owns the terminal, logs are suppressed.
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	builder := workerBuilder(cfg)

	logger.Info("starting",
		"version", version,
		"workers", cfg.Workers,
		"worker", builder.Name(),
		"heartbeat_interval", cfg.HeartbeatInterval.String(),
		"heartbeat_timeout", cfg.HeartbeatTimeout.String(),
		"metrics_addr", cfg.MetricsAddr,
	)

	if !cfg.TUIEnabled {
		printBanner(cfg, builder.Name())
	}

	orch := orchestrator.New(cfg, logger, builder, version)

	var program *tea.Program
	if cfg.TUIEnabled {
		model := tui.New(tui.Config{
			MetricsAddr: cfg.MetricsAddr,
			Slots:       orch.Controller(),
			Stats:       orch.Tracker(),
		})
		program = tea.NewProgram(model, tea.WithAltScreen())
		go func() {
			// A quit from the dashboard stops the swarm.
			_, _ = program.Run()
			orch.Controller().Stop(true)
		}()
	}

	err = orch.Run(context.Background())

	if program != nil {
		program.Quit()
	}

	orch.WriteSummary()

	if err != nil {
		logger.Error("supervisor_failed", "error", err)
		return 1
	}
	return 0
}

// workerBuilder picks the supervised command: the provided argv, or this
// binary re-executed as a demo worker.
func workerBuilder(cfg *config.Config) procman.CommandBuilder {
	if len(cfg.WorkerCommand) > 0 {
		return &procman.WorkerCommandBuilder{Argv: cfg.WorkerCommand}
	}

	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}
	return &procman.WorkerCommandBuilder{
		Argv: []string{self},
		Env:  []string{"SWARM_DEMO_WORKER=1"},
	}
}

// runDemoWorker is the built-in worker body: heartbeat until told to stop.
func runDemoWorker(t *worker.Target) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			slog.Info("demo_worker_reload")
		default:
			slog.Info("demo_worker_stopping", "signal", sig.String())
			return nil
		}
	}
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config, workerName string) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        go-worker-swarm                            ║")
	fmt.Println("║        Multi-Worker Process Supervision with Heartbeats           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Workers:     %d × %s\n", cfg.Workers, workerName)
	fmt.Printf("  Heartbeat:   every %s, timeout %s\n", cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
	fmt.Printf("  Kill chain:  %s → %s → KILL\n", cfg.GracefulKillSignal, cfg.ImmediateKillSignal)
	fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	if cfg.StartWorkerDelay > 0 {
		fmt.Printf("  Stagger:     %s ± %.0f%%\n", cfg.StartWorkerDelay, cfg.StartWorkerDelayRand*50)
	}
	if cfg.ConfigFile != "" {
		fmt.Printf("  Config:      %s (live reload)\n", cfg.ConfigFile)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}
