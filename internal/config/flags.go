package config

import (
	"flag"
	"fmt"
	"os"
)

// ParseFlags parses command-line flags and returns a Config.
// Positional arguments, if any, form the worker command line.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `go-worker-swarm - multi-worker process supervision with heartbeat liveness

Usage:
  go-worker-swarm [flags] [-- worker command...]

Worker Pool Flags:
`)
		printFlagCategory([]string{"workers", "start-delay", "start-delay-rand"})

		fmt.Fprintf(os.Stderr, "\nHeartbeat:\n")
		printFlagCategory([]string{"heartbeat-interval", "heartbeat-timeout", "auto-heartbeat"})

		fmt.Fprintf(os.Stderr, "\nKill Protocol:\n")
		printFlagCategory([]string{
			"graceful-signal", "immediate-signal",
			"graceful-interval", "graceful-timeout",
			"immediate-interval", "immediate-timeout",
		})

		fmt.Fprintf(os.Stderr, "\nTick Loop:\n")
		printFlagCategory([]string{"auto-tick", "tick-interval"})

		fmt.Fprintf(os.Stderr, "\nObservability:\n")
		printFlagCategory([]string{"metrics", "log-format", "log-level", "v", "tui"})

		fmt.Fprintf(os.Stderr, "\nConfiguration:\n")
		printFlagCategory([]string{"config"})

		fmt.Fprintf(os.Stderr, `
Examples:
  # Four built-in demo workers with a 10s heartbeat timeout
  go-worker-swarm -workers 4 -heartbeat-timeout 10s

  # Supervise an external command that speaks the heartbeat protocol
  go-worker-swarm -workers 2 -- ./my-worker --queue jobs

  # Live-reloadable config file plus dashboard
  go-worker-swarm -config swarm.toml -tui

`)
	}

	// Worker pool
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of worker processes to keep alive")
	flag.DurationVar(&cfg.StartWorkerDelay, "start-delay", cfg.StartWorkerDelay, "Base stagger between worker spawns")
	flag.Float64Var(&cfg.StartWorkerDelayRand, "start-delay-rand", cfg.StartWorkerDelayRand, "Relative jitter on the spawn stagger")

	// Heartbeat
	flag.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "Heartbeat cadence inside workers")
	flag.DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout", cfg.HeartbeatTimeout, "Idle threshold before a worker is presumed dead")
	flag.BoolVar(&cfg.AutoHeartbeat, "auto-heartbeat", cfg.AutoHeartbeat, "Start the in-worker heartbeat emitter automatically")

	// Kill protocol
	flag.StringVar(&cfg.GracefulKillSignal, "graceful-signal", cfg.GracefulKillSignal, "Signal sent during graceful shutdown")
	flag.StringVar(&cfg.ImmediateKillSignal, "immediate-signal", cfg.ImmediateKillSignal, "Signal sent during immediate shutdown")
	flag.DurationVar(&cfg.GracefulKillInterval, "graceful-interval", cfg.GracefulKillInterval, "Initial resend cadence in the graceful stage")
	flag.DurationVar(&cfg.GracefulKillIntervalIncrement, "graceful-interval-increment", cfg.GracefulKillIntervalIncrement, "Linear backoff addend per graceful resend")
	flag.DurationVar(&cfg.GracefulKillTimeout, "graceful-timeout", cfg.GracefulKillTimeout, "Deadline before graceful escalates to immediate (<=0 disables)")
	flag.DurationVar(&cfg.ImmediateKillInterval, "immediate-interval", cfg.ImmediateKillInterval, "Initial resend cadence in the immediate stage")
	flag.DurationVar(&cfg.ImmediateKillIntervalIncrement, "immediate-interval-increment", cfg.ImmediateKillIntervalIncrement, "Linear backoff addend per immediate resend")
	flag.DurationVar(&cfg.ImmediateKillTimeout, "immediate-timeout", cfg.ImmediateKillTimeout, "Deadline before immediate escalates to SIGKILL")

	// Tick loop
	flag.BoolVar(&cfg.AutoTick, "auto-tick", cfg.AutoTick, "Run the supervisor tick loop in a background goroutine")
	flag.DurationVar(&cfg.TickInterval, "tick-interval", cfg.TickInterval, "Cadence for the auto-tick loop")

	// Observability
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	flag.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	// Configuration file
	flag.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "TOML config file (watched for live reload)")

	flag.Parse()

	// The config file is layered under the flags: file values apply first,
	// then explicitly-set flags win.
	if cfg.ConfigFile != "" {
		if err := MergeFile(cfg, cfg.ConfigFile, setFlagNames()); err != nil {
			return nil, err
		}
	}

	// Positional arguments: worker command (applied after the file so the
	// command line wins here too)
	if args := flag.Args(); len(args) > 0 {
		cfg.WorkerCommand = args
	}

	return cfg, nil
}

// setFlagNames collects the flags the user set explicitly, with their values.
func setFlagNames() map[string]string {
	set := make(map[string]string)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = f.Value.String()
	})
	return set
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(names []string) {
	flag.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(os.Stderr, "  -%s\n    \t%s", f.Name, f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(os.Stderr, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(os.Stderr)
				return
			}
		}
	})
}
