// Package config provides configuration management for go-worker-swarm.
package config

import "time"

// CloexecMode controls which end of the heartbeat pipe carries the
// close-on-exec flag.
type CloexecMode string

const (
	// CloexecBoth marks both pipe ends close-on-exec (default).
	CloexecBoth CloexecMode = "both"

	// CloexecTargetOnly marks only the worker-side write end.
	CloexecTargetOnly CloexecMode = "target_only"

	// CloexecMonitorOnly marks only the supervisor-side read end.
	CloexecMonitorOnly CloexecMode = "monitor_only"
)

// Config holds all configuration options for the supervisor.
type Config struct {
	// Worker pool
	Workers              int           `json:"workers" toml:"workers"`
	StartWorkerDelay     time.Duration `json:"start_worker_delay" toml:"start_worker_delay"`
	StartWorkerDelayRand float64       `json:"start_worker_delay_rand" toml:"start_worker_delay_rand"`

	// Heartbeat
	HeartbeatInterval     time.Duration `json:"heartbeat_interval" toml:"heartbeat_interval"`
	HeartbeatTimeout      time.Duration `json:"heartbeat_timeout" toml:"heartbeat_timeout"`
	AutoHeartbeat         bool          `json:"auto_heartbeat" toml:"auto_heartbeat"`
	AbortOnHeartbeatError bool          `json:"abort_on_heartbeat_error" toml:"abort_on_heartbeat_error"`

	// Kill protocol
	GracefulKillSignal             string        `json:"graceful_kill_signal" toml:"graceful_kill_signal"`
	ImmediateKillSignal            string        `json:"immediate_kill_signal" toml:"immediate_kill_signal"`
	GracefulKillInterval           time.Duration `json:"graceful_kill_interval" toml:"graceful_kill_interval"`
	GracefulKillIntervalIncrement  time.Duration `json:"graceful_kill_interval_increment" toml:"graceful_kill_interval_increment"`
	GracefulKillTimeout            time.Duration `json:"graceful_kill_timeout" toml:"graceful_kill_timeout"` // <= 0 disables the graceful deadline
	ImmediateKillInterval          time.Duration `json:"immediate_kill_interval" toml:"immediate_kill_interval"`
	ImmediateKillIntervalIncrement time.Duration `json:"immediate_kill_interval_increment" toml:"immediate_kill_interval_increment"`
	ImmediateKillTimeout           time.Duration `json:"immediate_kill_timeout" toml:"immediate_kill_timeout"`

	// Tick loop
	AutoTick     bool          `json:"auto_tick" toml:"auto_tick"`
	TickInterval time.Duration `json:"tick_interval" toml:"tick_interval"`

	// Pipe handling
	CloexecMode CloexecMode `json:"cloexec_mode" toml:"cloexec_mode"`

	// Worker command (positional arguments; empty = built-in demo worker)
	WorkerCommand []string `json:"worker_command" toml:"worker_command"`

	// Observability
	MetricsAddr string `json:"metrics_addr" toml:"metrics_addr"`
	LogFormat   string `json:"log_format" toml:"log_format"` // json, text
	LogLevel    string `json:"log_level" toml:"log_level"`
	Verbose     bool   `json:"verbose" toml:"verbose"`
	TUIEnabled  bool   `json:"tui" toml:"tui"`

	// Optional TOML config file; when set it is loaded at startup and
	// watched for live reload.
	ConfigFile string `json:"config_file" toml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Worker pool
		Workers:              1,
		StartWorkerDelay:     0,
		StartWorkerDelayRand: 0.2,

		// Heartbeat
		HeartbeatInterval:     1 * time.Second,
		HeartbeatTimeout:      60 * time.Second,
		AutoHeartbeat:         true,
		AbortOnHeartbeatError: true,

		// Kill protocol
		GracefulKillSignal:             "TERM",
		ImmediateKillSignal:            "QUIT",
		GracefulKillInterval:           2 * time.Second,
		GracefulKillIntervalIncrement:  2 * time.Second,
		GracefulKillTimeout:            -1, // Disabled
		ImmediateKillInterval:          2 * time.Second,
		ImmediateKillIntervalIncrement: 2 * time.Second,
		ImmediateKillTimeout:           60 * time.Second,

		// Tick loop
		AutoTick:     true,
		TickInterval: 1 * time.Second,

		// Pipe handling
		CloexecMode: CloexecBoth,

		// Observability
		MetricsAddr: "0.0.0.0:17092",
		LogFormat:   "json",
		LogLevel:    "info",
		TUIEnabled:  false,
	}
}
