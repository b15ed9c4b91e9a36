package config

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// duration decodes TOML strings like "500ms" via time.ParseDuration.
type duration time.Duration

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// fileConfig mirrors Config for TOML decoding. Pointer fields distinguish
// "key absent" from a zero value so the file only overrides what it names.
type fileConfig struct {
	Workers              *int      `toml:"workers"`
	StartWorkerDelay     *duration `toml:"start_worker_delay"`
	StartWorkerDelayRand *float64  `toml:"start_worker_delay_rand"`

	HeartbeatInterval     *duration `toml:"heartbeat_interval"`
	HeartbeatTimeout      *duration `toml:"heartbeat_timeout"`
	AutoHeartbeat         *bool     `toml:"auto_heartbeat"`
	AbortOnHeartbeatError *bool     `toml:"abort_on_heartbeat_error"`

	GracefulKillSignal             *string   `toml:"graceful_kill_signal"`
	ImmediateKillSignal            *string   `toml:"immediate_kill_signal"`
	GracefulKillInterval           *duration `toml:"graceful_kill_interval"`
	GracefulKillIntervalIncrement  *duration `toml:"graceful_kill_interval_increment"`
	GracefulKillTimeout            *duration `toml:"graceful_kill_timeout"`
	ImmediateKillInterval          *duration `toml:"immediate_kill_interval"`
	ImmediateKillIntervalIncrement *duration `toml:"immediate_kill_interval_increment"`
	ImmediateKillTimeout           *duration `toml:"immediate_kill_timeout"`

	AutoTick     *bool     `toml:"auto_tick"`
	TickInterval *duration `toml:"tick_interval"`

	CloexecMode *string `toml:"cloexec_mode"`

	WorkerCommand []string `toml:"worker_command"`

	MetricsAddr *string `toml:"metrics_addr"`
	LogFormat   *string `toml:"log_format"`
	LogLevel    *string `toml:"log_level"`
	Verbose     *bool   `toml:"verbose"`
	TUIEnabled  *bool   `toml:"tui"`
}

// LoadFile decodes a TOML config file over the given Config in place.
// Only keys present in the file are applied; unknown keys are rejected so
// typos surface immediately.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

// apply copies every key the file provided onto cfg.
func (fc *fileConfig) apply(cfg *Config) {
	setInt(&cfg.Workers, fc.Workers)
	setDur(&cfg.StartWorkerDelay, fc.StartWorkerDelay)
	setFloat(&cfg.StartWorkerDelayRand, fc.StartWorkerDelayRand)

	setDur(&cfg.HeartbeatInterval, fc.HeartbeatInterval)
	setDur(&cfg.HeartbeatTimeout, fc.HeartbeatTimeout)
	setBool(&cfg.AutoHeartbeat, fc.AutoHeartbeat)
	setBool(&cfg.AbortOnHeartbeatError, fc.AbortOnHeartbeatError)

	setString(&cfg.GracefulKillSignal, fc.GracefulKillSignal)
	setString(&cfg.ImmediateKillSignal, fc.ImmediateKillSignal)
	setDur(&cfg.GracefulKillInterval, fc.GracefulKillInterval)
	setDur(&cfg.GracefulKillIntervalIncrement, fc.GracefulKillIntervalIncrement)
	setDur(&cfg.GracefulKillTimeout, fc.GracefulKillTimeout)
	setDur(&cfg.ImmediateKillInterval, fc.ImmediateKillInterval)
	setDur(&cfg.ImmediateKillIntervalIncrement, fc.ImmediateKillIntervalIncrement)
	setDur(&cfg.ImmediateKillTimeout, fc.ImmediateKillTimeout)

	setBool(&cfg.AutoTick, fc.AutoTick)
	setDur(&cfg.TickInterval, fc.TickInterval)

	if fc.CloexecMode != nil {
		cfg.CloexecMode = CloexecMode(*fc.CloexecMode)
	}

	if len(fc.WorkerCommand) > 0 {
		cfg.WorkerCommand = fc.WorkerCommand
	}

	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	setString(&cfg.LogFormat, fc.LogFormat)
	setString(&cfg.LogLevel, fc.LogLevel)
	setBool(&cfg.Verbose, fc.Verbose)
	setBool(&cfg.TUIEnabled, fc.TUIEnabled)
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDur(dst *time.Duration, src *duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

// MergeFile layers a TOML file under already-parsed flags: file values
// overwrite the in-memory config, then every flag the user set explicitly
// is re-applied so the command line always wins.
func MergeFile(cfg *Config, path string, setFlags map[string]string) error {
	if err := LoadFile(cfg, path); err != nil {
		return err
	}
	for name, value := range setFlags {
		if name == "config" {
			continue
		}
		if err := flag.Set(name, value); err != nil {
			return fmt.Errorf("re-apply flag -%s: %w", name, err)
		}
	}
	return nil
}
