package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Errorf("DefaultConfig should validate, got %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "negative workers",
			mutate:    func(c *Config) { c.Workers = -1 },
			wantField: "workers",
		},
		{
			name:      "negative start delay",
			mutate:    func(c *Config) { c.StartWorkerDelay = -time.Second },
			wantField: "start_worker_delay",
		},
		{
			name:      "jitter above one",
			mutate:    func(c *Config) { c.StartWorkerDelayRand = 1.5 },
			wantField: "start_worker_delay_rand",
		},
		{
			name:      "zero heartbeat interval",
			mutate:    func(c *Config) { c.HeartbeatInterval = 0 },
			wantField: "heartbeat_interval",
		},
		{
			name:      "heartbeat timeout below interval",
			mutate:    func(c *Config) { c.HeartbeatTimeout = 500 * time.Millisecond },
			wantField: "heartbeat_timeout",
		},
		{
			name:      "unknown graceful signal",
			mutate:    func(c *Config) { c.GracefulKillSignal = "BOGUS" },
			wantField: "graceful_kill_signal",
		},
		{
			name:      "unknown immediate signal",
			mutate:    func(c *Config) { c.ImmediateKillSignal = "NOPE" },
			wantField: "immediate_kill_signal",
		},
		{
			name:      "zero graceful interval",
			mutate:    func(c *Config) { c.GracefulKillInterval = 0 },
			wantField: "graceful_kill_interval",
		},
		{
			name:      "negative graceful increment",
			mutate:    func(c *Config) { c.GracefulKillIntervalIncrement = -time.Second },
			wantField: "graceful_kill_interval_increment",
		},
		{
			name:      "zero immediate timeout",
			mutate:    func(c *Config) { c.ImmediateKillTimeout = 0 },
			wantField: "immediate_kill_timeout",
		},
		{
			name:      "zero tick interval",
			mutate:    func(c *Config) { c.TickInterval = 0 },
			wantField: "tick_interval",
		},
		{
			name:      "bad cloexec mode",
			mutate:    func(c *Config) { c.CloexecMode = "sideways" },
			wantField: "cloexec_mode",
		},
		{
			name:      "bad log format",
			mutate:    func(c *Config) { c.LogFormat = "yaml" },
			wantField: "log_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("error %q does not mention field %q", err, tt.wantField)
			}
		})
	}
}

func TestValidate_GracefulTimeoutOffIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GracefulKillTimeout = -1
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled graceful timeout should validate, got %v", err)
	}
}

func TestValidate_ZeroWorkersIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0
	if err := Validate(cfg); err != nil {
		t.Errorf("zero workers should validate (drained pool), got %v", err)
	}
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"TERM", "terminated", false},
		{"SIGTERM", "terminated", false},
		{"term", "terminated", false},
		{"QUIT", "quit", false},
		{"KILL", "killed", false},
		{"HUP", "hangup", false},
		{"USR2", "user defined signal 2", false},
		{"BOGUS", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			sig, err := ParseSignal(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseSignal(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSignal(%q) failed: %v", tt.in, err)
			}
			if got := sig.String(); got != tt.want {
				t.Errorf("ParseSignal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMustSignal_PanicsOnUnknown(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustSignal should panic on an unknown name")
		}
	}()
	MustSignal("NOTASIGNAL")
}
