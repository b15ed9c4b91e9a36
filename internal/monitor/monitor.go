package monitor

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Callbacks contains optional callback functions for monitor events.
type Callbacks struct {
	// OnKillSignal is called after a kill signal was delivered.
	OnKillSignal func(workerID int, stage KillStage, sig syscall.Signal)

	// OnEscalate is called when the monitor enters the immediate stage
	// on its own (heartbeat timeout or graceful deadline).
	OnEscalate func(workerID int, reason string)

	// OnReap is called once when the worker has been reaped.
	OnReap func(workerID int, status *Status, uptime time.Duration)
}

// Monitor tracks one worker's health and executes the staged kill protocol
// against it. All mutating methods are safe for concurrent use; Alive is
// lock-free.
type Monitor struct {
	workerID int
	tuning   Tuning
	sig      Signaler
	logger   *slog.Logger
	cb       Callbacks

	alive atomic.Bool

	mu        sync.Mutex
	pid       int
	stage     KillStage
	startTime time.Time

	lastHeartbeat      time.Time
	nextKill           time.Time
	gracefulKillStart  time.Time
	immediateKillStart time.Time
	killCount          int

	status *Status
}

// New creates a Monitor for a freshly spawned worker. now doubles as the
// initial heartbeat timestamp so a slow-starting worker gets the full
// heartbeat timeout before being presumed dead.
func New(workerID, pid int, now time.Time, tuning Tuning, sig Signaler, logger *slog.Logger, cb Callbacks) *Monitor {
	if sig == nil {
		sig = OSSignaler{}
	}
	m := &Monitor{
		workerID:      workerID,
		tuning:        tuning,
		sig:           sig,
		logger:        logger,
		cb:            cb,
		pid:           pid,
		stage:         StageNone,
		startTime:     now,
		lastHeartbeat: now,
	}
	m.alive.Store(true)
	return m
}

// WorkerID returns the slot index this monitor occupies.
func (m *Monitor) WorkerID() int {
	return m.workerID
}

// Alive reports whether the worker is still considered live.
func (m *Monitor) Alive() bool {
	return m.alive.Load()
}

// Pid returns the worker's pid, or 0 once it has been reaped.
func (m *Monitor) Pid() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pid
}

// Stage returns the current kill stage.
func (m *Monitor) Stage() KillStage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// KillCount returns the number of kill signals sent in the current stage.
func (m *Monitor) KillCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killCount
}

// StartTime returns when the worker was spawned.
func (m *Monitor) StartTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startTime
}

// LastHeartbeat returns the time of the most recent heartbeat.
func (m *Monitor) LastHeartbeat() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeartbeat
}

// HeartbeatDelay returns how long the worker has been silent as of now.
func (m *Monitor) HeartbeatDelay(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return now.Sub(m.lastHeartbeat)
}

// Status returns the terminal status, or nil while the worker is running.
func (m *Monitor) Status() *Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// MarkHeartbeat records a heartbeat observed at now. Called by the process
// manager's tick loop before any kill-state advances in the same iteration.
func (m *Monitor) MarkHeartbeat(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHeartbeat = now
}

// SendStop requests shutdown of the worker. With graceful=true the graceful
// stage begins; otherwise the immediate stage. Idempotent: timestamps that
// are already set do not move.
func (m *Monitor) SendStop(graceful bool, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pid == 0 {
		return
	}
	if graceful {
		if m.gracefulKillStart.IsZero() && m.immediateKillStart.IsZero() {
			m.gracefulKillStart = now
			m.nextKill = now
			m.stage = StageGraceful
			m.logger.Debug("graceful_stop_requested", "worker_id", m.workerID, "pid", m.pid)
		}
		return
	}
	m.startImmediateStopLocked(now, "stop_requested")
}

// StartImmediateStop forces entry into the immediate stage, used by the
// process manager when a heartbeat pipe reaches EOF. Idempotent.
func (m *Monitor) StartImmediateStop(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pid == 0 {
		return
	}
	m.startImmediateStopLocked(now, "pipe_closed")
}

// startImmediateStopLocked enters the immediate stage if not already there.
func (m *Monitor) startImmediateStopLocked(now time.Time, reason string) {
	if !m.immediateKillStart.IsZero() {
		return
	}
	m.immediateKillStart = now
	m.nextKill = now
	m.killCount = 0
	m.stage = StageImmediate
	m.logger.Debug("immediate_stop_started",
		"worker_id", m.workerID,
		"pid", m.pid,
		"reason", reason,
	)
}

// SendReload delivers the reload signal best-effort; errors are swallowed.
func (m *Monitor) SendReload() {
	m.mu.Lock()
	pid := m.pid
	m.mu.Unlock()
	if pid == 0 {
		return
	}
	if err := m.sig.Kill(pid, m.tuning.ReloadSignal); err != nil {
		m.logger.Debug("reload_signal_failed", "worker_id", m.workerID, "pid", pid, "error", err)
	}
}

// TryJoin attempts a non-blocking reap. It returns the terminal status and
// done=true once the worker is gone (status may carry only an error when the
// reap itself failed), or done=false while the worker is still running.
func (m *Monitor) TryJoin() (*Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tryJoinLocked()
}

// Join blocks until the worker has been reaped. The monitor lock is not
// held across the wait so the tick loop can keep sending kill signals.
func (m *Monitor) Join() *Status {
	m.mu.Lock()
	if m.pid == 0 {
		st := m.status
		m.mu.Unlock()
		return st
	}
	pid := m.pid
	m.mu.Unlock()

	st, err := m.sig.Wait(pid, true)
	if err != nil {
		st = &Status{Pid: pid, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pid != 0 {
		m.finishLocked(st)
	} else if m.status != nil {
		st = m.status
	}
	return st
}

// Tick advances the kill state machine using the shared per-iteration clock.
// It returns true while the monitor should stay registered and false once
// the pid has been cleared.
func (m *Monitor) Tick(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pid == 0 {
		return false
	}

	// A silent worker is presumed dead and is shot, whether or not anyone
	// asked for shutdown.
	if delay := now.Sub(m.lastHeartbeat); delay >= m.tuning.HeartbeatTimeout {
		if m.immediateKillStart.IsZero() {
			m.logger.Warn("heartbeat_timeout",
				"worker_id", m.workerID,
				"pid", m.pid,
				"delay", delay.String(),
			)
			if m.cb.OnEscalate != nil {
				m.cb.OnEscalate(m.workerID, "heartbeat_timeout")
			}
		}
		m.startImmediateStopLocked(now, "heartbeat_timeout")
	}

	// Graceful deadline exceeded.
	if !m.gracefulKillStart.IsZero() && m.tuning.GracefulKillTimeout > 0 &&
		now.Sub(m.gracefulKillStart) >= m.tuning.GracefulKillTimeout {
		if m.immediateKillStart.IsZero() && m.cb.OnEscalate != nil {
			m.cb.OnEscalate(m.workerID, "graceful_timeout")
		}
		m.startImmediateStopLocked(now, "graceful_timeout")
	}

	// Immediate deadline exceeded: from here on the unconditional kill is
	// used, carrying the immediate stage's interval and increment. The
	// first SIGKILL goes out this tick, not at the backed-off slot.
	if m.stage == StageImmediate &&
		now.Sub(m.immediateKillStart) >= m.tuning.ImmediateKillTimeout {
		m.stage = StageForce
		m.killCount = 0
		m.nextKill = now
		m.logger.Warn("force_kill_engaged", "worker_id", m.workerID, "pid", m.pid)
	}

	if !m.nextKill.IsZero() && !now.Before(m.nextKill) {
		if !m.killLocked(now) {
			return false
		}
	}

	// While a kill stage is active the pipe may already be gone, so the
	// reap is attempted here every tick.
	if m.stage.IsKilling() {
		if _, done := m.tryJoinLocked(); done {
			return false
		}
	}

	return true
}

// killLocked sends the current stage's signal and reschedules the next one
// with linear backoff. Returns false if the worker turned out to be gone.
func (m *Monitor) killLocked(now time.Time) bool {
	var sig syscall.Signal
	var interval, increment time.Duration

	switch m.stage {
	case StageGraceful:
		sig = m.tuning.GracefulKillSignal
		interval = m.tuning.GracefulKillInterval
		increment = m.tuning.GracefulKillIntervalIncrement
	case StageImmediate, StageForce:
		sig = m.tuning.ImmediateKillSignal
		if m.stage == StageForce {
			sig = syscall.SIGKILL
		}
		interval = m.tuning.ImmediateKillInterval
		increment = m.tuning.ImmediateKillIntervalIncrement
	default:
		// No kill scheduled outside a kill stage.
		m.nextKill = time.Time{}
		return true
	}

	if err := m.sig.Kill(m.pid, sig); err != nil {
		if IsGone(err) {
			// The pid vanished between scheduling and delivery. Reap if
			// the status is still collectable, then give up the slot.
			st, _ := m.sig.Wait(m.pid, false)
			if st == nil {
				st = &Status{Pid: m.pid, Err: err}
			}
			m.finishLocked(st)
			return false
		}
		m.logger.Warn("kill_signal_failed",
			"worker_id", m.workerID,
			"pid", m.pid,
			"signal", sig.String(),
			"error", err,
		)
	} else {
		m.logger.Debug("kill_signal_sent",
			"worker_id", m.workerID,
			"pid", m.pid,
			"stage", m.stage.String(),
			"signal", sig.String(),
			"kill_count", m.killCount,
		)
		if m.cb.OnKillSignal != nil {
			m.cb.OnKillSignal(m.workerID, m.stage, sig)
		}
	}

	m.nextKill = now.Add(interval + time.Duration(m.killCount)*increment)
	m.killCount++
	return true
}

// tryJoinLocked is the non-blocking reap with child-gone collapsing.
func (m *Monitor) tryJoinLocked() (*Status, bool) {
	if m.pid == 0 {
		return m.status, true
	}
	st, err := m.sig.Wait(m.pid, false)
	if err != nil {
		if IsGone(err) {
			st = &Status{Pid: m.pid, Err: err}
			m.finishLocked(st)
			return st, true
		}
		m.logger.Warn("reap_failed", "worker_id", m.workerID, "pid", m.pid, "error", err)
		return nil, false
	}
	if st == nil {
		// Still running.
		return nil, false
	}
	m.finishLocked(st)
	return st, true
}

// finishLocked records the terminal status and clears the pid. After this
// no further signals are sent and the monitor reports not-alive.
func (m *Monitor) finishLocked(st *Status) {
	uptime := time.Since(m.startTime)
	m.status = st
	m.pid = 0
	m.stage = StageTerminal
	m.nextKill = time.Time{}
	m.alive.Store(false)

	m.logger.Info("worker_reaped",
		"worker_id", m.workerID,
		"pid", st.Pid,
		"exit_code", st.ExitCode(),
		"uptime", uptime.String(),
	)
	if m.cb.OnReap != nil {
		m.cb.OnReap(m.workerID, st, uptime)
	}
}
