// Package procman owns the heartbeat pipes and the supervisor tick loop.
//
// The Manager spawns workers with a private heartbeat pipe, multiplexes
// heartbeat reads across all live pipes with poll(2), and drives every
// Monitor's kill state machine on a single per-iteration clock.
package procman

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-worker-swarm/internal/config"
	"github.com/randomizedcoder/go-worker-swarm/internal/monitor"
)

// ErrAlreadyClosed is returned by Tick and Spawn once Close has been called.
// The auto-tick loop treats it as its shutdown signal.
var ErrAlreadyClosed = errors.New("procman: manager already closed")

// heartbeatReadChunk bounds how much is drained from one pipe per ready
// event. Heartbeats are single bytes; anything read counts as liveness.
const heartbeatReadChunk = 1024

// pipeEntry associates a read end with the Monitor that owns it. The file
// reference keeps the descriptor from being closed underneath the poll loop.
type pipeEntry struct {
	file *os.File
	mon  *monitor.Monitor
}

// ManagerConfig holds configuration for creating a Manager.
type ManagerConfig struct {
	Config  *config.Config
	Logger  *slog.Logger
	Builder CommandBuilder

	// Callbacks are forwarded to every spawned Monitor.
	Callbacks monitor.Callbacks

	// OnHeartbeat is called for each heartbeat read (metrics hook).
	OnHeartbeat func(workerID int)

	// Signaler overrides signal delivery, for tests. nil = the kernel.
	Signaler monitor.Signaler
}

// Manager spawns workers and runs the supervisor tick loop over their
// heartbeat pipes.
type Manager struct {
	cfg     *config.Config
	tuning  monitor.Tuning
	logger  *slog.Logger
	builder CommandBuilder
	cb      monitor.Callbacks
	onBeat  func(workerID int)
	sig     monitor.Signaler

	mu       sync.Mutex
	monitors []*monitor.Monitor
	pipes    map[int]*pipeEntry
	closed   bool

	readBuf []byte

	autoTickDone chan struct{}
}

// New creates a Manager. When auto_tick is enabled a background goroutine
// drives Tick until Close.
func New(mc ManagerConfig) *Manager {
	m := &Manager{
		cfg:     mc.Config,
		tuning:  monitor.TuningFromConfig(mc.Config),
		logger:  mc.Logger,
		builder: mc.Builder,
		cb:      mc.Callbacks,
		onBeat:  mc.OnHeartbeat,
		sig:     mc.Signaler,
		pipes:   make(map[int]*pipeEntry),
		readBuf: make([]byte, heartbeatReadChunk),
	}

	if mc.Config.AutoTick {
		m.autoTickDone = make(chan struct{})
		go m.autoTick()
	}

	return m
}

// autoTick drives the supervisor loop until the manager is closed.
func (m *Manager) autoTick() {
	defer close(m.autoTickDone)
	for {
		if err := m.Tick(m.cfg.TickInterval); err != nil {
			if errors.Is(err, ErrAlreadyClosed) {
				m.logger.Debug("auto_tick_stopped")
				return
			}
			m.logger.Warn("tick_failed", "error", err)
		}
	}
}

// AutoTickDone returns a channel closed when the auto-tick goroutine has
// exited, or nil when auto-tick is disabled.
func (m *Manager) AutoTickDone() <-chan struct{} {
	return m.autoTickDone
}

// Spawn starts one worker for the given slot: allocates the heartbeat pipe,
// builds and starts the child in its own process group with the pipe's
// write end as an inherited descriptor, and registers a Monitor for it.
func (m *Manager) Spawn(ctx context.Context, workerID int) (*monitor.Monitor, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrAlreadyClosed
	}
	m.mu.Unlock()

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("heartbeat pipe: %w", err)
	}
	applyCloexec(r, w, m.cfg.CloexecMode)

	cmd, err := m.builder.BuildCommand(ctx, workerID)
	if err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("build worker command: %w", err)
	}

	// ExtraFiles[i] becomes fd 3+i in the child.
	hbFD := 3 + len(cmd.ExtraFiles)
	cmd.ExtraFiles = append(cmd.ExtraFiles, w)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("SWARM_HEARTBEAT_FD=%d", hbFD),
		fmt.Sprintf("SWARM_HEARTBEAT_INTERVAL=%s", m.cfg.HeartbeatInterval),
		fmt.Sprintf("SWARM_AUTO_HEARTBEAT=%t", m.cfg.AutoHeartbeat),
		fmt.Sprintf("SWARM_HEARTBEAT_ABORT=%t", m.cfg.AbortOnHeartbeatError),
	)

	// Own process group so a Ctrl+C at the supervisor's terminal doesn't
	// bypass the staged kill protocol.
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}

	// The parent's write-end copy must go away or EOF never arrives.
	w.Close()

	if err := unix.SetNonblock(int(r.Fd()), true); err != nil {
		m.logger.Warn("set_nonblock_failed", "worker_id", workerID, "error", err)
	}

	now := time.Now()
	mon := monitor.New(workerID, cmd.Process.Pid, now, m.tuning, m.sig, m.logger, m.cb)

	m.mu.Lock()
	if m.closed {
		// Close raced the spawn; no tick loop will ever run this monitor,
		// so the child is put down here.
		m.mu.Unlock()
		r.Close()
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return nil, ErrAlreadyClosed
	}
	m.pipes[int(r.Fd())] = &pipeEntry{file: r, mon: mon}
	m.monitors = append(m.monitors, mon)
	m.mu.Unlock()

	m.logger.Info("worker_started",
		"worker_id", workerID,
		"pid", cmd.Process.Pid,
		"builder", m.builder.Name(),
	)

	return mon, nil
}

// Close releases every heartbeat pipe and refuses further work. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for fd, entry := range m.pipes {
		entry.file.Close()
		delete(m.pipes, fd)
	}
	m.logger.Debug("process_manager_closed")
}

// MonitorCount returns the number of registered monitors.
func (m *Manager) MonitorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.monitors)
}

// PipeCount returns the number of registered heartbeat pipes.
func (m *Manager) PipeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pipes)
}

// Tick runs one iteration of the supervisor loop: wait up to blockingTimeout
// for heartbeat readiness, apply all heartbeat reads, then advance every
// monitor's kill state machine with a single clock sample. Per-worker errors
// are contained; only ErrAlreadyClosed escapes.
func (m *Manager) Tick(blockingTimeout time.Duration) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	fds := make([]unix.PollFd, 0, len(m.pipes))
	for fd := range m.pipes {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	m.mu.Unlock()

	if len(fds) == 0 {
		time.Sleep(blockingTimeout)
		return m.advance(time.Now(), nil)
	}

	n, err := unix.Poll(fds, int(blockingTimeout.Milliseconds()))
	if err != nil && !errors.Is(err, unix.EINTR) {
		m.logger.Warn("poll_failed", "error", err)
	}

	if n <= 0 {
		fds = nil
	}
	return m.advance(time.Now(), fds)
}

// advance applies ready heartbeat reads and ticks every monitor, all under
// the manager lock and a single `now`.
func (m *Manager) advance(now time.Time, ready []unix.PollFd) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrAlreadyClosed
	}

	// Heartbeat updates land before any kill-state advances, so a beat
	// arriving in this iteration suppresses a same-tick escalation.
	for _, pfd := range ready {
		if pfd.Revents == 0 {
			continue
		}
		m.readHeartbeatLocked(int(pfd.Fd), now)
	}

	kept := m.monitors[:0]
	for _, mon := range m.monitors {
		if mon.Tick(now) {
			kept = append(kept, mon)
		} else {
			m.releasePipeLocked(mon)
		}
	}
	for i := len(kept); i < len(m.monitors); i++ {
		m.monitors[i] = nil
	}
	m.monitors = kept

	return nil
}

// readHeartbeatLocked drains one ready pipe. Any successful read counts as
// liveness; EOF or a hard read error evicts the pipe and presumes the worker
// is on its way out.
func (m *Manager) readHeartbeatLocked(fd int, now time.Time) {
	entry, ok := m.pipes[fd]
	if !ok {
		// Evicted earlier in this iteration.
		return
	}

	n, err := unix.Read(fd, m.readBuf)
	switch {
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR):
		// Spurious wakeup; retry next tick.
		return
	case err != nil:
		m.logger.Debug("heartbeat_read_error", "worker_id", entry.mon.WorkerID(), "error", err)
		m.evictPipeLocked(fd, entry, now)
	case n == 0:
		// EOF: the worker closed its end or exited.
		m.logger.Debug("heartbeat_pipe_eof", "worker_id", entry.mon.WorkerID())
		m.evictPipeLocked(fd, entry, now)
	default:
		entry.mon.MarkHeartbeat(now)
		if m.onBeat != nil {
			m.onBeat(entry.mon.WorkerID())
		}
	}
}

// evictPipeLocked removes a pipe from the set before its monitor is touched,
// then requests immediate stop so the state machine runs the worker down.
// Re-entering immediate stop is idempotent for monitors already past it.
func (m *Manager) evictPipeLocked(fd int, entry *pipeEntry, now time.Time) {
	delete(m.pipes, fd)
	entry.mon.StartImmediateStop(now)
	entry.file.Close()
}

// releasePipeLocked closes any pipe still registered for a monitor that has
// reached its terminal state.
func (m *Manager) releasePipeLocked(mon *monitor.Monitor) {
	for fd, entry := range m.pipes {
		if entry.mon == mon {
			entry.file.Close()
			delete(m.pipes, fd)
		}
	}
}

// applyCloexec applies the configured close-on-exec policy. os.Pipe marks
// both ends close-on-exec; the narrower modes clear the flag on the end
// that should survive an exec.
func applyCloexec(r, w *os.File, mode config.CloexecMode) {
	switch mode {
	case config.CloexecTargetOnly:
		clearCloexec(int(r.Fd()))
	case config.CloexecMonitorOnly:
		clearCloexec(int(w.Fd()))
	}
}

func clearCloexec(fd int) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return
	}
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags&^unix.FD_CLOEXEC)
}
