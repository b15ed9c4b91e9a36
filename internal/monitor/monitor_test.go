package monitor

import (
	"io"
	"log/slog"
	"sync"
	"syscall"
	"testing"
	"time"
)

// =============================================================================
// Fake Signaler
// =============================================================================

type sigEvent struct {
	pid int
	sig syscall.Signal
}

// fakeSignaler records kill calls and lets tests script the reap behavior.
type fakeSignaler struct {
	mu      sync.Mutex
	killed  []sigEvent
	killErr error

	exited     bool
	waitStatus syscall.WaitStatus
	waitErr    error
}

func (f *fakeSignaler) Kill(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killErr != nil {
		return f.killErr
	}
	f.killed = append(f.killed, sigEvent{pid: pid, sig: sig})
	return nil
}

func (f *fakeSignaler) Wait(pid int, block bool) (*Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	if !f.exited {
		return nil, nil
	}
	return &Status{Pid: pid, WaitStatus: f.waitStatus}, nil
}

func (f *fakeSignaler) signals() []syscall.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	sigs := make([]syscall.Signal, len(f.killed))
	for i, ev := range f.killed {
		sigs[i] = ev.sig
	}
	return sigs
}

func (f *fakeSignaler) markExited(ws syscall.WaitStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exited = true
	f.waitStatus = ws
}

// exitStatus fabricates a WaitStatus for a clean numeric exit.
func exitStatus(code int) syscall.WaitStatus {
	return syscall.WaitStatus(code << 8)
}

// =============================================================================
// Test Helpers
// =============================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTuning() Tuning {
	return Tuning{
		HeartbeatTimeout:               10 * time.Second,
		GracefulKillSignal:             syscall.SIGTERM,
		GracefulKillInterval:           2 * time.Second,
		GracefulKillIntervalIncrement:  2 * time.Second,
		GracefulKillTimeout:            -1,
		ImmediateKillSignal:            syscall.SIGQUIT,
		ImmediateKillInterval:          2 * time.Second,
		ImmediateKillIntervalIncrement: 2 * time.Second,
		ImmediateKillTimeout:           60 * time.Second,
		ReloadSignal:                   syscall.SIGHUP,
	}
}

func newTestMonitor(t0 time.Time, tuning Tuning) (*Monitor, *fakeSignaler) {
	sig := &fakeSignaler{}
	m := New(7, 4242, t0, tuning, sig, newTestLogger(), Callbacks{})
	return m, sig
}

// =============================================================================
// Tests: Construction and Accessors
// =============================================================================

func TestMonitor_Initial(t *testing.T) {
	t0 := time.Now()
	m, _ := newTestMonitor(t0, testTuning())

	if !m.Alive() {
		t.Error("new monitor should be alive")
	}
	if m.Pid() != 4242 {
		t.Errorf("Pid() = %d, want 4242", m.Pid())
	}
	if m.Stage() != StageNone {
		t.Errorf("Stage() = %v, want StageNone", m.Stage())
	}
	if m.KillCount() != 0 {
		t.Errorf("KillCount() = %d, want 0", m.KillCount())
	}
	if !m.LastHeartbeat().Equal(t0) {
		t.Errorf("LastHeartbeat() = %v, want creation time %v", m.LastHeartbeat(), t0)
	}
	if m.Status() != nil {
		t.Error("Status() should be nil while running")
	}
}

func TestMonitor_HeartbeatDelay(t *testing.T) {
	t0 := time.Now()
	m, _ := newTestMonitor(t0, testTuning())

	if got := m.HeartbeatDelay(t0.Add(3 * time.Second)); got != 3*time.Second {
		t.Errorf("HeartbeatDelay = %v, want 3s", got)
	}

	m.MarkHeartbeat(t0.Add(5 * time.Second))
	if got := m.HeartbeatDelay(t0.Add(6 * time.Second)); got != 1*time.Second {
		t.Errorf("HeartbeatDelay after beat = %v, want 1s", got)
	}
}

// =============================================================================
// Tests: Graceful Kill Scheduling
// =============================================================================

// TestMonitor_GracefulKillBackoff verifies the resend schedule: with a 2s
// interval and 2s increment the signals land at t=0, 2, 6, 12 (gaps 2, 4, 6).
func TestMonitor_GracefulKillBackoff(t *testing.T) {
	tuning := testTuning()
	tuning.HeartbeatTimeout = time.Hour // keep the timeout path out of this test
	t0 := time.Now()
	m, sig := newTestMonitor(t0, tuning)

	m.SendStop(true, t0)
	if m.Stage() != StageGraceful {
		t.Fatalf("Stage() = %v, want StageGraceful", m.Stage())
	}

	// Tick every 100ms of simulated time for 15s; record signal times.
	sent := make(map[int]int) // second offset -> cumulative count
	for ms := 0; ms <= 15000; ms += 100 {
		now := t0.Add(time.Duration(ms) * time.Millisecond)
		if !m.Tick(now) {
			t.Fatalf("monitor dropped unexpectedly at %dms", ms)
		}
		sent[ms/1000] = len(sig.signals())
	}

	wantTotals := map[int]int{
		0:  1, // first signal immediately
		1:  1,
		2:  2, // gap 2s
		5:  2,
		6:  3, // gap 4s
		11: 3,
		12: 4, // gap 6s
		15: 4,
	}
	for sec, want := range wantTotals {
		if sent[sec] != want {
			t.Errorf("after %ds: %d signals sent, want %d", sec, sent[sec], want)
		}
	}

	for i, s := range sig.signals() {
		if s != syscall.SIGTERM {
			t.Errorf("signal %d = %v, want SIGTERM", i, s)
		}
	}
}

func TestMonitor_SendStop_Idempotent(t *testing.T) {
	t0 := time.Now()
	m, sig := newTestMonitor(t0, testTuning())

	m.SendStop(true, t0)
	m.SendStop(true, t0.Add(5*time.Second)) // must not move the clock

	m.Tick(t0)
	if got := len(sig.signals()); got != 1 {
		t.Fatalf("signals after first tick = %d, want 1", got)
	}

	// The second SendStop at t=5s must not reschedule: next signal at t=2s.
	m.Tick(t0.Add(2 * time.Second))
	if got := len(sig.signals()); got != 2 {
		t.Errorf("signals after 2s = %d, want 2 (timestamps must not move)", got)
	}
}

// TestMonitor_GracefulDeadline covers escalation: graceful_kill_timeout=5s,
// so by t=5 the monitor is in the immediate stage with kill_count reset.
func TestMonitor_GracefulDeadline(t *testing.T) {
	tuning := testTuning()
	tuning.GracefulKillTimeout = 5 * time.Second
	t0 := time.Now()
	m, sig := newTestMonitor(t0, tuning)

	m.SendStop(true, t0)
	for ms := 0; ms <= 5000; ms += 100 {
		m.Tick(t0.Add(time.Duration(ms) * time.Millisecond))
	}

	if m.Stage() != StageImmediate {
		t.Fatalf("Stage() at t=5s = %v, want StageImmediate", m.Stage())
	}

	// Signal sequence must be TERM+ then QUIT+: stages never go backward.
	sigs := sig.signals()
	seenQuit := false
	for i, s := range sigs {
		switch s {
		case syscall.SIGQUIT:
			seenQuit = true
		case syscall.SIGTERM:
			if seenQuit {
				t.Errorf("signal %d: SIGTERM after SIGQUIT", i)
			}
		}
	}
	if !seenQuit {
		t.Error("expected at least one SIGQUIT after escalation")
	}
}

// =============================================================================
// Tests: Heartbeat Timeout Escalation
// =============================================================================

func TestMonitor_HeartbeatTimeout_Escalates(t *testing.T) {
	t0 := time.Now()
	m, sig := newTestMonitor(t0, testTuning()) // heartbeat timeout 10s

	// Quiet worker: no beats. Just before the threshold nothing happens.
	m.Tick(t0.Add(9 * time.Second))
	if m.Stage() != StageNone {
		t.Fatalf("Stage() before timeout = %v, want StageNone", m.Stage())
	}
	if len(sig.signals()) != 0 {
		t.Fatalf("no signals expected before timeout, got %d", len(sig.signals()))
	}

	// At the threshold the worker is presumed dead.
	m.Tick(t0.Add(10 * time.Second))
	if m.Stage() != StageImmediate {
		t.Errorf("Stage() at timeout = %v, want StageImmediate", m.Stage())
	}
	sigs := sig.signals()
	if len(sigs) != 1 || sigs[0] != syscall.SIGQUIT {
		t.Errorf("signals = %v, want [SIGQUIT]", sigs)
	}
}

func TestMonitor_Heartbeat_SuppressesEscalation(t *testing.T) {
	t0 := time.Now()
	m, sig := newTestMonitor(t0, testTuning())

	// A beat arriving in the same iteration (applied first) prevents the
	// timeout from firing.
	now := t0.Add(10 * time.Second)
	m.MarkHeartbeat(now)
	m.Tick(now)

	if m.Stage() != StageNone {
		t.Errorf("Stage() = %v, want StageNone after fresh heartbeat", m.Stage())
	}
	if len(sig.signals()) != 0 {
		t.Errorf("no signals expected, got %d", len(sig.signals()))
	}
}

// =============================================================================
// Tests: Immediate and Force Stages
// =============================================================================

func TestMonitor_ImmediateStop_ResetsKillCount(t *testing.T) {
	t0 := time.Now()
	m, _ := newTestMonitor(t0, testTuning())

	m.SendStop(true, t0)
	m.Tick(t0)
	m.Tick(t0.Add(2 * time.Second))
	if got := m.KillCount(); got != 2 {
		t.Fatalf("KillCount in graceful = %d, want 2", got)
	}

	m.SendStop(false, t0.Add(3*time.Second))
	if got := m.KillCount(); got != 0 {
		t.Errorf("KillCount after immediate entry = %d, want 0", got)
	}
	if m.Stage() != StageImmediate {
		t.Errorf("Stage() = %v, want StageImmediate", m.Stage())
	}
}

func TestMonitor_ForceKill_AfterImmediateTimeout(t *testing.T) {
	tuning := testTuning()
	tuning.ImmediateKillTimeout = 6 * time.Second
	t0 := time.Now()
	m, sig := newTestMonitor(t0, tuning)

	m.SendStop(false, t0)
	for ms := 0; ms <= 10000; ms += 100 {
		m.Tick(t0.Add(time.Duration(ms) * time.Millisecond))
	}

	if m.Stage() != StageForce {
		t.Fatalf("Stage() = %v, want StageForce", m.Stage())
	}

	sigs := sig.signals()
	var kills int
	for _, s := range sigs {
		if s == syscall.SIGKILL {
			kills++
		}
	}
	if kills == 0 {
		t.Error("expected at least one SIGKILL after immediate timeout")
	}

	// Prefix property: QUIT* then KILL*, never interleaved backward.
	seenKill := false
	for i, s := range sigs {
		switch s {
		case syscall.SIGKILL:
			seenKill = true
		case syscall.SIGQUIT:
			if seenKill {
				t.Errorf("signal %d: SIGQUIT after SIGKILL", i)
			}
		}
	}
}

// =============================================================================
// Tests: Child-Gone Races
// =============================================================================

func TestMonitor_KillESRCH_TreatsChildGone(t *testing.T) {
	t0 := time.Now()
	m, sig := newTestMonitor(t0, testTuning())
	sig.killErr = syscall.ESRCH
	sig.waitErr = syscall.ECHILD

	m.SendStop(false, t0)
	if keep := m.Tick(t0); keep {
		t.Error("Tick should return false when the child is gone")
	}
	if m.Alive() {
		t.Error("monitor should report not-alive")
	}
	if m.Pid() != 0 {
		t.Errorf("Pid() = %d, want 0", m.Pid())
	}
	st := m.Status()
	if st == nil || st.Err == nil {
		t.Error("Status should carry the captured error")
	}

	// No further signals once the pid is absent.
	m.SendStop(false, t0.Add(time.Second))
	m.Tick(t0.Add(2 * time.Second))
	if got := len(sig.signals()); got != 0 {
		t.Errorf("signals after death = %d, want 0", got)
	}
}

func TestMonitor_TryJoin(t *testing.T) {
	t0 := time.Now()
	m, sig := newTestMonitor(t0, testTuning())

	// Still running.
	if st, done := m.TryJoin(); done || st != nil {
		t.Errorf("TryJoin while running = (%v, %v), want (nil, false)", st, done)
	}

	// Exited with status 3.
	sig.markExited(exitStatus(3))
	st, done := m.TryJoin()
	if !done || st == nil {
		t.Fatalf("TryJoin after exit = (%v, %v), want status", st, done)
	}
	if st.ExitCode() != 3 {
		t.Errorf("ExitCode() = %d, want 3", st.ExitCode())
	}
	if m.Alive() {
		t.Error("monitor should be dead after reap")
	}

	// Already absent: done with the recorded status.
	st2, done2 := m.TryJoin()
	if !done2 || st2 != st {
		t.Errorf("second TryJoin = (%v, %v), want cached status", st2, done2)
	}
}

func TestMonitor_Tick_ReapsDuringKill(t *testing.T) {
	t0 := time.Now()
	m, sig := newTestMonitor(t0, testTuning())

	m.SendStop(false, t0)
	m.Tick(t0)
	if !m.Alive() {
		t.Fatal("still running; should be alive")
	}

	sig.markExited(exitStatus(0))
	if keep := m.Tick(t0.Add(time.Second)); keep {
		t.Error("Tick should drop the monitor once the reap succeeds")
	}
	if st := m.Status(); st == nil || !st.Success() {
		t.Errorf("Status = %+v, want clean exit", st)
	}
}

// =============================================================================
// Tests: Reload and Callbacks
// =============================================================================

func TestMonitor_SendReload(t *testing.T) {
	t0 := time.Now()
	m, sig := newTestMonitor(t0, testTuning())

	m.SendReload()
	sigs := sig.signals()
	if len(sigs) != 1 || sigs[0] != syscall.SIGHUP {
		t.Errorf("signals = %v, want [SIGHUP]", sigs)
	}

	// Swallowed errors: no panic, no state change.
	sig.killErr = syscall.ESRCH
	m.SendReload()
	if !m.Alive() {
		t.Error("reload failure must not mark the worker dead")
	}
}

func TestMonitor_Callbacks(t *testing.T) {
	t0 := time.Now()
	sig := &fakeSignaler{}

	var (
		mu        sync.Mutex
		killCalls []KillStage
		escalated []string
		reaped    int
	)
	cb := Callbacks{
		OnKillSignal: func(workerID int, stage KillStage, s syscall.Signal) {
			mu.Lock()
			killCalls = append(killCalls, stage)
			mu.Unlock()
		},
		OnEscalate: func(workerID int, reason string) {
			mu.Lock()
			escalated = append(escalated, reason)
			mu.Unlock()
		},
		OnReap: func(workerID int, st *Status, uptime time.Duration) {
			mu.Lock()
			reaped++
			mu.Unlock()
		},
	}
	m := New(3, 999, t0, testTuning(), sig, newTestLogger(), cb)

	// Heartbeat timeout escalates and sends QUIT.
	m.Tick(t0.Add(11 * time.Second))
	sig.markExited(exitStatus(1))
	m.Tick(t0.Add(12 * time.Second))

	mu.Lock()
	defer mu.Unlock()
	if len(escalated) != 1 || escalated[0] != "heartbeat_timeout" {
		t.Errorf("escalated = %v, want [heartbeat_timeout]", escalated)
	}
	if len(killCalls) == 0 || killCalls[0] != StageImmediate {
		t.Errorf("killCalls = %v, want immediate first", killCalls)
	}
	if reaped != 1 {
		t.Errorf("reaped = %d, want 1", reaped)
	}
}

// =============================================================================
// Tests: Status
// =============================================================================

func TestStatus_ExitCode(t *testing.T) {
	tests := []struct {
		name string
		st   Status
		want int
	}{
		{"clean", Status{WaitStatus: exitStatus(0)}, 0},
		{"error", Status{WaitStatus: exitStatus(1)}, 1},
		{"code 42", Status{WaitStatus: exitStatus(42)}, 42},
		{"sigkill", Status{WaitStatus: syscall.WaitStatus(int(syscall.SIGKILL))}, 137},
		{"sigterm", Status{WaitStatus: syscall.WaitStatus(int(syscall.SIGTERM))}, 143},
		{"unreaped", Status{Err: syscall.ECHILD}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.ExitCode(); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkMonitor_Alive(b *testing.B) {
	m, _ := newTestMonitor(time.Now(), testTuning())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Alive()
	}
}

func BenchmarkMonitor_Tick(b *testing.B) {
	t0 := time.Now()
	m, _ := newTestMonitor(t0, testTuning())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Tick(t0.Add(time.Duration(i) * time.Millisecond))
	}
}
