package stats

import (
	"strings"
	"testing"
	"time"
)

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker(3)

	tr.WorkerStarted(0)
	tr.WorkerStarted(1)
	tr.WorkerReaped(0, 0, 30*time.Second)
	tr.WorkerReaped(1, 137, 5*time.Second)
	tr.LiveCount(2)
	tr.LiveCount(1)

	s := tr.Snapshot()
	if s.TotalStarts != 2 {
		t.Errorf("TotalStarts = %d, want 2", s.TotalStarts)
	}
	if s.TotalReaps != 2 {
		t.Errorf("TotalReaps = %d, want 2", s.TotalReaps)
	}
	if s.CleanExits != 1 || s.ErrorExits != 1 {
		t.Errorf("Clean/Error = %d/%d, want 1/1", s.CleanExits, s.ErrorExits)
	}
	if s.ExitCodes[0] != 1 || s.ExitCodes[137] != 1 {
		t.Errorf("ExitCodes = %v, want {0:1, 137:1}", s.ExitCodes)
	}
	if s.PeakLive != 2 {
		t.Errorf("PeakLive = %d, want 2", s.PeakLive)
	}
	if s.TargetWorkers != 3 {
		t.Errorf("TargetWorkers = %d, want 3", s.TargetWorkers)
	}
}

func TestTracker_UptimePercentiles(t *testing.T) {
	tr := NewTracker(1)

	for i := 1; i <= 100; i++ {
		tr.WorkerReaped(0, 0, time.Duration(i)*time.Second)
	}

	s := tr.Snapshot()
	if s.UptimeP50 < 40*time.Second || s.UptimeP50 > 60*time.Second {
		t.Errorf("UptimeP50 = %v, want ~50s", s.UptimeP50)
	}
	if s.UptimeP95 < 85*time.Second || s.UptimeP95 > 100*time.Second {
		t.Errorf("UptimeP95 = %v, want ~95s", s.UptimeP95)
	}
	if s.UptimeP99 < s.UptimeP95 {
		t.Errorf("UptimeP99 (%v) < UptimeP95 (%v)", s.UptimeP99, s.UptimeP95)
	}
}

func TestTracker_HeartbeatGaps(t *testing.T) {
	tr := NewTracker(1)

	t0 := time.Now()
	for i := 0; i < 10; i++ {
		tr.HeartbeatObserved(0, t0.Add(time.Duration(i)*time.Second))
	}

	s := tr.Snapshot()
	if s.HeartbeatCount != 10 {
		t.Errorf("HeartbeatCount = %d, want 10", s.HeartbeatCount)
	}
	if s.HeartbeatGapP50 < 900*time.Millisecond || s.HeartbeatGapP50 > 1100*time.Millisecond {
		t.Errorf("HeartbeatGapP50 = %v, want ~1s", s.HeartbeatGapP50)
	}
}

func TestTracker_RestartResetsGapBaseline(t *testing.T) {
	tr := NewTracker(1)

	t0 := time.Now()
	tr.HeartbeatObserved(0, t0)
	tr.WorkerReaped(0, 1, time.Second)
	// A long dead period must not count as a heartbeat gap.
	tr.WorkerStarted(0)
	tr.HeartbeatObserved(0, t0.Add(time.Hour))
	tr.HeartbeatObserved(0, t0.Add(time.Hour+time.Second))

	s := tr.Snapshot()
	if s.HeartbeatGapP99 > 2*time.Second {
		t.Errorf("HeartbeatGapP99 = %v; the restart gap leaked into the digest", s.HeartbeatGapP99)
	}
}

func TestTracker_EmptySnapshot(t *testing.T) {
	s := NewTracker(2).Snapshot()
	if s.TotalStarts != 0 || s.TotalReaps != 0 || s.HeartbeatCount != 0 {
		t.Errorf("empty snapshot has counts: %+v", s)
	}
	if s.UptimeP50 != 0 {
		t.Errorf("UptimeP50 = %v with no reaps, want 0", s.UptimeP50)
	}
}

func TestWriteSummary(t *testing.T) {
	tr := NewTracker(2)
	tr.WorkerStarted(0)
	tr.WorkerReaped(0, 143, 12*time.Second)
	tr.HeartbeatObserved(0, time.Now())

	var sb strings.Builder
	WriteSummary(&sb, tr.Snapshot())
	out := sb.String()

	for _, want := range []string{
		"Exit Summary",
		"Target Workers:         2",
		"Total Starts:",
		"(SIGTERM)",
		"Heartbeats:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q\n%s", want, out)
		}
	}
}
