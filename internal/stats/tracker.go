// Package stats accumulates per-run supervision statistics: spawn and reap
// counts, exit code distribution, and t-digest percentiles for worker
// uptime and heartbeat cadence.
package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// Summary is a point-in-time snapshot of a supervision run.
type Summary struct {
	Duration      time.Duration
	TargetWorkers int
	PeakLive      int

	TotalStarts int64
	TotalReaps  int64
	CleanExits  int64
	ErrorExits  int64
	ExitCodes   map[int]int64

	// Uptime distribution across reaped workers.
	UptimeP50 time.Duration
	UptimeP95 time.Duration
	UptimeP99 time.Duration

	// Heartbeat gap distribution across all observed beats.
	HeartbeatGapP50 time.Duration
	HeartbeatGapP99 time.Duration
	HeartbeatCount  int64
}

// Tracker aggregates statistics from the supervision callbacks.
//
// Thread-safe: all methods can be called concurrently.
type Tracker struct {
	mu        sync.Mutex
	startTime time.Time

	targetWorkers int
	peakLive      int

	totalStarts int64
	totalReaps  int64
	cleanExits  int64
	errorExits  int64
	exitCodes   map[int]int64

	uptimes  *tdigest.TDigest
	beatGaps *tdigest.TDigest
	beats    int64
	lastBeat map[int]time.Time
}

// NewTracker creates a Tracker; the run clock starts now.
func NewTracker(targetWorkers int) *Tracker {
	return &Tracker{
		startTime:     time.Now(),
		targetWorkers: targetWorkers,
		exitCodes:     make(map[int]int64),
		uptimes:       tdigest.NewWithCompression(100),
		beatGaps:      tdigest.NewWithCompression(100),
		lastBeat:      make(map[int]time.Time),
	}
}

// SetTargetWorkers records the (possibly rescaled) target count.
func (t *Tracker) SetTargetWorkers(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targetWorkers = n
}

// WorkerStarted counts one spawn.
func (t *Tracker) WorkerStarted(workerID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalStarts++
	delete(t.lastBeat, workerID)
}

// WorkerReaped counts one reap with its exit code and uptime.
func (t *Tracker) WorkerReaped(workerID int, exitCode int, uptime time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalReaps++
	t.exitCodes[exitCode]++
	if exitCode == 0 {
		t.cleanExits++
	} else {
		t.errorExits++
	}
	t.uptimes.Add(uptime.Seconds(), 1)
	delete(t.lastBeat, workerID)
}

// HeartbeatObserved records one heartbeat and its gap from the previous
// beat of the same worker.
func (t *Tracker) HeartbeatObserved(workerID int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.beats++
	if prev, ok := t.lastBeat[workerID]; ok {
		if gap := now.Sub(prev); gap > 0 {
			t.beatGaps.Add(gap.Seconds(), 1)
		}
	}
	t.lastBeat[workerID] = now
}

// LiveCount records the live worker count after a keepalive pass.
func (t *Tracker) LiveCount(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > t.peakLive {
		t.peakLive = n
	}
}

// Snapshot returns the current summary.
func (t *Tracker) Snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	codes := make(map[int]int64, len(t.exitCodes))
	for code, n := range t.exitCodes {
		codes[code] = n
	}

	s := Summary{
		Duration:      time.Since(t.startTime),
		TargetWorkers: t.targetWorkers,
		PeakLive:      t.peakLive,
		TotalStarts:   t.totalStarts,
		TotalReaps:    t.totalReaps,
		CleanExits:    t.cleanExits,
		ErrorExits:    t.errorExits,
		ExitCodes:     codes,
		HeartbeatCount: t.beats,
	}

	if t.totalReaps > 0 {
		s.UptimeP50 = secondsToDuration(t.uptimes.Quantile(0.50))
		s.UptimeP95 = secondsToDuration(t.uptimes.Quantile(0.95))
		s.UptimeP99 = secondsToDuration(t.uptimes.Quantile(0.99))
	}
	if t.beats > 1 {
		s.HeartbeatGapP50 = secondsToDuration(t.beatGaps.Quantile(0.50))
		s.HeartbeatGapP99 = secondsToDuration(t.beatGaps.Quantile(0.99))
	}

	return s
}

func secondsToDuration(s float64) time.Duration {
	if s < 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
