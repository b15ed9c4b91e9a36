package controller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-worker-swarm/internal/monitor"
)

// defaultWaitTick is the keepalive cadence when the tick loop runs
// elsewhere (auto-tick). The wait is coarse and not latency-critical.
const defaultWaitTick = 500 * time.Millisecond

// StartWorkerFunc spawns a worker for a slot and returns its Monitor.
// The controller treats it as an external hook; in production it is the
// process manager's Spawn.
type StartWorkerFunc func(ctx context.Context, workerID int) (*monitor.Monitor, error)

// SlotInfo is a read-only snapshot of one worker slot for dashboards.
type SlotInfo struct {
	ID            int
	Pid           int
	Stage         monitor.KillStage
	Alive         bool
	Uptime        time.Duration
	HeartbeatAge  time.Duration
	KillCount     int
}

// Config holds configuration for creating a Controller.
type Config struct {
	Workers              int
	StartWorkerDelay     time.Duration
	StartWorkerDelayRand float64

	// WaitTick overrides the keepalive cadence; 0 means the default 500ms.
	WaitTick time.Duration

	Logger      *slog.Logger
	StartWorker StartWorkerFunc

	// JitterSeed makes stagger jitter reproducible; 0 seeds from the clock.
	JitterSeed int64

	// OnLiveCount is called with the live worker count after each
	// keepalive pass (metrics hook).
	OnLiveCount func(n int)
}

// Controller keeps exactly num_workers live workers in the first
// num_workers slots, restarting dead slots with staggered spawns. Slot
// index is the worker id and is stable across restarts of that slot.
type Controller struct {
	logger      *slog.Logger
	startWorker StartWorkerFunc
	waitTick    time.Duration
	delay       time.Duration
	delayRand   float64
	jitter      *JitterSource
	onLiveCount func(n int)

	stopRequested atomic.Bool

	mu         sync.Mutex
	numWorkers int
	slots      []*monitor.Monitor
	lastStart  time.Time
}

// New creates a Controller. Run must be called to start supervision.
func New(cfg Config) *Controller {
	jitter := NewJitterSourceFromTime()
	if cfg.JitterSeed != 0 {
		jitter = NewJitterSource(cfg.JitterSeed)
	}
	waitTick := cfg.WaitTick
	if waitTick <= 0 {
		waitTick = defaultWaitTick
	}
	return &Controller{
		logger:      cfg.Logger,
		startWorker: cfg.StartWorker,
		waitTick:    waitTick,
		delay:       cfg.StartWorkerDelay,
		delayRand:   cfg.StartWorkerDelayRand,
		jitter:      jitter,
		onLiveCount: cfg.OnLiveCount,
		numWorkers:  cfg.Workers,
		slots:       make([]*monitor.Monitor, cfg.Workers),
	}
}

// NumWorkers returns the current target worker count.
func (c *Controller) NumWorkers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numWorkers
}

// Scale sets the target worker count. Scaling up lengthens the slot table;
// keepalive fills the new slots. Scaling down sends graceful stop to the
// excess slots; keepalive clears them once they drain.
func (c *Controller) Scale(n int) {
	if n < 0 {
		n = 0
	}
	now := time.Now()

	c.mu.Lock()
	old := c.numWorkers
	c.numWorkers = n
	for len(c.slots) < n {
		c.slots = append(c.slots, nil)
	}
	var excess []*monitor.Monitor
	for i := n; i < len(c.slots); i++ {
		if c.slots[i] != nil {
			excess = append(excess, c.slots[i])
		}
	}
	c.mu.Unlock()

	for _, mon := range excess {
		mon.SendStop(true, now)
	}

	c.logger.Info("workers_scaled", "from", old, "to", n)
}

// Stop requests shutdown: no further spawns, and every present monitor
// receives the stop request.
func (c *Controller) Stop(graceful bool) {
	c.stopRequested.Store(true)
	now := time.Now()
	for _, mon := range c.presentMonitors() {
		mon.SendStop(graceful, now)
	}
	c.logger.Info("stop_requested", "graceful", graceful)
}

// Restart stops all workers identically to Stop; the surrounding run loop
// clears the stop request and re-enters Run, which respawns every slot
// under the same ids.
func (c *Controller) Restart(graceful bool) {
	c.Stop(graceful)
}

// ClearStopRequest re-arms the controller after a restart drain.
func (c *Controller) ClearStopRequest() {
	c.stopRequested.Store(false)
}

// StopRequested reports whether a stop or restart is in progress.
func (c *Controller) StopRequested() bool {
	return c.stopRequested.Load()
}

// Reload delivers the reload signal to every present monitor, best-effort.
func (c *Controller) Reload() {
	for _, mon := range c.presentMonitors() {
		mon.SendReload()
	}
	c.logger.Info("reload_requested")
}

// Run drives keepalive until a pass finds no live worker: normally after a
// stop has drained the pool, but also at once when the target is zero or
// every spawn fails. Context cancellation is treated as a graceful stop
// request.
func (c *Controller) Run(ctx context.Context) {
	for {
		if n := c.Keepalive(ctx); n == 0 {
			c.logger.Info("all_workers_drained")
			return
		}

		select {
		case <-ctx.Done():
			if !c.stopRequested.Load() {
				c.Stop(true)
			}
		case <-time.After(c.waitTick):
		}
	}
}

// Keepalive makes one pass over the slot table: counts live slots, starts
// missing workers within the target count, and clears dead slots. Returns
// the live count. A failed spawn leaves its slot without a live worker
// (holding its previous monitor, if any) and is retried on the next pass;
// one slot's failure never affects the others.
func (c *Controller) Keepalive(ctx context.Context) int {
	live := 0

	c.mu.Lock()
	slotCount := len(c.slots)
	c.mu.Unlock()

	for i := 0; i < slotCount; i++ {
		c.mu.Lock()
		mon := c.slots[i]
		num := c.numWorkers
		c.mu.Unlock()

		switch {
		case mon != nil && mon.Alive():
			live++

		case i < num && !c.stopRequested.Load():
			newMon, err := c.delayedStartWorker(ctx, i)
			if err != nil {
				c.logger.Warn("worker_start_failed", "worker_id", i, "error", err)
				continue
			}
			if newMon == nil {
				// Cancelled during the stagger wait.
				continue
			}
			c.mu.Lock()
			c.slots[i] = newMon
			c.mu.Unlock()
			live++

		case mon != nil:
			// Dead and not wanted back: drop the slot.
			c.mu.Lock()
			c.slots[i] = nil
			c.mu.Unlock()
		}
	}

	if c.onLiveCount != nil {
		c.onLiveCount(live)
	}
	return live
}

// delayedStartWorker spawns a worker for slot i after the configured
// stagger has elapsed since the previous spawn.
func (c *Controller) delayedStartWorker(ctx context.Context, i int) (*monitor.Monitor, error) {
	if c.delay > 0 {
		delay := c.jitter.StartDelay(i, c.delay, c.delayRand)

		c.mu.Lock()
		last := c.lastStart
		c.mu.Unlock()

		if wait := time.Until(last.Add(delay)); wait > 0 {
			select {
			case <-ctx.Done():
				return nil, nil
			case <-time.After(wait):
			}
		}
	}

	c.mu.Lock()
	c.lastStart = time.Now()
	c.mu.Unlock()

	return c.startWorker(ctx, i)
}

// LiveCount returns the number of slots holding a live monitor.
func (c *Controller) LiveCount() int {
	live := 0
	for _, mon := range c.presentMonitors() {
		if mon.Alive() {
			live++
		}
	}
	return live
}

// Snapshot returns per-slot state for dashboards and the exit summary.
func (c *Controller) Snapshot() []SlotInfo {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]SlotInfo, 0, len(c.slots))
	for i, mon := range c.slots {
		info := SlotInfo{ID: i}
		if mon != nil {
			info.Pid = mon.Pid()
			info.Stage = mon.Stage()
			info.Alive = mon.Alive()
			info.Uptime = now.Sub(mon.StartTime())
			info.HeartbeatAge = now.Sub(mon.LastHeartbeat())
			info.KillCount = mon.KillCount()
		}
		infos = append(infos, info)
	}
	return infos
}

// presentMonitors copies the non-empty slots under the lock.
func (c *Controller) presentMonitors() []*monitor.Monitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	monitors := make([]*monitor.Monitor, 0, len(c.slots))
	for _, mon := range c.slots {
		if mon != nil {
			monitors = append(monitors, mon)
		}
	}
	return monitors
}
