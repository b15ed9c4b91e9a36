// Package monitor tracks the health of a single worker process and drives
// the staged kill protocol against it.
package monitor

// KillStage represents the current stage of the kill protocol for a worker.
type KillStage int

const (
	// StageNone is the initial stage: the worker is running normally.
	StageNone KillStage = iota

	// StageGraceful indicates the graceful kill signal is being sent on a
	// backoff schedule.
	StageGraceful

	// StageImmediate indicates the immediate kill signal is being sent,
	// entered on request, heartbeat timeout, or graceful deadline.
	StageImmediate

	// StageForce indicates SIGKILL is being sent because the immediate
	// stage exceeded its deadline.
	StageForce

	// StageTerminal is the absorbing stage: the worker has been reaped
	// or is otherwise gone.
	StageTerminal
)

// String returns a human-readable name for the stage.
func (s KillStage) String() string {
	switch s {
	case StageNone:
		return "running"
	case StageGraceful:
		return "graceful_kill"
	case StageImmediate:
		return "immediate_kill"
	case StageForce:
		return "force_kill"
	case StageTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// IsKilling returns true if a kill stage is in progress.
func (s KillStage) IsKilling() bool {
	return s == StageGraceful || s == StageImmediate || s == StageForce
}

// IsTerminal returns true if the stage is absorbing.
func (s KillStage) IsTerminal() bool {
	return s == StageTerminal
}
