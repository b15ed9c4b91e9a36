package monitor

import (
	"errors"
	"syscall"
)

// Status is the terminal status of a reaped worker.
type Status struct {
	Pid        int
	WaitStatus syscall.WaitStatus

	// Err is set when the reap itself failed (ECHILD and friends) and the
	// worker is presumed gone without a collectable status.
	Err error
}

// ExitCode returns the worker's exit code, mapping signal deaths to
// 128 + signal number and unreapable workers to -1.
func (s *Status) ExitCode() int {
	if s.Err != nil {
		return -1
	}
	if s.WaitStatus.Signaled() {
		return 128 + int(s.WaitStatus.Signal())
	}
	return s.WaitStatus.ExitStatus()
}

// Success reports whether the worker exited cleanly.
func (s *Status) Success() bool {
	return s.Err == nil && s.WaitStatus.Exited() && s.WaitStatus.ExitStatus() == 0
}

// Signaler delivers signals to and reaps a child process. The production
// implementation talks to the kernel; tests substitute a recorder.
type Signaler interface {
	// Kill sends sig to the process.
	Kill(pid int, sig syscall.Signal) error

	// Wait reaps the process. With block=false it returns (nil, nil) while
	// the child is still running; with block=true it waits for the exit.
	Wait(pid int, block bool) (*Status, error)
}

// OSSignaler is the production Signaler backed by kill(2) and wait4(2).
type OSSignaler struct{}

// Kill sends sig to pid.
func (OSSignaler) Kill(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

// Wait reaps pid, non-blocking unless block is set.
func (OSSignaler) Wait(pid int, block bool) (*Status, error) {
	options := syscall.WNOHANG
	if block {
		options = 0
	}
	var ws syscall.WaitStatus
	for {
		wpid, err := syscall.Wait4(pid, &ws, options, nil)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		if wpid == 0 {
			// Still running (WNOHANG).
			return nil, nil
		}
		return &Status{Pid: wpid, WaitStatus: ws}, nil
	}
}

// IsGone reports whether a signal or reap error means the child no longer
// exists (or was already reaped elsewhere). EPERM is included: after pid
// reuse the slot may belong to another user's process.
func IsGone(err error) bool {
	return errors.Is(err, syscall.ESRCH) ||
		errors.Is(err, syscall.ECHILD) ||
		errors.Is(err, syscall.EPERM)
}
