// Package proc stops child processes and tracks the watch daemon's PID
// file.
package proc

import (
	"context"
	"os"
	"time"
)

// Options controls how Kill waits for a process to go away.
type Options struct {
	// RetryInterval is the time between existence checks. Each check
	// resends the signal.
	RetryInterval time.Duration
	// Timeout bounds the whole wait.
	Timeout time.Duration
}

// DefaultOptions polls every 100ms for up to 10s.
func DefaultOptions() Options {
	return Options{RetryInterval: 100 * time.Millisecond, Timeout: 10 * time.Second}
}

// Kill sends sig to pid and waits until the process is gone, resending sig
// on every poll. It returns true once the process no longer exists and
// false if it is still alive when the timeout expires or ctx is done. A
// process that is already gone counts as stopped.
func Kill(ctx context.Context, pid int, sig os.Signal, opts Options) bool {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultOptions().RetryInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}

	if !signal(pid, sig) {
		return true
	}

	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()
	tick := time.NewTicker(opts.RetryInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return !Alive(pid)
		case <-deadline.C:
			return !Alive(pid)
		case <-tick.C:
			if !Alive(pid) {
				return true
			}
			if !signal(pid, sig) {
				return true
			}
		}
	}
}
