//go:build unix

package proc

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// signal delivers sig and reports whether the process still existed.
func signal(pid int, sig os.Signal) bool {
	if pid <= 0 {
		return false
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		s = unix.SIGTERM
	}
	err := unix.Kill(pid, s)
	return !errors.Is(err, unix.ESRCH)
}
