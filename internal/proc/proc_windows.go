//go:build windows

package proc

import (
	"os"

	"golang.org/x/sys/windows"
)

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	const stillActive = 259
	return code == stillActive
}

// signal terminates the process; Windows has no other signals to deliver.
func signal(pid int, _ os.Signal) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Kill()
	return true
}
