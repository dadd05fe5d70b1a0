//go:build linux || darwin

package sandbox

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// signalGroup sends sig to every process in the group led by pgid.
// A group that no longer exists is not an error.
func signalGroup(pgid int, sig unix.Signal) error {
	err := unix.Kill(-pgid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func terminateGroup(pgid int) error { return signalGroup(pgid, unix.SIGTERM) }

func killGroup(pgid int) error { return signalGroup(pgid, unix.SIGKILL) }

// killProcess kills a single process.
func killProcess(pid int) error {
	err := unix.Kill(pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// killedBySIGKILL reports a wait status that ended in SIGKILL.
func killedBySIGKILL(sys any) bool {
	ws, ok := sys.(syscall.WaitStatus)
	return ok && ws.Signaled() && ws.Signal() == unix.SIGKILL
}
