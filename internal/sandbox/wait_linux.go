package sandbox

import (
	"errors"
	"os/exec"

	"golang.org/x/sys/unix"
)

// awaitExit blocks until the child exits but leaves it unreaped, so its
// pid, and with it the process group id, cannot be reused before reap.
func awaitExit(cmd *exec.Cmd) exitNotice {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, cmd.Process.Pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			// Fall back to an ordinary wait.
			return exitNotice{reaped: true, err: cmd.Wait()}
		}
		return exitNotice{}
	}
}
