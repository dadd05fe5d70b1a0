//go:build !linux

package sandbox

import "os/exec"

// awaitExit reaps the child. Without waitid the pid is released at once,
// so the group kill in reap may race with pid reuse here.
func awaitExit(cmd *exec.Cmd) exitNotice {
	return exitNotice{reaped: true, err: cmd.Wait()}
}
