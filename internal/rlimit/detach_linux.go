package rlimit

import (
	"os/exec"
	"syscall"
)

// detach starts the child in its own process group. The kernel kills it
// if this process dies first, so a crashed or killed server leaves no
// running children behind.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
