//go:build !linux && !darwin

package rlimit

import (
	"fmt"
	"os"
	"os/exec"
)

func detach(*exec.Cmd) {}

// runShim only runs the target; limits are not supported here.
func runShim(args []string) int {
	if len(args) < 2 {
		return 127
	}
	cmd := exec.Command(args[1], args[2:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		if exit, ok := err.(*exec.ExitError); ok {
			return exit.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "rlimit: running %s: %v\n", args[1], err)
		return 127
	}
	return 0
}

// Check reports every limit as skipped.
func Check(l Limits) []Skipped {
	var skipped []Skipped
	if l.MemoryMB > 0 {
		skipped = append(skipped, Skipped{Resource: "address space", Want: uint64(l.MemoryMB) << 20})
	}
	if l.CPUSeconds > 0 {
		skipped = append(skipped, Skipped{Resource: "cpu time", Want: uint64(l.CPUSeconds)})
	}
	if l.OpenFiles > 0 {
		skipped = append(skipped, Skipped{Resource: "open files", Want: uint64(l.OpenFiles)})
	}
	if l.DisableCore {
		skipped = append(skipped, Skipped{Resource: "core size"})
	}
	return skipped
}
