// Package rlimit starts child programs under lowered resource limits.
//
// Go cannot run code between fork and exec, so the limits are applied by
// the current binary itself: Command re-executes it with a marker argument,
// Init (the first call in main) recognises the marker, lowers the limits on
// its own process and then execs the target. The target therefore starts
// with the limits already in force, before any of its code runs.
package rlimit

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

const marker = "__pyrunner_rlimit_exec"

// Limits are the ceilings applied to a child. A zero field leaves that
// resource untouched.
type Limits struct {
	MemoryMB    int  `json:"memory_mb,omitempty"`   // address space
	CPUSeconds  int  `json:"cpu_seconds,omitempty"` // processor time
	OpenFiles   int  `json:"open_files,omitempty"`  // file descriptors
	DisableCore bool `json:"disable_core,omitempty"`
}

// Init turns the process into the limiting shim when it was started by
// Command, and never returns in that case. Otherwise it does nothing. It
// must run before anything else in main, and in TestMain for tests that
// spawn children.
func Init() {
	if len(os.Args) < 2 || os.Args[1] != marker {
		return
	}
	os.Exit(runShim(os.Args[2:]))
}

// Command returns a command that runs path with args under limits, in a
// new process group. path should be absolute; the shim does not search
// PATH.
func Command(limits Limits, path string, args ...string) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating own executable: %w", err)
	}
	encoded, err := json.Marshal(limits)
	if err != nil {
		return nil, fmt.Errorf("encoding limits: %w", err)
	}

	shimArgs := append([]string{marker, string(encoded), path}, args...)
	cmd := exec.Command(self, shimArgs...)
	detach(cmd)
	return cmd, nil
}

// Skipped describes a limit the host will not let a child lower.
type Skipped struct {
	Resource string
	Want     uint64
	Ceiling  uint64
}

func (s Skipped) String() string {
	return fmt.Sprintf("%s: want %d, hard ceiling %d", s.Resource, s.Want, s.Ceiling)
}
