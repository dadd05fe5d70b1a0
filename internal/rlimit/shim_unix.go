//go:build linux || darwin

package rlimit

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func runShim(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "rlimit: missing limits or target")
		return 127
	}
	var limits Limits
	if err := json.Unmarshal([]byte(args[0]), &limits); err != nil {
		fmt.Fprintf(os.Stderr, "rlimit: decoding limits: %v\n", err)
		return 127
	}

	path, argv, env := args[1], args[1:], os.Environ()
	apply(limits)
	if err := unix.Exec(path, argv, env); err != nil {
		fmt.Fprintf(os.Stderr, "rlimit: exec %s: %v\n", path, err)
	}
	return 127
}

type setting struct {
	name     string
	resource int
	value    uint64
}

func settings(l Limits) []setting {
	var out []setting
	if l.CPUSeconds > 0 {
		out = append(out, setting{"cpu time", unix.RLIMIT_CPU, uint64(l.CPUSeconds)})
	}
	if l.OpenFiles > 0 {
		out = append(out, setting{"open files", unix.RLIMIT_NOFILE, uint64(l.OpenFiles)})
	}
	if l.DisableCore {
		out = append(out, setting{"core size", unix.RLIMIT_CORE, 0})
	}
	// Last, so the shim itself needs no new mappings once it is in force.
	if l.MemoryMB > 0 {
		out = append(out, setting{"address space", unix.RLIMIT_AS, uint64(l.MemoryMB) << 20})
	}
	return out
}

// apply lowers each limit on its own. A limit that cannot be lowered is
// skipped and the rest still apply; the child always starts.
func apply(l Limits) {
	for _, s := range settings(l) {
		var cur unix.Rlimit
		if err := unix.Getrlimit(s.resource, &cur); err != nil {
			continue
		}
		if cur.Max != unix.RLIM_INFINITY && s.value > cur.Max {
			continue
		}
		_ = unix.Setrlimit(s.resource, &unix.Rlimit{Cur: s.value, Max: s.value})
	}
}

// Check reports the limits this host's hard ceilings would make the shim
// skip.
func Check(l Limits) []Skipped {
	var skipped []Skipped
	for _, s := range settings(l) {
		var cur unix.Rlimit
		if err := unix.Getrlimit(s.resource, &cur); err != nil {
			skipped = append(skipped, Skipped{Resource: s.name, Want: s.value})
			continue
		}
		if cur.Max != unix.RLIM_INFINITY && s.value > cur.Max {
			skipped = append(skipped, Skipped{Resource: s.name, Want: s.value, Ceiling: cur.Max})
		}
	}
	return skipped
}
