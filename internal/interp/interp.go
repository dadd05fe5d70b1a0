// Package interp locates the Python interpreter and warms it up at
// startup.
package interp

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// MinVersion is the oldest interpreter whose syntax trees carry end
// positions.
var MinVersion = Version{3, 8, 0}

// Version is a major.minor.patch interpreter version.
type Version [3]int

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// Less reports whether v is older than o.
func (v Version) Less(o Version) bool {
	for i := range v {
		if v[i] != o[i] {
			return v[i] < o[i]
		}
	}
	return false
}

// ParseVersion parses "3.11.4".
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("malformed version %q", s)
	}
	var v Version
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, fmt.Errorf("malformed version %q: %w", s, err)
		}
		v[i] = n
	}
	return v, nil
}

// Info describes a usable interpreter.
type Info struct {
	Path    string
	Version Version
}

// Probe resolves name on PATH and checks the interpreter is recent enough.
func Probe(ctx context.Context, name string) (Info, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return Info{}, fmt.Errorf("finding interpreter %s: %w", name, err)
	}

	out, err := exec.CommandContext(ctx, path, "-I", "-S", "-c",
		"import sys; print('%d.%d.%d' % sys.version_info[:3])").Output()
	if err != nil {
		return Info{}, fmt.Errorf("querying %s version: %w", path, err)
	}
	v, err := ParseVersion(string(out))
	if err != nil {
		return Info{}, err
	}
	if v.Less(MinVersion) {
		return Info{}, fmt.Errorf("interpreter %s is version %s, need %s or newer", path, v, MinVersion)
	}
	return Info{Path: path, Version: v}, nil
}

// Preload imports each module once in a throwaway interpreter so the
// first requests do not pay for cold disk reads. Failures are not
// errors; the result lists the modules that imported, in input order.
func Preload(ctx context.Context, path string, modules []string) []string {
	ok := make([]bool, len(modules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, m := range modules {
		g.Go(func() error {
			if exec.CommandContext(gctx, path, "-c", "import "+m).Run() == nil {
				ok[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	var loaded []string
	for i, m := range modules {
		if ok[i] {
			loaded = append(loaded, m)
		}
	}
	return loaded
}
