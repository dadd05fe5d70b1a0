//go:build linux

package sandbox

import (
	"fmt"

	"github.com/prometheus/procfs"
)

type procUsage struct {
	fs procfs.FS
}

// NewUsageReader returns a reader backed by /proc.
func NewUsageReader() (UsageReader, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("opening procfs: %w", err)
	}
	return procUsage{fs: fs}, nil
}

func (u procUsage) ResidentBytes(pid int) (uint64, error) {
	p, err := u.fs.Proc(pid)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProcessGone, err)
	}
	stat, err := p.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProcessGone, err)
	}
	// An exited child waiting to be reaped has no memory worth reporting.
	if stat.State == "Z" || stat.State == "X" {
		return 0, ErrProcessGone
	}
	return uint64(stat.ResidentMemory()), nil
}
