//go:build !linux

package sandbox

import "errors"

type noUsage struct{}

// NewUsageReader returns a reader that never observes anything; resident
// memory is only read from /proc.
func NewUsageReader() (UsageReader, error) {
	return noUsage{}, nil
}

func (noUsage) ResidentBytes(int) (uint64, error) {
	return 0, errors.Join(ErrProcessGone, errors.New("memory sampling unsupported on this platform"))
}
