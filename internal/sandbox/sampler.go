package sandbox

import (
	"context"
	"errors"
	"time"
)

// ErrProcessGone is returned by a UsageReader when the process has exited
// or can no longer be inspected.
var ErrProcessGone = errors.New("process gone")

// UsageReader reads the resident memory of a process.
type UsageReader interface {
	ResidentBytes(pid int) (uint64, error)
}

// Reading is what a sampler observed over its lifetime.
type Reading struct {
	PeakBytes uint64
	Samples   int
	Killed    bool // the sampler killed the process for exceeding the limit
}

// PeakMB returns the peak in megabytes, or nil if nothing was observed.
func (r Reading) PeakMB() *float64 {
	if r.Samples == 0 || r.PeakBytes == 0 {
		return nil
	}
	mb := float64(r.PeakBytes) / (1 << 20)
	return &mb
}

// Sampler polls a process's resident memory and kills it when it grows
// past a limit.
type Sampler struct {
	Reader   UsageReader
	Interval time.Duration
	Kill     func(pid int) error
}

// Start samples pid until it exits, breaches limitBytes, or ctx is
// cancelled. The returned channel yields at most one Reading and is then
// closed. If ctx is cancelled first it is closed without a value: the
// caller must treat the figure as unavailable rather than use a partial
// one.
func (s *Sampler) Start(ctx context.Context, pid int, limitBytes uint64) <-chan Reading {
	out := make(chan Reading, 1)
	go func() {
		defer close(out)

		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		var r Reading
		for {
			if ctx.Err() != nil {
				return
			}
			rss, err := s.Reader.ResidentBytes(pid)
			if err != nil {
				out <- r
				return
			}
			r.Samples++
			r.PeakBytes = max(r.PeakBytes, rss)
			if rss > limitBytes {
				_ = s.Kill(pid)
				r.Killed = true
				out <- r
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}
