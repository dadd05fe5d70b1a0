// Package sandbox runs vetted Python source in a supervised child process
// and classifies how it ended.
package sandbox

import (
	"context"
	"time"
)

// Status is the classified end of one execution.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusError          Status = "error"
	StatusTimeout        Status = "timeout"
	StatusMemoryExceeded Status = "memory_exceeded"
)

// Request describes one execution. Callers validate the ranges; the
// executor assumes Timeout and MemoryLimitMB are within bounds.
type Request struct {
	Source        string
	Timeout       time.Duration
	MemoryLimitMB int
	AutoPrint     bool
}

// Outcome is the result of a finished execution. It is built once and
// never modified.
type Outcome struct {
	Status       Status
	Stdout       string
	Stderr       string
	Elapsed      time.Duration
	PeakMemoryMB *float64 // nil when no reading was available
	Truncated    bool     // output exceeded the capture limit
}

// Sandbox runs code in an isolated environment.
//
// Execute returns an Outcome for every classified ending, including
// program errors, timeouts and memory breaches. A non-nil error means the
// execution could not be carried out at all (missing interpreter, spawn
// failure, cancelled context).
type Sandbox interface {
	Execute(ctx context.Context, req Request) (*Outcome, error)
}
