package sandbox

import "time"

// Options configures an Executor.
type Options struct {
	Interpreter    string        // name or path, resolved on PATH per execution
	ScratchDir     string        // where script files are written; "" for the OS temp dir
	SampleInterval time.Duration // memory sampling period
	GracePeriod    time.Duration // between SIGTERM and SIGKILL on timeout
	CPUSeconds     int
	MaxOpenFiles   int
	MaxOutputBytes int // per stream; 0 for unlimited
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Interpreter:    "python3",
		SampleInterval: 100 * time.Millisecond,
		GracePeriod:    500 * time.Millisecond,
		CPUSeconds:     300,
		MaxOpenFiles:   50,
		MaxOutputBytes: 10 << 20,
	}
}
