// Package runner composes static validation and sandboxed execution into
// the request/response flow shared by the HTTP, WebSocket, CLI and MCP
// front ends.
package runner

import (
	"context"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/pyrunner/internal/metrics"
	"github.com/michaelbrown/pyrunner/internal/sandbox"
	"github.com/michaelbrown/pyrunner/internal/validator"
)

// Response is the result of a run call as sent to clients.
type Response struct {
	Status        sandbox.Status `json:"status"`
	Stdout        string         `json:"stdout"`
	Stderr        string         `json:"stderr"`
	ExecutionTime float64        `json:"execution_time"`
	MemoryUsed    *float64       `json:"memory_used"`
	Error         *string        `json:"error"`
	Truncated     bool           `json:"truncated,omitempty"`
}

// Result pairs a Response with the id it was logged under.
type Result struct {
	ID string
	Response
}

// Checker decides whether source may run.
type Checker interface {
	Validate(ctx context.Context, source string) (validator.Verdict, error)
}

// Service validates and executes requests. It is safe for concurrent use.
type Service struct {
	checker Checker
	sandbox sandbox.Sandbox
	bounds  Bounds
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewService creates a Service.
func NewService(checker Checker, sb sandbox.Sandbox, bounds Bounds, m *metrics.Collector, logger *zap.Logger) *Service {
	return &Service{
		checker: checker,
		sandbox: sb,
		bounds:  bounds,
		metrics: m,
		logger:  logger.With(zap.String("component", "runner")),
	}
}

// Bounds returns the request limits the service enforces.
func (s *Service) Bounds() Bounds { return s.bounds }

// Handle normalizes a decoded request and runs it. A *ValidationError is
// returned for a request that is out of bounds; nothing else fails.
func (s *Service) Handle(ctx context.Context, req Request) (*Result, error) {
	sreq, err := req.Normalize(s.bounds)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, sreq), nil
}

// Run validates and executes one request. Every failure is folded into
// the Response.
func (s *Service) Run(ctx context.Context, req sandbox.Request) *Result {
	id := uuid.New().String()
	log := s.logger.With(zap.String("execution_id", id))
	log.Info("received execution request",
		zap.Int("code_length", len(req.Source)),
		zap.Duration("timeout", req.Timeout),
		zap.Int("memory_limit_mb", req.MemoryLimitMB),
	)

	verdict, err := s.checker.Validate(ctx, req.Source)
	if err != nil {
		return s.internalError(log, id, err)
	}
	if !verdict.Accepted() {
		log.Warn("code validation failed", zap.String("reason", verdict.Reason))
		s.metrics.RecordRejection()
		return &Result{ID: id, Response: Response{
			Status: sandbox.StatusError,
			Stderr: "Security validation failed: " + verdict.Reason,
			Error:  &verdict.Reason,
		}}
	}

	done := s.metrics.TrackInFlight()
	out, err := s.sandbox.Execute(ctx, req)
	done()
	if err != nil {
		return s.internalError(log, id, err)
	}

	s.metrics.RecordExecution(string(out.Status), out.Elapsed, out.PeakMemoryMB)
	log.Info("code execution completed",
		zap.String("status", string(out.Status)),
		zap.Duration("elapsed", out.Elapsed),
		zap.Bool("truncated", out.Truncated),
	)
	return &Result{ID: id, Response: NewResponse(out)}
}

func (s *Service) internalError(log *zap.Logger, id string, err error) *Result {
	log.Error("unexpected error during code execution", zap.Error(err))
	s.metrics.RecordInternalError()
	msg := err.Error()
	return &Result{ID: id, Response: Response{
		Status: sandbox.StatusError,
		Stderr: "Internal error: " + msg,
		Error:  &msg,
	}}
}

// NewResponse converts an outcome to its wire form: time to the
// millisecond, memory to two decimals (absent when nothing was measured)
// and error set to stderr only for the error status.
func NewResponse(out *sandbox.Outcome) Response {
	resp := Response{
		Status:        out.Status,
		Stdout:        out.Stdout,
		Stderr:        out.Stderr,
		ExecutionTime: round(out.Elapsed.Seconds(), 3),
		Truncated:     out.Truncated,
	}
	if out.PeakMemoryMB != nil && *out.PeakMemoryMB != 0 {
		mb := round(*out.PeakMemoryMB, 2)
		resp.MemoryUsed = &mb
	}
	if out.Status == sandbox.StatusError {
		stderr := out.Stderr
		resp.Error = &stderr
	}
	return resp
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
