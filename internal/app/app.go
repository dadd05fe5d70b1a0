// Package app assembles the validator, executor and runner from a loaded
// configuration. Every front end (server, CLI, MCP tool) builds through it.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/michaelbrown/pyrunner/internal/autoprint"
	"github.com/michaelbrown/pyrunner/internal/config"
	"github.com/michaelbrown/pyrunner/internal/interp"
	"github.com/michaelbrown/pyrunner/internal/metrics"
	"github.com/michaelbrown/pyrunner/internal/policy"
	"github.com/michaelbrown/pyrunner/internal/pyast"
	"github.com/michaelbrown/pyrunner/internal/rlimit"
	"github.com/michaelbrown/pyrunner/internal/runner"
	"github.com/michaelbrown/pyrunner/internal/sandbox"
	"github.com/michaelbrown/pyrunner/internal/validator"
)

// App holds the wired components.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Interpreter interp.Info
	Libraries   []string
	Registry    *prometheus.Registry
	Metrics     *metrics.Collector
	Validator   *validator.Validator
	Executor    *sandbox.Executor
	Service     *runner.Service
}

// Options controls the optional startup work.
type Options struct {
	// Preload imports cfg.Preload once and records which succeeded.
	Preload bool
	// ProcessMetrics registers Go runtime and process collectors.
	ProcessMetrics bool
}

// New probes the interpreter, loads the policy and wires everything
// together.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	info, err := interp.Probe(ctx, cfg.Executor.Interpreter)
	if err != nil {
		return nil, err
	}
	logger.Info("interpreter found",
		zap.String("path", info.Path),
		zap.String("version", info.Version.String()),
	)

	p, err := policy.Load(cfg.Policy.File)
	if err != nil {
		return nil, err
	}
	if cfg.Policy.AllowUnderscoreModules {
		p.AllowUnderscoreModules = true
	}

	warnSkippedLimits(logger, cfg)

	usage, err := sandbox.NewUsageReader()
	if err != nil {
		return nil, fmt.Errorf("opening process usage: %w", err)
	}

	reg := prometheus.NewRegistry()
	if opts.ProcessMetrics {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.NewCollector(reg)

	parser := pyast.NewInterpreter(info.Path, cfg.Executor.ParseTimeout)
	v := validator.New(p, parser)

	sopts := cfg.SandboxOptions()
	sopts.Interpreter = info.Path
	x := sandbox.NewExecutor(sopts, autoprint.New(parser), usage, logger)

	a := &App{
		Config:      cfg,
		Logger:      logger,
		Interpreter: info,
		Registry:    reg,
		Metrics:     m,
		Validator:   v,
		Executor:    x,
		Service:     runner.NewService(v, x, cfg.Bounds(), m, logger),
	}

	if opts.Preload && len(cfg.Preload) > 0 {
		a.Libraries = interp.Preload(ctx, info.Path, cfg.Preload)
		logger.Info("preloaded libraries",
			zap.Strings("requested", cfg.Preload),
			zap.Strings("available", a.Libraries),
		)
	}
	return a, nil
}

// warnSkippedLimits logs, once, the limits the host's hard ceilings will
// keep children from getting.
func warnSkippedLimits(logger *zap.Logger, cfg *config.Config) {
	limits := rlimit.Limits{
		MemoryMB:    cfg.Limits.MaxMemoryMB,
		CPUSeconds:  cfg.Executor.CPUSeconds,
		OpenFiles:   cfg.Executor.MaxOpenFiles,
		DisableCore: true,
	}
	for _, s := range rlimit.Check(limits) {
		logger.Warn("resource limit above host ceiling; children will run without it",
			zap.String("limit", s.String()),
		)
	}
}
