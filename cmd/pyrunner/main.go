package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/pyrunner/internal/config"
	"github.com/michaelbrown/pyrunner/internal/logging"
	"github.com/michaelbrown/pyrunner/internal/rlimit"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "pyrunner",
	Short: "PyRunner - sandboxed Python execution service",
	Long: `PyRunner runs untrusted Python snippets for mathematical and scientific
work. Code is checked against an import allowlist before it runs, then
executed in a fresh interpreter with memory, CPU and file limits.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: pyrunner.yaml in ., $HOME/.pyrunner, /etc/pyrunner)")
}

func main() {
	// Must run first: children are spawned by re-executing this binary.
	rlimit.Init()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and builds the logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return cfg, logger, nil
}
