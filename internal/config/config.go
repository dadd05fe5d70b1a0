package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/michaelbrown/pyrunner/internal/pyast"
	"github.com/michaelbrown/pyrunner/internal/runner"
	"github.com/michaelbrown/pyrunner/internal/sandbox"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ExecutorConfig struct {
	Interpreter    string        `mapstructure:"interpreter"`
	ScratchDir     string        `mapstructure:"scratch_dir"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	ParseTimeout   time.Duration `mapstructure:"parse_timeout"`
	CPUSeconds     int           `mapstructure:"cpu_seconds"`
	MaxOpenFiles   int           `mapstructure:"max_open_files"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
}

// LimitsConfig bounds what a single request may ask for. Timeouts are in
// seconds, memory in megabytes.
type LimitsConfig struct {
	DefaultTimeout  int `mapstructure:"default_timeout"`
	MinTimeout      int `mapstructure:"min_timeout"`
	MaxTimeout      int `mapstructure:"max_timeout"`
	DefaultMemoryMB int `mapstructure:"default_memory_mb"`
	MinMemoryMB     int `mapstructure:"min_memory_mb"`
	MaxMemoryMB     int `mapstructure:"max_memory_mb"`
	MaxCodeChars    int `mapstructure:"max_code_chars"`
}

type PolicyConfig struct {
	File                   string `mapstructure:"file"`
	AllowUnderscoreModules bool   `mapstructure:"allow_underscore_modules"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Preload  []string       `mapstructure:"preload"`
	Log      LogConfig      `mapstructure:"log"`
}

// Load reads configuration from path, or from pyrunner.yaml in the usual
// places when path is empty. A missing default file is not an error.
// PYRUNNER_* environment variables override file values, with "." in the
// key replaced by "_" (PYRUNNER_SERVER_PORT).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pyrunner")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pyrunner")
		v.AddConfigPath("/etc/pyrunner")
	}

	v.SetEnvPrefix("PYRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in paths
	cfg.Policy.File = expandEnv(cfg.Policy.File)
	cfg.Executor.ScratchDir = expandEnv(cfg.Executor.ScratchDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	opts := sandbox.DefaultOptions()
	bounds := runner.DefaultBounds()

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 4<<20)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("executor.interpreter", opts.Interpreter)
	v.SetDefault("executor.scratch_dir", "")
	v.SetDefault("executor.sample_interval", opts.SampleInterval)
	v.SetDefault("executor.grace_period", opts.GracePeriod)
	v.SetDefault("executor.parse_timeout", pyast.DefaultTimeout)
	v.SetDefault("executor.cpu_seconds", opts.CPUSeconds)
	v.SetDefault("executor.max_open_files", opts.MaxOpenFiles)
	v.SetDefault("executor.max_output_bytes", opts.MaxOutputBytes)

	v.SetDefault("limits.default_timeout", bounds.DefaultTimeout)
	v.SetDefault("limits.min_timeout", bounds.MinTimeout)
	v.SetDefault("limits.max_timeout", bounds.MaxTimeout)
	v.SetDefault("limits.default_memory_mb", bounds.DefaultMemoryMB)
	v.SetDefault("limits.min_memory_mb", bounds.MinMemoryMB)
	v.SetDefault("limits.max_memory_mb", bounds.MaxMemoryMB)
	v.SetDefault("limits.max_code_chars", bounds.MaxCodeChars)

	v.SetDefault("policy.file", "")
	v.SetDefault("policy.allow_underscore_modules", false)

	v.SetDefault("preload", []string{"numpy", "sympy", "pandas"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// expandEnv replaces a value of the form ${VAR} with the variable's value.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// Validate checks values that would otherwise fail later and less clearly.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Executor.Interpreter == "" {
		errs = append(errs, errors.New("executor.interpreter is empty"))
	}
	if c.Executor.SampleInterval <= 0 {
		errs = append(errs, errors.New("executor.sample_interval must be positive"))
	}
	l := c.Limits
	if l.MinTimeout < 1 || l.MinTimeout > l.DefaultTimeout || l.DefaultTimeout > l.MaxTimeout {
		errs = append(errs, fmt.Errorf("limits: need 1 <= min_timeout <= default_timeout <= max_timeout, got %d/%d/%d",
			l.MinTimeout, l.DefaultTimeout, l.MaxTimeout))
	}
	if l.MinMemoryMB < 1 || l.MinMemoryMB > l.DefaultMemoryMB || l.DefaultMemoryMB > l.MaxMemoryMB {
		errs = append(errs, fmt.Errorf("limits: need 1 <= min_memory_mb <= default_memory_mb <= max_memory_mb, got %d/%d/%d",
			l.MinMemoryMB, l.DefaultMemoryMB, l.MaxMemoryMB))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SandboxOptions returns the executor settings.
func (c *Config) SandboxOptions() sandbox.Options {
	return sandbox.Options{
		Interpreter:    c.Executor.Interpreter,
		ScratchDir:     c.Executor.ScratchDir,
		SampleInterval: c.Executor.SampleInterval,
		GracePeriod:    c.Executor.GracePeriod,
		CPUSeconds:     c.Executor.CPUSeconds,
		MaxOpenFiles:   c.Executor.MaxOpenFiles,
		MaxOutputBytes: c.Executor.MaxOutputBytes,
	}
}

// Bounds returns the request limits.
func (c *Config) Bounds() runner.Bounds {
	return runner.Bounds{
		DefaultTimeout:  c.Limits.DefaultTimeout,
		MinTimeout:      c.Limits.MinTimeout,
		MaxTimeout:      c.Limits.MaxTimeout,
		DefaultMemoryMB: c.Limits.DefaultMemoryMB,
		MinMemoryMB:     c.Limits.MinMemoryMB,
		MaxMemoryMB:     c.Limits.MaxMemoryMB,
		MaxCodeChars:    c.Limits.MaxCodeChars,
	}
}
