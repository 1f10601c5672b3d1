// Package config parses the daemon's runtime configuration from flags,
// environment variables, and an optional .env file.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// BarkConfig holds optional Bark push-notification settings. Notifications
// are best-effort: Enabled defaults to false, and an empty URL with Enabled
// true is rejected at startup rather than silently ignored.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Notification NotificationConfig

	// RuntimeDir is the root directory under which the sqlite database and
	// every task's work tree (command.sh, run.sh, log, exit code) live.
	RuntimeDir string
	// StorePath is RuntimeDir/gpusched.db; derived, not independently set.
	StorePath string
	// PollInterval is how often the scheduler re-probes GPUs and attempts
	// admission and reconciliation.
	PollInterval time.Duration
	// MaxLogTail caps the number of lines a single logs request may
	// request, regardless of the caller-supplied tail count.
	MaxLogTail int
	// ShellInit, if non-empty, names a shell script sourced before a
	// task's command runs, e.g. to make `conda activate` available.
	ShellInit string
	// NvidiaSMIBinary is the nvidia-smi executable name or path.
	NvidiaSMIBinary string
	// TmuxBinary is the tmux executable name or path.
	TmuxBinary string
	// ShutdownGrace bounds how long graceful shutdown waits for the HTTP
	// server to stop. Stopping the scheduler is not bounded by it.
	ShutdownGrace time.Duration
	// Mode selects which server(s) to run: "http", "mcp", or "both".
	Mode string
}

const (
	defaultAddr          = "0.0.0.0:8070"
	defaultLogLevel      = "info"
	defaultPollInterval  = 2 * time.Second
	defaultMaxLogTail    = 100
	maxLogTailCap        = 10000
	defaultShutdownGrace = 10 * time.Second
)

func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > environment variables > .env file > defaults.
func Parse() (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "gpusched", ".env"))
	}
	_ = godotenv.Load(envFiles...) // optional, silent if absent

	cfg := &Config{
		Server: ServerConfig{
			Addr: getEnvString("GPUSCHED_ADDR", defaultAddr),
		},
		Log: LogConfig{
			Level: getEnvString("GPUSCHED_LOG_LEVEL", defaultLogLevel),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("GPUSCHED_BARK_URL", ""),
				Enabled: getEnvBool("GPUSCHED_BARK_ENABLED", false),
			},
		},
		RuntimeDir:      getEnvString("GPUSCHED_RUNTIME_DIR", ""),
		PollInterval:    getEnvDuration("GPUSCHED_POLL_INTERVAL", defaultPollInterval),
		MaxLogTail:      getEnvInt("GPUSCHED_MAX_LOG_TAIL", defaultMaxLogTail),
		ShellInit:       getEnvString("GPUSCHED_SHELL_INIT", ""),
		NvidiaSMIBinary: getEnvString("GPUSCHED_NVIDIA_SMI", "nvidia-smi"),
		TmuxBinary:      getEnvString("GPUSCHED_TMUX", "tmux"),
		ShutdownGrace:   getEnvDuration("GPUSCHED_SHUTDOWN_GRACE", defaultShutdownGrace),
		Mode:            getEnvString("GPUSCHED_MODE", "http"),
	}

	var addr, logLevel, runtimeDir, mode, shellInit string
	var pollInterval, shutdownGrace time.Duration
	var maxLogTail int

	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flag.StringVar(&runtimeDir, "runtime-dir", "", "Directory to store the database and per-task work trees")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&mode, "mode", "", "Server mode: http, mcp, or both")
	flag.StringVar(&shellInit, "shell-init", "", "Shell script sourced before every task command")
	flag.DurationVar(&pollInterval, "poll-interval", 0, "Scheduling tick interval")
	flag.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")
	flag.IntVar(&maxLogTail, "max-log-tail", 0, "Maximum number of log lines a single request may return")

	flag.Parse()

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if runtimeDir != "" {
		cfg.RuntimeDir = runtimeDir
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if shellInit != "" {
		cfg.ShellInit = shellInit
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "poll-interval":
			cfg.PollInterval = pollInterval
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		case "max-log-tail":
			cfg.MaxLogTail = maxLogTail
		}
	})

	if cfg.RuntimeDir == "" {
		dir, err := defaultRuntimeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default runtime dir: %w", err)
		}
		cfg.RuntimeDir = dir
	}
	if err := os.MkdirAll(cfg.RuntimeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}
	cfg.StorePath = filepath.Join(cfg.RuntimeDir, "gpusched.db")

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxLogTail < 1 {
		cfg.MaxLogTail = defaultMaxLogTail
	}
	if cfg.MaxLogTail > maxLogTailCap {
		cfg.MaxLogTail = maxLogTailCap
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	if cfg.Notification.Bark.Enabled && cfg.Notification.Bark.URL == "" {
		return nil, fmt.Errorf("GPUSCHED_BARK_ENABLED is set but GPUSCHED_BARK_URL is empty")
	}
	switch cfg.Mode {
	case "http", "mcp", "both":
	default:
		return nil, fmt.Errorf("invalid mode %q, must be one of: http, mcp, both", cfg.Mode)
	}

	return cfg, nil
}

func defaultRuntimeDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, "gpusched"), nil
}
