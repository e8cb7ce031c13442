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

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// GenerationConfig holds generation service settings.
type GenerationConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// IdentityConfig holds identity provider settings.
type IdentityConfig struct {
	URL string
}

// PollConfig holds visualization poller settings.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// MetricsConfig holds usage metrics batching settings.
type MetricsConfig struct {
	FlushSize     int
	FlushInterval time.Duration
}

// NotificationConfig holds run-failure notification settings.
type NotificationConfig struct {
	WebhookURL string
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Generation   GenerationConfig
	Identity     IdentityConfig
	Poll         PollConfig
	Metrics      MetricsConfig
	Notification NotificationConfig

	StateDir      string
	Timezone      string
	Mode          string
	ShutdownGrace time.Duration
}

const (
	defaultAddr          = "0.0.0.0:7080"
	defaultLogLevel      = "info"
	defaultTimezone      = "America/New_York"
	defaultMode          = "http"
	defaultGenTimeout    = 2 * time.Minute
	defaultPollInterval  = 2 * time.Second
	defaultPollAttempts  = 15
	defaultFlushSize     = 10
	defaultFlushInterval = 60 * time.Second
	defaultShutdownGrace = 5 * time.Second
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse() (*Config, error) {
	// Load .env file if exists (silent fail if not present)
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "reportd", ".env"))
	}
	_ = godotenv.Load(envFiles...) // Ignore error - file is optional

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("REPORTD_ADDR", defaultAddr),
			AuthToken: getEnvString("REPORTD_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level: getEnvString("REPORTD_LOG_LEVEL", defaultLogLevel),
		},
		Generation: GenerationConfig{
			URL:     getEnvString("REPORTD_GENERATION_URL", "http://127.0.0.1:8100"),
			APIKey:  getEnvString("REPORTD_GENERATION_API_KEY", ""),
			Timeout: getEnvDuration("REPORTD_GENERATION_TIMEOUT", defaultGenTimeout),
		},
		Identity: IdentityConfig{
			URL: getEnvString("REPORTD_IDENTITY_URL", "http://127.0.0.1:8110"),
		},
		Poll: PollConfig{
			Interval:    getEnvDuration("REPORTD_POLL_INTERVAL", defaultPollInterval),
			MaxAttempts: getEnvInt("REPORTD_POLL_ATTEMPTS", defaultPollAttempts),
		},
		Metrics: MetricsConfig{
			FlushSize:     getEnvInt("REPORTD_METRICS_FLUSH_SIZE", defaultFlushSize),
			FlushInterval: getEnvDuration("REPORTD_METRICS_FLUSH_INTERVAL", defaultFlushInterval),
		},
		Notification: NotificationConfig{
			WebhookURL: getEnvString("REPORTD_WEBHOOK_URL", ""),
		},
		StateDir:      getEnvString("REPORTD_STATE_DIR", ""),
		Timezone:      getEnvString("REPORTD_TIMEZONE", defaultTimezone),
		Mode:          getEnvString("REPORTD_MODE", defaultMode),
		ShutdownGrace: getEnvDuration("REPORTD_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	var addr, logLevel, stateDir, timezone, mode string
	var shutdownGrace time.Duration

	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flag.StringVar(&stateDir, "state-dir", "", "Directory to store the database")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&timezone, "timezone", "", "Business timezone for schedule wall-clock times")
	flag.StringVar(&mode, "mode", "", "Serve mode: http, mcp or both")
	flag.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")

	flag.Parse()

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if timezone != "" {
		cfg.Timezone = timezone
	}
	if mode != "" {
		cfg.Mode = mode
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "shutdown-grace" {
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	switch cfg.Mode {
	case "http", "mcp", "both":
	default:
		return nil, fmt.Errorf("invalid mode %q: want http, mcp or both", cfg.Mode)
	}

	if strings.TrimSpace(cfg.Generation.URL) == "" {
		return nil, fmt.Errorf("generation service URL is required")
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}

	if cfg.Poll.MaxAttempts < 1 {
		cfg.Poll.MaxAttempts = defaultPollAttempts
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = defaultPollInterval
	}

	return cfg, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "reportd")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
