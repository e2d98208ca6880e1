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

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// RedisConfig holds the optional dashboard cache settings. The cache is
// disabled when Addr is empty.
type RedisConfig struct {
	Addr         string
	DashboardTTL time.Duration
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server ServerConfig
	Log    LogConfig
	Bark   BarkConfig
	Redis  RedisConfig

	// Mode selects which surfaces run: http, mcp or both.
	Mode     string
	StateDir string
	// Timezone is the reference timezone for all cycle math (daily
	// 04:00 cutover, ISO weeks). Empty means system local time.
	Timezone string
	// DigestCron schedules the post-reset reminder digest.
	DigestCron string
	// StatusRetentionDays bounds how long closed cycle records are kept.
	StatusRetentionDays int
	ShutdownGrace       time.Duration
}

const (
	defaultAddr          = "0.0.0.0:7070"
	defaultLogLevel      = "info"
	defaultMode          = "http"
	defaultDigestCron    = "5 4 * * *"
	defaultRetentionDays = 90
	defaultShutdownGrace = 5 * time.Second
	defaultDashboardTTL  = 5 * time.Second
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
		envFiles = append(envFiles, filepath.Join(configDir, "questtab", ".env"))
	}
	_ = godotenv.Load(envFiles...) // the file is optional

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("QUESTTAB_ADDR", defaultAddr),
			AuthToken: getEnvString("QUESTTAB_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level: getEnvString("QUESTTAB_LOG_LEVEL", defaultLogLevel),
		},
		Bark: BarkConfig{
			URL:     getEnvString("QUESTTAB_BARK_URL", ""),
			Enabled: getEnvBool("QUESTTAB_BARK_ENABLED", false),
		},
		Redis: RedisConfig{
			Addr:         getEnvString("QUESTTAB_REDIS_ADDR", ""),
			DashboardTTL: getEnvDuration("QUESTTAB_REDIS_DASHBOARD_TTL", defaultDashboardTTL),
		},
		Mode:                getEnvString("QUESTTAB_MODE", defaultMode),
		StateDir:            getEnvString("QUESTTAB_STATE_DIR", ""),
		Timezone:            getEnvString("QUESTTAB_TIMEZONE", ""),
		DigestCron:          getEnvString("QUESTTAB_DIGEST_CRON", defaultDigestCron),
		StatusRetentionDays: getEnvInt("QUESTTAB_STATUS_RETENTION_DAYS", defaultRetentionDays),
		ShutdownGrace:       getEnvDuration("QUESTTAB_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	var addr, logLevel, stateDir, timezone, mode, digestCron string
	var retentionDays int
	var shutdownGrace time.Duration

	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flag.StringVar(&stateDir, "state-dir", "", "Directory to store the database")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&timezone, "timezone", "", "Reference timezone for cycle math, e.g. Asia/Shanghai")
	flag.StringVar(&mode, "mode", "", "Run mode: http, mcp or both")
	flag.StringVar(&digestCron, "digest-cron", "", "Cron expression for the reminder digest")
	flag.IntVar(&retentionDays, "status-retention-days", 0, "Days to keep closed status records")
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
	if digestCron != "" {
		cfg.DigestCron = digestCron
	}
	if retentionDays > 0 {
		cfg.StatusRetentionDays = retentionDays
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "shutdown-grace" {
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	switch cfg.Mode {
	case "http", "mcp", "both":
	default:
		return nil, fmt.Errorf("invalid mode %q (want http, mcp or both)", cfg.Mode)
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.StatusRetentionDays < 1 {
		cfg.StatusRetentionDays = defaultRetentionDays
	}
	return cfg, nil
}

// Location resolves the configured reference timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "questtab")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
