// Package config loads service settings from an optional YAML file overlaid
// by DROPSPOT_* environment variables. Precedence: defaults < file < env.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var Version = "dev"

const (
	envPrefix = "DROPSPOT_"

	// EnvConfigPath names the YAML file when --config is not given.
	EnvConfigPath = envPrefix + "CONFIG"

	StorageMemory   = "memory"
	StorageMySQL    = "mysql"
	StoragePostgres = "postgres"

	devJWTSecret = "dropspot-dev-secret"
)

type Config struct {
	HTTPAddr string
	// GRPCAddr empty disables the gRPC listener.
	GRPCAddr string

	LogLevel  slog.Level
	LogFormat string

	Storage     string
	MySQLDSN    string
	PostgresDSN string
	Migrate     bool
	// RedisAddr empty disables the shared stock counter.
	RedisAddr string

	JWTSecret string
	JWTLeeway time.Duration
	Dev       bool

	PrioritySeed string

	LaneTimeout     time.Duration
	CommitTimeout   time.Duration
	LaneIdleTimeout time.Duration

	DropCacheSize int
	DropCacheTTL  time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration
}

// source resolves a key from the environment first, then the YAML file.
// A key that is present but empty counts as set for strings only.
type source struct {
	file map[string]string
}

func (s source) raw(key string) (string, bool) {
	if val, ok := os.LookupEnv(envPrefix + strings.ToUpper(key)); ok {
		return val, true
	}
	val, ok := s.file[key]
	return val, ok
}

func (s source) lookup(key string) (string, bool) {
	val, ok := s.raw(key)
	return val, ok && val != ""
}

func (s source) str(key, defaultVal string) string {
	if val, ok := s.raw(key); ok {
		return val
	}
	return defaultVal
}

// opt is str where an empty value falls back to the default.
func (s source) opt(key, defaultVal string) string {
	if val, ok := s.lookup(key); ok {
		return val
	}
	return defaultVal
}

func (s source) integer(key string, defaultVal int) (int, error) {
	val, ok := s.lookup(key)
	if !ok {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, val)
	}
	return n, nil
}

func (s source) boolean(key string, defaultVal bool) (bool, error) {
	val, ok := s.lookup(key)
	if !ok {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, val)
	}
	return b, nil
}

func (s source) duration(key string, defaultVal time.Duration) (time.Duration, error) {
	val, ok := s.lookup(key)
	if !ok {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q (use Go format: 500ms, 5s, 1m)", key, val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}

func readFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return values, nil
}

// Load builds the configuration. path may be empty, in which case
// DROPSPOT_CONFIG is consulted.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	file, err := readFile(path)
	if err != nil {
		return nil, err
	}
	src := source{file: file}

	cfg := &Config{
		HTTPAddr:     src.opt("http_addr", ":8080"),
		GRPCAddr:     src.str("grpc_addr", ":50051"),
		LogFormat:    src.opt("log_format", "json"),
		Storage:      strings.ToLower(src.opt("storage", StorageMemory)),
		MySQLDSN:     src.str("mysql_dsn", ""),
		PostgresDSN:  src.str("postgres_dsn", ""),
		RedisAddr:    src.str("redis_addr", ""),
		JWTSecret:    src.str("jwt_secret", ""),
		PrioritySeed: src.opt("priority_seed", "deadbeefcafe"),
	}

	cfg.LogLevel, err = parseLogLevel(src.opt("log_level", "info"))
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("log_format: invalid format %q, allowed: json, text", cfg.LogFormat)
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var e error
	cfg.Migrate, e = src.boolean("migrate", true)
	collect(e)
	cfg.Dev, e = src.boolean("dev", false)
	collect(e)
	cfg.DropCacheSize, e = src.integer("drop_cache_size", 1024)
	collect(e)

	durations := []struct {
		key  string
		dst  *time.Duration
		dflt time.Duration
	}{
		{"jwt_leeway", &cfg.JWTLeeway, 30 * time.Second},
		{"lane_timeout", &cfg.LaneTimeout, 2 * time.Second},
		{"commit_timeout", &cfg.CommitTimeout, 5 * time.Second},
		{"lane_idle_timeout", &cfg.LaneIdleTimeout, time.Minute},
		{"drop_cache_ttl", &cfg.DropCacheTTL, 5 * time.Second},
		{"http_read_timeout", &cfg.HTTPReadTimeout, 15 * time.Second},
		{"http_write_timeout", &cfg.HTTPWriteTimeout, 30 * time.Second},
		{"http_idle_timeout", &cfg.HTTPIdleTimeout, 60 * time.Second},
		{"shutdown_timeout", &cfg.ShutdownTimeout, 10 * time.Second},
	}
	for _, d := range durations {
		*d.dst, e = src.duration(d.key, d.dflt)
		collect(e)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StorageMemory:
	case StorageMySQL:
		if c.MySQLDSN == "" {
			return errors.New("mysql_dsn: required when storage is mysql")
		}
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres_dsn: required when storage is postgres")
		}
	default:
		return fmt.Errorf("storage: invalid backend %q, allowed: memory, mysql, postgres", c.Storage)
	}

	if c.DropCacheSize < 0 {
		return errors.New("drop_cache_size: must not be negative")
	}
	if c.CommitTimeout < c.LaneTimeout {
		return errors.New("commit_timeout: must not be shorter than lane_timeout")
	}

	if c.JWTSecret == "" {
		if !c.Dev || c.Storage != StorageMemory {
			return errors.New("jwt_secret: required outside dev mode with memory storage")
		}
		c.JWTSecret = devJWTSecret
	}
	return nil
}

func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("version", Version))
	slog.SetDefault(logger)
	return logger
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid level %q, allowed: debug, info, warn, error", level)
	}
}
