package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultLogLevel        = "info"
	defaultAPIPort         = 8080
	defaultDataDir         = "data"
	defaultStore           = StoreMemory
	defaultExprCacheSize   = 1000
	defaultScriptTimeout   = time.Second
	defaultHistoryMaxLines = 1000
	defaultShutdownTimeout = 5 * time.Second
	defaultNATSPrefix      = "weir"
)

const (
	StoreMemory = "memory"
	StoreFile   = "file"
)

type Config struct {
	LogLevel        string
	APIPort         int
	DataDir         string
	Store           string
	ExprCacheSize   int
	ScriptTimeout   time.Duration
	HistoryMaxLines int
	ShutdownTimeout time.Duration
	NATSURL         string
	NATSPrefix      string
	// NATSDurable reads intake through a JetStream stream instead of core
	// subscriptions.
	NATSDurable     bool
}

func LoadFromEnv() (Config, error) {
	port, err := parseEnvInt("WEIR_API_PORT", defaultAPIPort)
	if err != nil {
		return Config{}, err
	}
	cacheSize, err := parseEnvInt("WEIR_EXPR_CACHE_SIZE", defaultExprCacheSize)
	if err != nil {
		return Config{}, err
	}
	scriptTimeoutMS, err := parseEnvInt("WEIR_SCRIPT_TIMEOUT_MS", int(defaultScriptTimeout/time.Millisecond))
	if err != nil {
		return Config{}, err
	}
	historyLines, err := parseEnvInt("WEIR_HISTORY_MAX_LINES", defaultHistoryMaxLines)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := parseEnvDuration("WEIR_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	durable, err := parseEnvBool("WEIR_NATS_DURABLE", false)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogLevel:        getEnv("WEIR_LOG_LEVEL", defaultLogLevel),
		APIPort:         port,
		DataDir:         getEnv("WEIR_DATA_DIR", defaultDataDir),
		Store:           getEnv("WEIR_STORE", defaultStore),
		ExprCacheSize:   cacheSize,
		ScriptTimeout:   time.Duration(scriptTimeoutMS) * time.Millisecond,
		HistoryMaxLines: historyLines,
		ShutdownTimeout: shutdownTimeout,
		NATSURL:         getEnv("NATS_URL", ""),
		NATSPrefix:      getEnv("WEIR_NATS_PREFIX", defaultNATSPrefix),
		NATSDurable:     durable,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("api port %d out of range", c.APIPort)
	}
	switch c.Store {
	case StoreMemory:
	case StoreFile:
		if c.DataDir == "" {
			return errors.New("data dir cannot be empty for the file store")
		}
	default:
		return fmt.Errorf("unsupported store %q", c.Store)
	}
	if c.ExprCacheSize <= 0 {
		return errors.New("expression cache size must be positive")
	}
	if c.ScriptTimeout <= 0 {
		return errors.New("script timeout must be positive")
	}
	if c.HistoryMaxLines <= 0 {
		return errors.New("history max lines must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.NATSURL != "" && c.NATSPrefix == "" {
		return errors.New("nats prefix cannot be empty when nats is enabled")
	}
	return nil
}

// Addr is the listen address of the HTTP API.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.APIPort) }

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func parseEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer number of seconds: %w", key, err)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("%s must be > 0 seconds", key)
	}
	return time.Duration(seconds) * time.Second, nil
}

func parseEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return out, nil
}

func parseEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return parsed, nil
}
