// Package config handles loading and validating the espremote configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/viper"
)

// Startup validation errors. Any of them is fatal.
var (
	ErrMissingCredential = errors.New("oracle api key is missing")
	ErrInvalidCredential = errors.New("oracle api key is invalid")
	ErrMissingHost       = errors.New("device host is missing")
	ErrUnknownBackend    = errors.New("unknown oracle backend")
)

// Config is the root configuration for the espremote daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Transports TransportsConfig `mapstructure:"transports"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Device     DeviceConfig     `mapstructure:"device"`
	Session    SessionConfig    `mapstructure:"session"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each user-facing transport.
type TransportsConfig struct {
	HTTP HTTPConfig `mapstructure:"http"`
	GRPC GRPCConfig `mapstructure:"grpc"`
}

// HTTPConfig configures the web control page, REST API and WebSocket.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// OracleConfig selects and configures the transcription and intent oracles.
type OracleConfig struct {
	Backend            string        `mapstructure:"backend"` // "groq" or "openai"
	APIKey             string        `mapstructure:"api_key"`
	BaseURL            string        `mapstructure:"base_url"`
	CompletionModel    string        `mapstructure:"completion_model"`
	TranscriptionModel string        `mapstructure:"transcription_model"`
	Temperature        float64       `mapstructure:"temperature"`
	MaxTokens          int64         `mapstructure:"max_tokens"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Proxy              string        `mapstructure:"proxy"` // optional SOCKS5 host:port
}

// DeviceConfig describes how to reach the microcontroller.
type DeviceConfig struct {
	// Host is the tunnel domain only, e.g. "c453-171-61-28-113.ngrok-free.app".
	// A scheme or trailing slash is tolerated and stripped.
	Host  string `mapstructure:"host"`
	Proxy string `mapstructure:"proxy"` // optional SOCKS5 host:port
}

// SessionConfig bounds per-session work.
type SessionConfig struct {
	InteractionTimeout time.Duration `mapstructure:"interaction_timeout"`
	IdleTTL            time.Duration `mapstructure:"idle_ttl"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

type backendDefaults struct {
	baseURL            string
	completionModel    string
	transcriptionModel string
	keyPrefix          string
	name               string
}

var backends = map[string]backendDefaults{
	"groq": {
		baseURL:            "https://api.groq.com/openai/v1/",
		completionModel:    "llama-3.1-8b-instant",
		transcriptionModel: "whisper-large-v3",
		keyPrefix:          "gsk_",
		name:               "Groq",
	},
	"openai": {
		baseURL:            "https://api.openai.com/v1/",
		completionModel:    "gpt-4o-mini",
		transcriptionModel: "whisper-1",
		keyPrefix:          "sk-",
		name:               "OpenAI",
	},
}

// OracleName returns the display name of the configured backend.
func (c OracleConfig) OracleName() string {
	if b, ok := backends[c.Backend]; ok {
		return b.name
	}
	return c.Backend
}

// Load reads the configuration from the env file, config file, environment
// variables and defaults, in increasing order of precedence for the
// environment. If configFile is non-empty it is used directly; otherwise the
// standard search order applies: ./espremote.yaml, ./configs/espremote.yaml,
// /etc/espremote/espremote.yaml. A missing envFile is not an error.
func Load(configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading env file: %w", err)
		}
	}

	v := viper.New()

	// Defaults
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8080)
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("oracle.backend", "groq")
	v.SetDefault("oracle.temperature", 0.1)
	v.SetDefault("oracle.max_tokens", 100)
	v.SetDefault("oracle.timeout", "30s")
	v.SetDefault("session.interaction_timeout", "60s")
	v.SetDefault("session.idle_ttl", "30m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("espremote")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/espremote")
	}

	// Environment variables: ESPREMOTE_DEVICE_HOST, ESPREMOTE_ORACLE_API_KEY, etc.
	// GROQ_API_KEY and ESP_HOST are accepted as well.
	v.SetEnvPrefix("ESPREMOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("oracle.api_key", "ESPREMOTE_ORACLE_API_KEY", "GROQ_API_KEY")
	_ = v.BindEnv("device.host", "ESPREMOTE_DEVICE_HOST", "ESP_HOST")
	_ = v.BindEnv("oracle.base_url")
	_ = v.BindEnv("oracle.completion_model")
	_ = v.BindEnv("oracle.transcription_model")
	_ = v.BindEnv("oracle.proxy")
	_ = v.BindEnv("device.proxy")

	// Read config file (optional: env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${GROQ_API_KEY}")
	cfg.Oracle.APIKey = strings.TrimSpace(resolveEnvRef(cfg.Oracle.APIKey))
	cfg.Device.Host = normalizeHost(resolveEnvRef(cfg.Device.Host))
	cfg.Oracle.Backend = strings.ToLower(strings.TrimSpace(cfg.Oracle.Backend))

	if b, ok := backends[cfg.Oracle.Backend]; ok {
		if cfg.Oracle.BaseURL == "" {
			cfg.Oracle.BaseURL = b.baseURL
		}
		if cfg.Oracle.CompletionModel == "" {
			cfg.Oracle.CompletionModel = b.completionModel
		}
		if cfg.Oracle.TranscriptionModel == "" {
			cfg.Oracle.TranscriptionModel = b.transcriptionModel
		}
	}

	return &cfg, nil
}

// Validate checks the settings the daemon cannot start without.
// The credential is only checked for the backend's key prefix; it is not
// authenticated against the provider.
func (c *Config) Validate() error {
	b, ok := backends[c.Oracle.Backend]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Oracle.Backend)
	}
	if c.Oracle.APIKey == "" {
		return ErrMissingCredential
	}
	if !strings.HasPrefix(c.Oracle.APIKey, b.keyPrefix) {
		return fmt.Errorf("%w: expected a key starting with %q", ErrInvalidCredential, b.keyPrefix)
	}
	if c.Device.Host == "" {
		return ErrMissingHost
	}
	if c.Session.InteractionTimeout <= 0 {
		return fmt.Errorf("session.interaction_timeout must be positive, got %s", c.Session.InteractionTimeout)
	}
	return nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env
// var value. An unset variable resolves to "" so validation reports it.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		return os.Getenv(val[2 : len(val)-1])
	}
	return val
}

// normalizeHost reduces a host setting to the bare domain (and port).
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimRight(host, "/")
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	slog.SetDefault(slog.New(handler))
}
