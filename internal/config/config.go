package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all client configuration
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Poll     PollConfig     `mapstructure:"poll"`
	Sound    SoundConfig    `mapstructure:"sound"`
	Identity IdentityConfig `mapstructure:"identity"`
	Ops      OpsConfig      `mapstructure:"ops"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type BackendConfig struct {
	// BaseURL is the http(s) root of the backend; the /api prefix is appended
	// by the client.
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UploadTimeout  time.Duration `mapstructure:"upload_timeout"`
	// VisitorSource is the source tag sent when creating visitor identities.
	VisitorSource string `mapstructure:"visitor_source"`
}

// APIURL returns the REST root including the /api prefix.
func (c BackendConfig) APIURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api"
}

type RealtimeConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	// MaxRetries bounds consecutive failed reconnect attempts; 0 retries
	// forever.
	MaxRetries    int           `mapstructure:"max_retries"`
	TypingTimeout time.Duration `mapstructure:"typing_timeout"`
}

type PollConfig struct {
	// Interval between full session-list pulls on the agent side.
	Interval time.Duration `mapstructure:"interval" validate:"required"`
}

type SoundConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
	Volume   float64       `mapstructure:"volume" validate:"gte=0,lte=1"`
}

type IdentityConfig struct {
	// Dir holds the persisted visitor identity and agent credential files.
	// Defaults to the user config dir.
	Dir string `mapstructure:"dir"`
}

type OpsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPath string `mapstructure:"metrics_path"`
}

func (c OpsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File enables a rotating log file next to console output when set.
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Identity.Dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = "."
		}
		cfg.Identity.Dir = filepath.Join(base, "chatdesk")
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Backend
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.request_timeout", "15s")
	v.SetDefault("backend.upload_timeout", "60s")
	v.SetDefault("backend.visitor_source", "widget")

	// Realtime
	v.SetDefault("realtime.handshake_timeout", "10s")
	v.SetDefault("realtime.write_timeout", "5s")
	v.SetDefault("realtime.initial_backoff", "500ms")
	v.SetDefault("realtime.max_backoff", "30s")
	v.SetDefault("realtime.max_retries", 12)
	v.SetDefault("realtime.typing_timeout", "3s")

	// Poll
	v.SetDefault("poll.interval", "10s")

	// Sound
	v.SetDefault("sound.enabled", true)
	v.SetDefault("sound.debounce", "800ms")
	v.SetDefault("sound.volume", 0.5)

	// Ops
	v.SetDefault("ops.enabled", true)
	v.SetDefault("ops.host", "127.0.0.1")
	v.SetDefault("ops.port", 9190)
	v.SetDefault("ops.metrics_path", "/metrics")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.max_age", "168h")
	v.SetDefault("logging.rotation_time", "24h")
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("backend.base_url", "CHATDESK_BACKEND_URL")
	v.BindEnv("identity.dir", "CHATDESK_IDENTITY_DIR")
	v.BindEnv("logging.level", "CHATDESK_LOG_LEVEL")
	v.BindEnv("ops.port", "CHATDESK_OPS_PORT")
	v.BindEnv("sound.enabled", "CHATDESK_SOUND")
}
