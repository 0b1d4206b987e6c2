package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.convosync/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
	Engine  ConfigEngine  `toml:"engine"`
}

// ConfigDefault holds backend settings.
type ConfigDefault struct {
	Environment string `toml:"environment"`
	BaseURL     string `toml:"base_url"`
}

// ConfigAuth holds the user's credentials.
type ConfigAuth struct {
	Token  string `toml:"token"`
	UserID string `toml:"user_id"`
}

// ConfigEngine tunes the sync engine and live transport.
type ConfigEngine struct {
	CallTimeout   string `toml:"call_timeout"`
	Transport     string `toml:"transport"`
	LogLevel      string `toml:"log_level"`
	WebhookSecret string `toml:"webhook_secret"`
}

// envOverrides maps environment variables onto config keys.
var envOverrides = []struct {
	env string
	key string
}{
	{"CONVOSYNC_ENVIRONMENT", "default.environment"},
	{"CONVOSYNC_BASE_URL", "default.base_url"},
	{"CONVOSYNC_TOKEN", "auth.token"},
	{"CONVOSYNC_USER_ID", "auth.user_id"},
	{"CONVOSYNC_CALL_TIMEOUT", "engine.call_timeout"},
	{"CONVOSYNC_TRANSPORT", "engine.transport"},
	{"CONVOSYNC_LOG_LEVEL", "engine.log_level"},
	{"CONVOSYNC_WEBHOOK_SECRET", "engine.webhook_secret"},
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the config directory, creating it if needed.
// CONVOSYNC_HOME overrides the default ~/.convosync.
func configDir() (string, error) {
	dir := os.Getenv("CONVOSYNC_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".convosync")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// loadEffectiveConfig is loadConfig with CONVOSYNC_* environment variables
// (including those from a local .env file) applied on top. It is never saved.
func loadEffectiveConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.env); ok && v != "" {
			if err := setConfigValue(cfg, o.key, v); err != nil {
				return nil, fmt.Errorf("%s: %w", o.env, err)
			}
		}
	}
	return cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "auth.user_id").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. auth.user_id)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "environment":
			cfg.Default.Environment = value
		case "base_url":
			cfg.Default.BaseURL = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "user_id":
			cfg.Auth.UserID = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "engine":
		switch field {
		case "call_timeout":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid duration for engine.call_timeout: %w", err)
			}
			cfg.Engine.CallTimeout = value
		case "transport":
			switch value {
			case "ws", "sse", "webhook":
			default:
				return fmt.Errorf("engine.transport must be ws, sse or webhook, got %q", value)
			}
			cfg.Engine.Transport = value
		case "log_level":
			if _, err := zapcore.ParseLevel(value); err != nil {
				return fmt.Errorf("invalid engine.log_level: %w", err)
			}
			cfg.Engine.LogLevel = value
		case "webhook_secret":
			cfg.Engine.WebhookSecret = value
		default:
			return fmt.Errorf("unknown field %q in section [engine]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth, engine)", section)
	}
	return nil
}

// ============================================================================
// Logging
// ============================================================================

var (
	flagLogLevel string
	flagDev      bool
)

// newLogger builds a production zap logger at the configured level. Flags
// take precedence over the config file.
func newLogger(cfg *Config) (*zap.Logger, error) {
	level := cfg.Engine.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	if level == "" {
		level = "info"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	config := zap.NewProductionConfig()
	if flagDev {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "convosync")), nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "convosync",
	Short: "Conversation sync CLI",
	Long: "Command-line client for the convoyage marketplace messaging backend.\n" +
		"List conversations, read and send messages, and watch live updates.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagDev, "dev", false, "Human-readable development logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
