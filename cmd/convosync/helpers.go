package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LuminPulse-AI/convosync"
	"go.uber.org/zap"
)

// session bundles what most commands need: the effective config, a logger
// and an authenticated backend client.
type session struct {
	cfg    *Config
	logger *zap.Logger
	client *convosync.Client
}

// newSession loads the effective config and builds the client. It fails when
// no token or user ID is configured.
func newSession() (*session, error) {
	cfg, err := loadEffectiveConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.Token == "" {
		return nil, fmt.Errorf("no token configured, run 'convosync init <token> --user-id <id>' first")
	}
	if cfg.Auth.UserID == "" {
		return nil, fmt.Errorf("no user ID configured, run 'convosync config set auth.user_id <id>'")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, client: newClient(cfg, logger)}, nil
}

func newClient(cfg *Config, logger *zap.Logger) *convosync.Client {
	opts := []convosync.ClientOption{convosync.WithClientLogger(logger)}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, convosync.WithBaseURL(cfg.Default.BaseURL))
	} else if cfg.Default.Environment != "" && cfg.Default.Environment != "production" {
		opts = append(opts, convosync.WithEnvironment(convosync.Environment(cfg.Default.Environment)))
	}
	if cfg.Engine.Transport == string(convosync.TransportSSE) {
		opts = append(opts, convosync.WithTransport(convosync.TransportSSE))
	}
	return convosync.NewClient(cfg.Auth.Token, opts...)
}

// callTimeout returns the configured per-call timeout or the engine default.
func (s *session) callTimeout() time.Duration {
	if s.cfg.Engine.CallTimeout == "" {
		return convosync.DefaultCallTimeout
	}
	d, err := time.ParseDuration(s.cfg.Engine.CallTimeout)
	if err != nil || d <= 0 {
		return convosync.DefaultCallTimeout
	}
	return d
}

func (s *session) close() {
	_ = s.logger.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode output: %w", err)
	}
	fmt.Fprintln(w, string(b))
	return nil
}

// maskKey shows the first and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
