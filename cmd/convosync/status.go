package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and backend health",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Environment:  %s\n", valueOrDefault(cfg.Default.Environment, "(not set)"))
		if cfg.Default.BaseURL != "" {
			fmt.Fprintf(out, "  Base URL:     %s\n", cfg.Default.BaseURL)
		}
		fmt.Fprintf(out, "  Transport:    %s\n", valueOrDefault(cfg.Engine.Transport, "ws"))
		fmt.Fprintf(out, "  Call timeout: %s\n", valueOrDefault(cfg.Engine.CallTimeout, "(default)"))

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Auth:")
		fmt.Fprintf(out, "  User ID:      %s\n", valueOrDefault(cfg.Auth.UserID, "(not set)"))
		if cfg.Auth.Token != "" {
			fmt.Fprintf(out, "  Token:        %s\n", maskKey(cfg.Auth.Token))
		} else {
			fmt.Fprintln(out, "  Token:        (not set)")
		}

		if cfg.Auth.Token == "" {
			return nil
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		s := &session{cfg: cfg, logger: logger, client: newClient(cfg, logger)}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Backend:")
		fmt.Fprintf(out, "  URL:          %s\n", s.client.BaseURL())

		ctx, cancel := context.WithTimeout(cmd.Context(), s.callTimeout())
		defer cancel()
		if err := s.client.Health(ctx); err != nil {
			fmt.Fprintf(out, "  Health:       unreachable (%v)\n", err)
			return nil
		}
		fmt.Fprintln(out, "  Health:       ok")
		return nil
	},
}
