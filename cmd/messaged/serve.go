package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/StricklySoft/messaged/internal/app"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}

			logger := app.NewLogger(cfg.Log, os.Stdout)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("starting messaged",
				slog.String("version", version),
				slog.String("addr", cfg.Server.Addr),
				slog.String("auth_mode", cfg.Auth.Mode),
				slog.String("session_backend", cfg.Session.Backend),
			)

			a, err := app.New(ctx, cfg, version, logger)
			if err != nil {
				logger.Error("failed to initialize", slog.String("error", err.Error()))
				return err
			}
			if err := a.Run(ctx); err != nil {
				logger.Error("server stopped with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("messaged stopped")
			return nil
		},
	}
}

