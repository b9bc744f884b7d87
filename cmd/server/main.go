package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"pumprelay/relay-server/internal/app"
	"pumprelay/relay-server/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("starting pump relay",
		"port", cfg.HTTPPort,
		"store", cfg.LogStore,
		"logs_policy", cfg.LogsPolicy,
		"identify_policy", cfg.IdentifyPolicy,
		"mqtt_mirror", cfg.MQTTBroker != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, logger).Run(ctx); err != nil {
		logger.Error("relay terminated", "error", err)
		os.Exit(1)
	}

	logger.Info("relay stopped cleanly")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
