// Arogya - Ayurvedic herbal remedy assistant server
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/arogya/internal/app"
	"github.com/ashureev/arogya/internal/config"
	"github.com/ashureev/arogya/internal/logging"
	"github.com/joho/godotenv"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		slog.Error("Failed to configure logging", "error", err)
		os.Exit(1)
	}
	if envErr != nil {
		logger.Info("No .env file found, using environment variables")
	}

	logger.Info("Starting server",
		"port", cfg.Port,
		"grpc_port", cfg.GRPCPort,
		"db_driver", cfg.DBDriver,
		"dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}

	runErr := a.Run(ctx)
	a.Close()
	if runErr != nil {
		logger.Error("Server stopped with error", "error", runErr)
		os.Exit(1)
	}

	logger.Info("Server stopped successfully")
}
