package main

import (
	"context"
	"log"
	"os"

	appconfig "github.com/lewisedginton/line_assistant_bridge/internal/config"
	"github.com/lewisedginton/line_assistant_bridge/internal/server"
	"github.com/lewisedginton/line_assistant_bridge/pkg/config"
	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

func main() {
	ctx := context.Background()

	// Optional YAML config file; environment variables always win.
	configFile := os.Getenv("CONFIG_FILE")

	var cfg appconfig.AppConfig
	if err := config.GetConfig(&cfg, configFile, true); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg := logger.NewLogger(logger.Config{
		Level:   cfg.GetLogLevel(),
		Format:  cfg.Logging.Format,
		Service: cfg.ServiceName,
	})

	cfg.LogConfig(logg)

	srv, err := server.New(ctx, &cfg, logg)
	if err != nil {
		logg.Error("Failed to initialize server", logger.ErrorField(err))
		os.Exit(1)
	}

	if err := srv.Run(); err != nil {
		logg.Error("Server exited with error", logger.ErrorField(err))
		os.Exit(1)
	}
}
