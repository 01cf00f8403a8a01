package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/relabs-tech/gps_streamer/internal/app"
	"github.com/relabs-tech/gps_streamer/internal/config"
)

func main() {
	// Load configuration
	if err := config.InitGlobal("gps_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting GPS console (MQTT subscriber)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsoleMQTT(ctx, cfg, os.Stdout, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}
