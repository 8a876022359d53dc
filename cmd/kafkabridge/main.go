package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/camelya58/kafkabridge/internal/app"
	"github.com/camelya58/kafkabridge/internal/config"
	"github.com/camelya58/kafkabridge/internal/logger"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file (default: .env in the working directory)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	application, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to create application", zap.Error(err))
	}

	if err := application.Run(ctx); err != nil {
		log.Error("Application error", zap.Error(err))
		os.Exit(1)
	}
}
