// cmd/trader/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rovshanmuradov/solana-sniper/internal/app"
	"github.com/rovshanmuradov/solana-sniper/internal/config"
	"github.com/rovshanmuradov/solana-sniper/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "path to the JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logs := logger.NewBuffer(0)
	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   true,
	}, logs.Core(zapcore.InfoLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync(log) }()

	log.Info("Starting position engine", zap.String("config", *configPath))

	ctx := context.Background()
	runner := app.NewRunner(cfg, log, logs)
	if err := runner.Initialize(ctx); err != nil {
		log.Error("Failed to initialize", zap.Error(err))
		_ = runner.Abort()
		_ = logger.Sync(log)
		os.Exit(1)
	}

	if err := runner.Run(ctx); err != nil {
		log.Error("Shutdown finished with errors", zap.Error(err))
		_ = logger.Sync(log)
		os.Exit(1)
	}
}
