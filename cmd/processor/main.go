package main

import (
	"flag"

	"go.uber.org/zap"

	"github.com/mykobo/anchor-solana/internal/app"
	"github.com/mykobo/anchor-solana/internal/config"
	"github.com/mykobo/anchor-solana/pkg/logger"
)

const serviceName = "anchor-processor"

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: serviceName,
	}); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting service",
		zap.String("service", serviceName),
		zap.String("env", cfg.Service.Env))

	application, err := app.NewApp(cfg, app.RoleProcessor)
	if err != nil {
		logger.Fatal("failed to create app", zap.Error(err))
	}

	if err := application.Run(); err != nil {
		logger.Fatal("app run error", zap.Error(err))
	}

	logger.Info("service stopped")
}
