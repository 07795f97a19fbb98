package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xiaoshi569/antigravity2api/internal/config"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

func main() {
	logger.InitBootstrap()

	configPath := flag.String("config", "", "配置文件路径（默认 config.yaml，可用 CONFIG_PATH 覆盖）")
	flag.Parse()
	if *configPath != "" {
		_ = os.Setenv(config.EnvConfigPath, *configPath)
	}

	app, err := initializeApp()
	if err != nil {
		logger.L().Error("app.init_failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.L().Error("app.exited_with_error", zap.Error(err))
			logger.Sync()
			os.Exit(1)
		}
	case sig := <-quit:
		logger.L().Info("app.signal_received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Shutdown(ctx); err != nil {
			logger.L().Warn("app.shutdown_incomplete", zap.Error(err))
		}
	}

	logger.Sync()
}
