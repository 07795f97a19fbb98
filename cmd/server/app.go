package main

import (
	"context"

	"github.com/xiaoshi569/antigravity2api/internal/config"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/logger"
	"github.com/xiaoshi569/antigravity2api/internal/server"
	"github.com/xiaoshi569/antigravity2api/internal/service"
)

// Application 聚合常驻组件，统一启动顺序与停机顺序。
type Application struct {
	cfg         *config.Config
	server      *server.Server
	maintenance *service.MaintenanceService
	statsHub    *service.StatsHub
	cooldown    *service.CooldownService
}

func newApplication(
	cfg *config.Config,
	srv *server.Server,
	maintenance *service.MaintenanceService,
	statsHub *service.StatsHub,
	cooldown *service.CooldownService,
) *Application {
	return &Application{
		cfg:         cfg,
		server:      srv,
		maintenance: maintenance,
		statsHub:    statsHub,
		cooldown:    cooldown,
	}
}

// Run 按配置重建日志后启动后台服务与 HTTP 监听，阻塞到服务退出。
func (a *Application) Run() error {
	if err := logger.Init(loggerOptions(a.cfg)); err != nil {
		return err
	}

	a.maintenance.Start()
	a.statsHub.Start()
	return a.server.Start()
}

// Shutdown 与启动相反的顺序收尾：先停入口，再停后台服务。
func (a *Application) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.maintenance.Stop()
	a.statsHub.Stop()
	a.cooldown.Stop()
	logger.Sync()
	return err
}

func loggerOptions(cfg *config.Config) logger.InitOptions {
	return logger.InitOptions{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "antigravity2api",
		Output: logger.OutputOptions{
			ToStdout: true,
			ToFile:   cfg.Log.File != "",
			FilePath: cfg.Log.File,
		},
		Rotation: logger.RotationOptions{
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		},
	}
}
