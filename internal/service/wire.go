package service

import (
	"github.com/google/wire"

	"github.com/xiaoshi569/antigravity2api/internal/config"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/cloudcode"
	"github.com/xiaoshi569/antigravity2api/internal/scheduler"
)

// ProviderSet 提供服务层的依赖
var ProviderSet = wire.NewSet(
	ProvideUpstreamClient,
	ProvideGatewayService,
	ProvideMaintenanceService,
	NewStatsHub,
	NewCooldownService,
	wire.Bind(new(CredentialScheduler), new(*scheduler.Scheduler)),
	wire.Bind(new(Upstream), new(*cloudcode.UpstreamClient)),
	wire.Bind(new(StatsSource), new(*scheduler.Scheduler)),
	wire.Bind(new(TokenMaintainer), new(*scheduler.Scheduler)),
)

// ProvideUpstreamClient 构建上游流式客户端
func ProvideUpstreamClient(cfg *config.Config) *cloudcode.UpstreamClient {
	return cloudcode.NewUpstreamClient(cloudcode.UpstreamOptions{
		URL:            cfg.API.URL,
		Host:           cfg.API.Host,
		UserAgent:      cfg.API.UserAgent,
		Proxy:          cfg.API.Proxy,
		TLSFingerprint: cfg.API.TLSFingerprint,
	})
}

// ProvideGatewayService 构建补全网关
func ProvideGatewayService(cfg *config.Config, sched CredentialScheduler, upstream Upstream) *GatewayService {
	return NewGatewayService(sched, upstream, cloudcode.GenerationDefaults{
		Temperature: cfg.Defaults.Temperature,
		TopP:        cfg.Defaults.TopP,
		TopK:        cfg.Defaults.TopK,
		MaxTokens:   cfg.Defaults.MaxTokens,
	}, cfg.Retry.MaxRetries)
}

// ProvideMaintenanceService 构建后台令牌维护服务
func ProvideMaintenanceService(cfg *config.Config, sched TokenMaintainer) *MaintenanceService {
	return NewMaintenanceService(sched, cfg.Accounts.RefreshIntervalDuration())
}
