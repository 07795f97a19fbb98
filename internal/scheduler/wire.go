package scheduler

import (
	"time"

	"github.com/google/wire"

	"github.com/xiaoshi569/antigravity2api/internal/config"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/cloudcode"
	"github.com/xiaoshi569/antigravity2api/internal/repository"
)

// ProviderSet 提供调度层的依赖
var ProviderSet = wire.NewSet(
	ProvideTokenRefresher,
	ProvideScheduler,
	wire.Bind(new(Store), new(*repository.CredentialStore)),
	wire.Bind(new(Refresher), new(*cloudcode.TokenRefresher)),
)

// ProvideTokenRefresher 构建 OAuth 刷新客户端，与上游调用共用代理配置。
func ProvideTokenRefresher(cfg *config.Config) *cloudcode.TokenRefresher {
	client := cloudcode.NewHTTPClient(cfg.API.Proxy, 30*time.Second)
	return cloudcode.NewTokenRefresher(client, cloudcode.RefreshOptions{
		TokenURL:     cfg.OAuth.TokenURL,
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
	})
}

// ProvideScheduler 构建调度器并加载启用凭据。
func ProvideScheduler(cfg *config.Config, store Store, refresher Refresher, timer CooldownTimer) (*Scheduler, error) {
	return New(store, refresher, timer, Options{
		PerTokenConcurrency: cfg.Concurrency.PerTokenConcurrency,
		RateLimitCooldownMS: cfg.Retry.RateLimitCooldown,
	})
}
