package queue

import (
	"github.com/google/wire"

	"github.com/xiaoshi569/antigravity2api/internal/config"
	"github.com/xiaoshi569/antigravity2api/internal/scheduler"
)

// ProviderSet 提供准入队列的依赖
var ProviderSet = wire.NewSet(
	ProvideAdmissionQueue,
)

// ProvideAdmissionQueue 按配置构建全局准入队列；
// maxConcurrent 为 "auto" 时按启用凭据数推导。
func ProvideAdmissionQueue(cfg *config.Config, sched *scheduler.Scheduler) *AdmissionQueue {
	return New(Options{
		MaxConcurrent: cfg.Concurrency.ResolveMaxConcurrent(sched.EnabledCount()),
		QueueLimit:    cfg.Concurrency.QueueLimit,
		Timeout:       cfg.Concurrency.TimeoutDuration(),
	})
}
