package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/xiaoshi569/antigravity2api/internal/credential"
)

// maintenanceConcurrency 限制一轮维护里并发刷新的凭据数。
const maintenanceConcurrency = 4

// TokenMaintainer 是维护任务对调度器的依赖切面。
type TokenMaintainer interface {
	EnabledSnapshot() []*credential.Credential
	EnsureFresh(ctx context.Context, key string, within time.Duration) (bool, error)
}

// MaintenanceService 定期刷新已过期或即将过期的 access token，
// 让请求路径基本不用承担刷新延迟。刷新经调度器的 singleflight，
// 不可重试的 OAuth 失败（invalid_grant 等）会顺带禁用凭据。
type MaintenanceService struct {
	sched    TokenMaintainer
	interval time.Duration

	cron *cron.Cron

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewMaintenanceService(sched TokenMaintainer, interval time.Duration) *MaintenanceService {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &MaintenanceService{
		sched:    sched,
		interval: interval,
	}
}

// Start 启动后台维护。启动时先跑一轮，不等第一个周期。
func (s *MaintenanceService) Start() {
	s.startOnce.Do(func() {
		spec := "@every " + s.interval.String()
		c := cron.New()
		if _, err := c.AddFunc(spec, s.runCycle); err != nil {
			slog.Error("maintenance.schedule_failed", "spec", spec, "error", err)
			return
		}
		s.cron = c
		s.cron.Start()
		go s.runCycle()

		slog.Info("maintenance.service_started", "interval", s.interval.String())
	})
}

// Stop 停止维护任务，等待进行中的一轮结束（限时 3 秒）。
func (s *MaintenanceService) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			ctx := s.cron.Stop()
			select {
			case <-ctx.Done():
			case <-time.After(3 * time.Second):
				slog.Warn("maintenance.stop_timed_out")
			}
		}
		slog.Info("maintenance.service_stopped")
	})
}

// runCycle 扫描轮换集并刷新将在下个周期内过期的 token。
func (s *MaintenanceService) runCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	creds := s.sched.EnabledSnapshot()

	var refreshed, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(maintenanceConcurrency)

	for _, cred := range creds {
		key := cred.Key()
		g.Go(func() error {
			did, err := s.sched.EnsureFresh(ctx, key, s.interval)
			if err != nil {
				// 单凭据失败不影响整轮；禁用与记账已在调度器里完成。
				failed.Add(1)
				return nil
			}
			if did {
				refreshed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	// 无刷新活动时降级为 Debug，避免周期性噪音。
	if refreshed.Load() == 0 && failed.Load() == 0 {
		slog.Debug("maintenance.cycle_completed",
			"total", len(creds), "refreshed", int64(0), "failed", int64(0))
		return
	}
	slog.Info("maintenance.cycle_completed",
		"total", len(creds),
		"refreshed", refreshed.Load(),
		"failed", failed.Load(),
	)
}
