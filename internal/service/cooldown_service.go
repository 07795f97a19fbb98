package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/collection"
	"go.uber.org/zap"

	"github.com/xiaoshi569/antigravity2api/internal/pkg/logger"
)

var newTimingWheel = collection.NewTimingWheel

// CooldownService 用 go-zero 的时间轮承接冷却到期回调。
// 调度本身不依赖它：选择逻辑按 cooldown_until 判定，时间轮只负责
// 把统计视图在到期时从 rate_limited 翻回 idle。
type CooldownService struct {
	tw       *collection.TimingWheel
	stopOnce sync.Once
}

// NewCooldownService 创建时间轮：1 秒精度，3600 槽位，最长支持一小时冷却。
func NewCooldownService() (*CooldownService, error) {
	tw, err := newTimingWheel(1*time.Second, 3600, func(key, value any) {
		if fn, ok := value.(func()); ok {
			fn()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("创建 timing wheel 失败: %w", err)
	}
	return &CooldownService{tw: tw}, nil
}

// Schedule 注册一次性任务。同名任务重复注册时以最后一次为准。
func (s *CooldownService) Schedule(name string, delay time.Duration, fn func()) {
	if err := s.tw.SetTimer(name, fn, delay); err != nil {
		logger.L().Warn("cooldown.schedule_failed",
			zap.String("task", name),
			zap.Error(err),
		)
	}
}

// Stop 停止时间轮。未触发的任务直接丢弃，调度正确性不受影响。
func (s *CooldownService) Stop() {
	s.stopOnce.Do(func() {
		s.tw.Stop()
		logger.L().Info("cooldown.timing_wheel_stopped")
	})
}
