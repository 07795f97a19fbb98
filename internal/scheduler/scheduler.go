package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xiaoshi569/antigravity2api/internal/credential"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/cloudcode"
	infraerrors "github.com/xiaoshi569/antigravity2api/internal/pkg/errors"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/logger"
)

// Store 是调度器对凭据仓储的依赖切面。
type Store interface {
	Load() ([]*credential.Credential, error)
	LoadAll() []*credential.Credential
	SaveAll(updated []*credential.Credential) error
	Disable(cred *credential.Credential) ([]*credential.Credential, error)
}

// Refresher 把 refresh_token 换成新的短期访问令牌。
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*cloudcode.TokenInfo, error)
}

// CooldownTimer 在冷却到期时触发回调，把统计视图翻回可用状态。
// 同名任务重复注册时以最后一次为准。
type CooldownTimer interface {
	Schedule(name string, delay time.Duration, fn func())
}

// Options 控制调度策略。
type Options struct {
	// PerTokenConcurrency 是单凭据并发上限。
	PerTokenConcurrency int
	// RateLimitCooldownMS 是 429 未携带 Retry-After 时的固定冷却（毫秒）。
	RateLimitCooldownMS int64
}

// Scheduler 维护凭据轮换集并按最小在途数分发请求。
//
// 轮换集、在途计数与统计同受一把锁保护；选中与计数自增在同一临界区
// 完成，并发请求不会基于同一份快照选中同一凭据而超出其并发上限。
// 令牌刷新在锁外经 singleflight 合并，文件持久化由仓储自行串行化。
type Scheduler struct {
	store     Store
	refresher Refresher
	timer     CooldownTimer
	opts      Options

	mu      sync.Mutex
	enabled []*credential.Credential
	active  map[string]int
	stats   map[string]*credStats

	group singleflight.Group
	nowMS func() int64
}

// New 构建调度器并从仓储加载启用凭据。空凭据集不报错，
// 此时所有请求都会得到 service_unavailable。
func New(store Store, refresher Refresher, timer CooldownTimer, opts Options) (*Scheduler, error) {
	if opts.PerTokenConcurrency <= 0 {
		opts.PerTokenConcurrency = 2
	}
	if opts.RateLimitCooldownMS <= 0 {
		opts.RateLimitCooldownMS = 2000
	}

	s := &Scheduler{
		store:     store,
		refresher: refresher,
		timer:     timer,
		opts:      opts,
		active:    make(map[string]int),
		stats:     make(map[string]*credStats),
		nowMS:     func() int64 { return time.Now().UnixMilli() },
	}

	enabled, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	s.enabled = enabled

	logger.L().Info("scheduler.credentials_loaded",
		zap.Int("enabled", len(enabled)),
	)
	return s, nil
}

// Acquire 为一次请求挑选凭据并占用一个并发额度，返回快照副本。
// tried 是本次请求已经失败过的凭据集合，命中的凭据直接跳过；
// 选中的凭据过期时就地刷新，刷新失败则记账并继续扫描其余凭据。
func (s *Scheduler) Acquire(ctx context.Context, tried map[string]bool) (*credential.Credential, error) {
	if tried == nil {
		tried = make(map[string]bool)
	}

	for {
		cred, err := s.reserve(tried)
		if err != nil {
			return nil, err
		}
		if !cred.IsExpired(s.nowMS()) {
			return cred, nil
		}

		info, err := s.refresh(ctx, cred.Key())
		if err == nil {
			cred.AccessToken = info.AccessToken
			cred.ExpiresIn = int(info.ExpiresIn)
			cred.Timestamp = info.IssuedAtMS
			return cred, nil
		}

		// 刷新失败：退还额度并记账，该凭据在本次请求里不再参与。
		s.Release(cred.Key())
		s.recordRefreshFailure(cred.Key(), err)
		tried[cred.Key()] = true
	}
}

// reserve 执行单轮选择：跳过已试、冷却中与到达并发上限的凭据，
// 余下按在途数最小取胜，同值时取文件顺序靠前者。占位在锁内完成。
func (s *Scheduler) reserve(tried map[string]bool) (*credential.Credential, error) {
	now := s.nowMS()

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best       *credential.Credential
		bestActive int
		untried    int
		cooling    int
		overloaded int
	)
	minRemaining := int64(math.MaxInt64)

	for _, cred := range s.enabled {
		key := cred.Key()
		if tried[key] {
			continue
		}
		untried++

		if st, ok := s.stats[key]; ok && st.cooldownUntil > now {
			cooling++
			if rem := st.cooldownUntil - now; rem < minRemaining {
				minRemaining = rem
			}
			continue
		}

		active := s.active[key]
		if active >= s.opts.PerTokenConcurrency {
			overloaded++
			continue
		}
		if best == nil || active < bestActive {
			best = cred
			bestActive = active
		}
	}

	if best == nil {
		switch {
		case untried == 0:
			return nil, infraerrors.ServiceUnavailable("no credentials available")
		case cooling == untried:
			secs := int((minRemaining + 999) / 1000)
			return nil, infraerrors.RateLimited(
				fmt.Sprintf("all credentials cooling down, retry in %ds", secs), secs)
		case overloaded > 0:
			return nil, infraerrors.ServiceUnavailable("all credentials at concurrency limit")
		default:
			return nil, infraerrors.ServiceUnavailable("no credentials usable")
		}
	}

	s.active[best.Key()]++
	return best.Clone(), nil
}

// Release 退还 Acquire 占用的并发额度。重复退还是无害的 no-op。
func (s *Scheduler) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch n := s.active[key]; {
	case n > 1:
		s.active[key] = n - 1
	case n == 1:
		delete(s.active, key)
	}
}

// MarkSuccess 记录一次成功终态，清除冷却与连续 429 计数。
func (s *Scheduler) MarkSuccess(key string) {
	now := s.nowMS()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.statsLocked(key)
	st.totalRequests++
	st.successCount++
	st.lastUsedMS = now
	st.lastEvent = LastEventSuccess
	st.status = StatusIdle
	st.cooldownUntil = 0
	st.consecutive429 = 0
}

// MarkFailure 记录一次失败终态并执行对应的状态迁移：
// 429 进入冷却，鉴权失效同步禁用并持久化，5xx 与网络错误保持可选中。
func (s *Scheduler) MarkFailure(key string, outcome FailureOutcome) {
	now := s.nowMS()
	event := outcome.classify()

	s.mu.Lock()
	st := s.statsLocked(key)
	st.totalRequests++
	st.failureCount++
	st.lastUsedMS = now
	st.lastEvent = event
	st.lastError = &LastError{
		StatusCode: outcome.StatusCode,
		Message:    outcome.Message,
		Time:       now,
		IsNetwork:  outcome.IsNetwork,
	}

	var (
		toDisable   *credential.Credential
		cooldownFor time.Duration
	)
	switch event {
	case LastEventRateLimited:
		delay := outcome.RetryAfterMS
		if delay <= 0 {
			delay = s.opts.RateLimitCooldownMS
		}
		st.status = StatusRateLimited
		st.cooldownUntil = now + delay
		st.consecutive429++
		cooldownFor = time.Duration(delay) * time.Millisecond
	case LastEventAuthFailed:
		st.status = StatusDisabled
		st.cooldownUntil = 0
		// 先移出轮换再解锁，持久化期间不存在被重新选中的窗口。
		toDisable = s.removeLocked(key)
	case LastEventServerError, LastEventNetworkError:
		st.status = StatusIdle
		st.cooldownUntil = 0
		st.consecutive429 = 0
	default:
		st.status = StatusIdle
	}
	cooldownUntil := st.cooldownUntil
	consecutive := st.consecutive429
	s.mu.Unlock()

	if cooldownFor > 0 {
		s.scheduleCooldownExpiry(key, cooldownUntil, cooldownFor)
		logger.L().Warn("scheduler.credential_cooling",
			zap.String("credential", hashKey(key)),
			zap.Duration("duration", cooldownFor),
			zap.Int("consecutive_429", consecutive),
		)
	}
	if toDisable != nil {
		s.disableAndReload(toDisable)
	}
}

// EnsureFresh 在凭据已过期或将在 within 窗口内过期时刷新它，
// 返回是否真的发起了刷新。与请求路径共用 singleflight。
func (s *Scheduler) EnsureFresh(ctx context.Context, key string, within time.Duration) (bool, error) {
	s.mu.Lock()
	cred := s.findLocked(key)
	if cred == nil {
		s.mu.Unlock()
		return false, fmt.Errorf("credential not in rotation")
	}
	horizon := s.nowMS() + within.Milliseconds()
	needs := cred.IsExpired(horizon)
	s.mu.Unlock()

	if !needs {
		return false, nil
	}
	if _, err := s.refresh(ctx, key); err != nil {
		s.recordRefreshFailure(key, err)
		return false, err
	}
	return true, nil
}

// EnabledSnapshot 返回轮换集的快照副本，保持文件顺序。
func (s *Scheduler) EnabledSnapshot() []*credential.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*credential.Credential, 0, len(s.enabled))
	for _, c := range s.enabled {
		out = append(out, c.Clone())
	}
	return out
}

// EnabledCount 返回当前轮换集大小。
func (s *Scheduler) EnabledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.enabled)
}

// Reload 从仓储重载启用集。仍在轮换中的凭据沿用原对象，
// 内存里更新的令牌与 session_id 不会被文件内容回退。
func (s *Scheduler) Reload() error {
	fresh, err := s.store.Load()
	if err != nil {
		return err
	}
	s.swapEnabled(fresh)
	return nil
}

// AllStats 汇总文件里全部凭据（含禁用）的运行统计，按文件顺序输出。
func (s *Scheduler) AllStats() *StatsReport {
	records := s.store.LoadAll()
	now := s.nowMS()

	report := &StatsReport{
		Credentials: make([]CredentialStats, 0, len(records)),
		Timestamp:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, rec := range records {
		key := rec.Key()
		st := s.stats[key]
		active := s.active[key]

		entry := CredentialStats{
			Index:       i,
			Key:         rec.MaskedKey(),
			Remark:      rec.Remark,
			Enabled:     rec.Enable,
			ActiveCount: active,
			Status:      effectiveStatus(rec, st, active, now),
			LastStatus:  lastStatus(st),
		}
		if st != nil {
			entry.TotalRequests = st.totalRequests
			entry.SuccessCount = st.successCount
			entry.FailureCount = st.failureCount
			entry.RefreshCount = st.refreshCount
			entry.LastUsedTime = st.lastUsedMS
			entry.Consecutive429 = st.consecutive429
			entry.LastError = st.lastError
			if st.cooldownUntil > now {
				entry.CooldownUntil = st.cooldownUntil
			}
		}
		entry.SuccessRate = successRate(entry.SuccessCount, entry.TotalRequests)

		report.Summary.Total++
		if rec.Enable {
			report.Summary.Enabled++
		} else {
			report.Summary.Disabled++
		}
		if active > 0 {
			report.Summary.Active++
		}
		if entry.Status == StatusRateLimited {
			report.Summary.CoolingDown++
		}
		report.Summary.TotalRequests += entry.TotalRequests
		report.Summary.SuccessCount += entry.SuccessCount
		report.Summary.FailureCount += entry.FailureCount
		report.Summary.RefreshCount += entry.RefreshCount

		report.Credentials = append(report.Credentials, entry)
	}
	return report
}

// effectiveStatus 叠加运行态：禁用 > 在途 > 冷却 > 空闲。
func effectiveStatus(rec *credential.Credential, st *credStats, active int, now int64) Status {
	switch {
	case !rec.Enable:
		return StatusDisabled
	case st != nil && st.status == StatusDisabled:
		return StatusDisabled
	case active > 0:
		return StatusActive
	case st != nil && st.cooldownUntil > now:
		return StatusRateLimited
	default:
		return StatusIdle
	}
}

func lastStatus(st *credStats) string {
	if st == nil || st.lastEvent == "" {
		return LastEventUnused
	}
	return st.lastEvent
}

// refresh 经 singleflight 刷新令牌：同一凭据的并发刷新只发一次请求，
// 成功结果先写回内存再落盘。
func (s *Scheduler) refresh(ctx context.Context, key string) (*cloudcode.TokenInfo, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		info, err := s.refresher.Refresh(ctx, key)
		if err != nil {
			return nil, err
		}
		s.applyToken(key, info)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cloudcode.TokenInfo), nil
}

func (s *Scheduler) applyToken(key string, info *cloudcode.TokenInfo) {
	s.mu.Lock()
	var persisted *credential.Credential
	if cred := s.findLocked(key); cred != nil {
		cred.AccessToken = info.AccessToken
		cred.ExpiresIn = int(info.ExpiresIn)
		cred.Timestamp = info.IssuedAtMS
		persisted = cred.Clone()
	}
	st := s.statsLocked(key)
	st.refreshCount++
	s.mu.Unlock()

	if persisted == nil {
		return
	}
	if err := s.store.SaveAll([]*credential.Credential{persisted}); err != nil {
		// 持久化失败不致命：内存里的令牌仍然可用，下次启动重新刷新。
		logger.L().Warn("scheduler.token_persist_failed",
			zap.String("credential", hashKey(key)),
			zap.Error(err),
		)
		return
	}
	logger.L().Info("scheduler.token_refreshed",
		zap.String("credential", hashKey(key)),
		zap.Int64("expires_in", info.ExpiresIn),
	)
}

// recordRefreshFailure 把刷新失败折算成终态失败记账。
// refresh token 被吊销（invalid_grant 等）会触发禁用。
func (s *Scheduler) recordRefreshFailure(key string, err error) {
	outcome := FailureOutcome{Message: err.Error()}
	var rerr *cloudcode.RefreshError
	if errors.As(err, &rerr) {
		outcome.StatusCode = rerr.StatusCode
		outcome.IsNetwork = rerr.Network
		outcome.AuthRevoked = rerr.IsAuthRevoked()
		outcome.RetryAfterMS = rerr.RetryAfterMS
	}

	logger.L().Warn("scheduler.token_refresh_failed",
		zap.String("credential", hashKey(key)),
		zap.Error(err),
	)
	s.MarkFailure(key, outcome)
}

// disableAndReload 同步持久化禁用标记并换入重载后的轮换集。
func (s *Scheduler) disableAndReload(cred *credential.Credential) {
	enabled, err := s.store.Disable(cred)
	if err != nil {
		// 落盘失败时凭据留在禁用侧：内存轮换里已经移除了它。
		logger.L().Error("scheduler.disable_persist_failed",
			zap.String("credential", cred.Hash()),
			zap.Error(err),
		)
		return
	}
	s.swapEnabled(enabled)
	logger.L().Warn("scheduler.credential_disabled",
		zap.String("credential", cred.Hash()),
		zap.String("display", cred.Display()),
	)
}

func (s *Scheduler) scheduleCooldownExpiry(key string, until int64, delay time.Duration) {
	if s.timer == nil {
		return
	}
	s.timer.Schedule("cooldown:"+hashKey(key), delay, func() {
		s.expireCooldown(key, until)
	})
}

// expireCooldown 把到期的冷却翻回 idle；期间又被更晚的冷却覆盖时不动。
func (s *Scheduler) expireCooldown(key string, until int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[key]
	if !ok || st.cooldownUntil == 0 || st.cooldownUntil > until {
		return
	}
	st.cooldownUntil = 0
	if st.status == StatusRateLimited {
		st.status = StatusIdle
	}
}

// swapEnabled 换入新的轮换集，沿用已有凭据的原对象。
func (s *Scheduler) swapEnabled(fresh []*credential.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]*credential.Credential, len(s.enabled))
	for _, c := range s.enabled {
		current[c.Key()] = c
	}
	next := make([]*credential.Credential, 0, len(fresh))
	for _, c := range fresh {
		if old, ok := current[c.Key()]; ok {
			next = append(next, old)
			continue
		}
		next = append(next, c)
	}
	s.enabled = next
}

func (s *Scheduler) findLocked(key string) *credential.Credential {
	for _, c := range s.enabled {
		if c.Key() == key {
			return c
		}
	}
	return nil
}

func (s *Scheduler) removeLocked(key string) *credential.Credential {
	for i, c := range s.enabled {
		if c.Key() == key {
			s.enabled = append(s.enabled[:i], s.enabled[i+1:]...)
			return c
		}
	}
	return nil
}

func (s *Scheduler) statsLocked(key string) *credStats {
	st, ok := s.stats[key]
	if !ok {
		st = &credStats{status: StatusIdle}
		s.stats[key] = st
	}
	return st
}

func hashKey(key string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}
