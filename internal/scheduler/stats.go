package scheduler

import "math"

// Status 是凭据状态机取值，对外出现在 /api/stats 里。
type Status string

const (
	StatusIdle        Status = "idle"
	StatusActive      Status = "active"
	StatusRateLimited Status = "rate_limited"
	StatusDisabled    Status = "disabled"
)

// 最近一次终态事件的分类。
const (
	LastEventUnused       = "unused"
	LastEventSuccess      = "success"
	LastEventRateLimited  = "rate_limited"
	LastEventAuthFailed   = "auth_failed"
	LastEventServerError  = "server_error"
	LastEventNetworkError = "network_error"
	LastEventError        = "error"
)

// LastError 记录凭据最近一次失败的细节，成功后保留作为历史参考。
type LastError struct {
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
	Time       int64  `json:"time"`
	IsNetwork  bool   `json:"is_network_error,omitempty"`
}

// credStats 是单个凭据的内存计数器，由调度器在锁内独占读写。
type credStats struct {
	totalRequests  int64
	successCount   int64
	failureCount   int64
	refreshCount   int64
	lastUsedMS     int64
	lastError      *LastError
	status         Status
	cooldownUntil  int64 // 毫秒时间戳，0 表示无冷却
	consecutive429 int
	lastEvent      string // 空串表示尚无终态事件
}

// FailureOutcome 描述一次终态失败，驱动调度器的状态迁移。
// StatusCode 为 0 表示非 HTTP 失败（传输错误或流中断）。
type FailureOutcome struct {
	StatusCode   int
	Message      string
	IsNetwork    bool
	AuthRevoked  bool
	RetryAfterMS int64
}

// classify 把失败归入终态事件分类。
func (o FailureOutcome) classify() string {
	switch {
	case o.IsNetwork:
		return LastEventNetworkError
	case o.AuthRevoked, o.StatusCode == 401, o.StatusCode == 403:
		return LastEventAuthFailed
	case o.StatusCode == 429:
		return LastEventRateLimited
	case o.StatusCode >= 500:
		return LastEventServerError
	default:
		return LastEventError
	}
}

// CredentialStats 是统计接口里单个凭据的条目，按文件顺序排列。
type CredentialStats struct {
	Index          int        `json:"index"`
	Key            string     `json:"key"`
	Remark         string     `json:"remark,omitempty"`
	Enabled        bool       `json:"enabled"`
	Status         Status     `json:"status"`
	LastStatus     string     `json:"last_status"`
	ActiveCount    int        `json:"active_count"`
	TotalRequests  int64      `json:"total_requests"`
	SuccessCount   int64      `json:"success_count"`
	FailureCount   int64      `json:"failure_count"`
	RefreshCount   int64      `json:"refresh_count"`
	SuccessRate    float64    `json:"success_rate"`
	LastUsedTime   int64      `json:"last_used_time,omitempty"`
	CooldownUntil  int64      `json:"cooldown_until,omitempty"`
	Consecutive429 int        `json:"consecutive_429_count,omitempty"`
	LastError      *LastError `json:"last_error,omitempty"`
}

// StatsSummary 是跨凭据聚合。Active 统计有在途请求的凭据个数。
type StatsSummary struct {
	Total         int   `json:"total"`
	Enabled       int   `json:"enabled"`
	Disabled      int   `json:"disabled"`
	Active        int   `json:"active"`
	CoolingDown   int   `json:"cooling_down"`
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	FailureCount  int64 `json:"failure_count"`
	RefreshCount  int64 `json:"refresh_count"`
}

// StatsReport 是 /api/stats 与 WebSocket 推送共用的载荷。
type StatsReport struct {
	Summary     StatsSummary      `json:"summary"`
	Credentials []CredentialStats `json:"credentials"`
	Timestamp   int64             `json:"timestamp"`
}

// successRate 计算百分比成功率，保留一位小数。
func successRate(success, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(success)/float64(total)*1000) / 10
}
