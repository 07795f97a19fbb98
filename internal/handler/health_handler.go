package handler

import (
	"math"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/xiaoshi569/antigravity2api/internal/config"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/response"
	"github.com/xiaoshi569/antigravity2api/internal/queue"
	"github.com/xiaoshi569/antigravity2api/internal/service"
)

// HealthHandler 汇报进程与调度面的运行指标。
// 指标采集失败时对应字段归零，不拖垮健康检查本身。
type HealthHandler struct {
	cfg     *config.Config
	queue   *queue.AdmissionQueue
	stats   service.StatsSource
	proc    *process.Process
	started time.Time
}

func NewHealthHandler(cfg *config.Config, q *queue.AdmissionQueue, stats service.StatsSource) *HealthHandler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &HealthHandler{
		cfg:     cfg,
		queue:   q,
		stats:   stats,
		proc:    proc,
		started: time.Now(),
	}
}

type healthProcess struct {
	RSSMB      float64 `json:"rss_mb"`
	CPUPercent float64 `json:"cpu_percent"`
	CPUCores   int     `json:"cpu_cores"`
	Goroutines int     `json:"goroutines"`
}

type healthSystem struct {
	MemoryUsedPercent float64 `json:"memory_used_percent"`
}

type healthConfig struct {
	PerTokenConcurrency int    `json:"per_token_concurrency"`
	QueueLimit          int    `json:"queue_limit"`
	TimeoutSeconds      int64  `json:"timeout_seconds"`
	MaxRetries          int    `json:"max_retries"`
	ThinkingOutput      string `json:"thinking_output"`
}

type healthPayload struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Process       healthProcess  `json:"process"`
	System        healthSystem   `json:"system"`
	Queue         queue.Snapshot `json:"queue"`
	Config        healthConfig   `json:"config"`
	Credentials   any            `json:"credentials"`
}

// Health 返回健康快照。
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	payload := healthPayload{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Queue:         h.queue.Snapshot(),
		Config: healthConfig{
			PerTokenConcurrency: h.cfg.Concurrency.PerTokenConcurrency,
			QueueLimit:          h.cfg.Concurrency.QueueLimit,
			TimeoutSeconds:      int64(h.cfg.Concurrency.TimeoutDuration().Seconds()),
			MaxRetries:          h.cfg.Retry.MaxRetries,
			ThinkingOutput:      h.cfg.Thinking.Output,
		},
	}

	payload.Process.Goroutines = runtime.NumGoroutine()
	if cores, err := cpu.Counts(true); err == nil {
		payload.Process.CPUCores = cores
	}
	if h.proc != nil {
		if info, err := h.proc.MemoryInfo(); err == nil && info != nil {
			payload.Process.RSSMB = round1(float64(info.RSS) / 1024 / 1024)
		}
		if pct, err := h.proc.CPUPercent(); err == nil {
			payload.Process.CPUPercent = round1(pct)
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		payload.System.MemoryUsedPercent = round1(vm.UsedPercent)
	}

	report := h.stats.AllStats()
	payload.Credentials = report.Summary

	response.Success(c, payload)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
