//go:build unit

package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/xiaoshi569/antigravity2api/internal/config"
	"github.com/xiaoshi569/antigravity2api/internal/queue"
	"github.com/xiaoshi569/antigravity2api/internal/scheduler"
)

type stubStats struct {
	report *scheduler.StatsReport
}

func (s stubStats) AllStats() *scheduler.StatsReport { return s.report }

func statsReport() *scheduler.StatsReport {
	return &scheduler.StatsReport{
		Summary: scheduler.StatsSummary{
			Total:         3,
			Enabled:       2,
			Disabled:      1,
			TotalRequests: 42,
			SuccessCount:  40,
			FailureCount:  2,
		},
		Credentials: []scheduler.CredentialStats{
			{Index: 0, Key: "rt-alpha-l", Enabled: true, Status: scheduler.StatusIdle, LastStatus: scheduler.LastEventSuccess},
			{Index: 1, Key: "rt-bravo-l", Enabled: true, Status: scheduler.StatusRateLimited, LastStatus: scheduler.LastEventRateLimited},
			{Index: 2, Key: "rt-charl-l", Enabled: false, Status: scheduler.StatusDisabled, LastStatus: scheduler.LastEventAuthFailed},
		},
		Timestamp: 1_700_000_000_000,
	}
}

func TestHealthReportsRuntimeSnapshot(t *testing.T) {
	cfg := &config.Config{}
	cfg.Concurrency.PerTokenConcurrency = 2
	cfg.Concurrency.QueueLimit = 100
	cfg.Concurrency.Timeout = 300_000
	cfg.Retry.MaxRetries = 3
	cfg.Thinking.Output = config.ThinkingOutputReasoning

	q := queue.New(queue.Options{MaxConcurrent: 4, QueueLimit: 100})
	slot, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer slot.Release()

	h := NewHealthHandler(cfg, q, stubStats{report: statsReport()})
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", h.Health)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()

	require.Equal(t, "ok", gjson.Get(body, "status").String())
	require.Positive(t, gjson.Get(body, "process.goroutines").Int())
	require.True(t, gjson.Get(body, "process.rss_mb").Exists())
	require.True(t, gjson.Get(body, "system.memory_used_percent").Exists())

	require.EqualValues(t, 4, gjson.Get(body, "queue.concurrency").Int())
	require.EqualValues(t, 1, gjson.Get(body, "queue.in_flight").Int())
	require.False(t, gjson.Get(body, "queue.paused").Bool())

	require.EqualValues(t, 2, gjson.Get(body, "config.per_token_concurrency").Int())
	require.EqualValues(t, 100, gjson.Get(body, "config.queue_limit").Int())
	require.EqualValues(t, 300, gjson.Get(body, "config.timeout_seconds").Int())
	require.EqualValues(t, 3, gjson.Get(body, "config.max_retries").Int())
	require.Equal(t, "reasoning_content", gjson.Get(body, "config.thinking_output").String())

	// credentials 只下发聚合，不泄露逐凭据细节。
	require.EqualValues(t, 3, gjson.Get(body, "credentials.total").Int())
	require.EqualValues(t, 2, gjson.Get(body, "credentials.enabled").Int())
	require.False(t, gjson.Get(body, "credentials.0").Exists())
}
