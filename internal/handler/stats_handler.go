package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xiaoshi569/antigravity2api/internal/pkg/response"
	"github.com/xiaoshi569/antigravity2api/internal/service"
)

// StatsHandler 暴露凭据池统计：一次性 JSON 与 WebSocket 增量推送。
type StatsHandler struct {
	stats service.StatsSource
	hub   *service.StatsHub
}

func NewStatsHandler(stats service.StatsSource, hub *service.StatsHub) *StatsHandler {
	return &StatsHandler{stats: stats, hub: hub}
}

// Stats 返回当前统计快照。
// GET /api/stats
func (h *StatsHandler) Stats(c *gin.Context) {
	response.Success(c, h.stats.AllStats())
}

// StatsWS 升级为 WebSocket 并按固定周期推送统计快照。
// GET /api/stats/ws
func (h *StatsHandler) StatsWS(c *gin.Context) {
	h.hub.Serve(c.Writer, c.Request)
}
