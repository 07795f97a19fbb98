package server

import (
	"github.com/gin-gonic/gin"

	"github.com/xiaoshi569/antigravity2api/internal/config"
	"github.com/xiaoshi569/antigravity2api/internal/handler"
	"github.com/xiaoshi569/antigravity2api/internal/queue"
	"github.com/xiaoshi569/antigravity2api/internal/server/middleware"
)

// NewRouter 组装路由。/v1 面向 OpenAI 客户端，可选 bearer 鉴权与限流；
// /health 与 /api/stats 是观测面，不设鉴权。
func NewRouter(
	cfg *config.Config,
	q *queue.AdmissionQueue,
	openaiHandler *handler.OpenAIHandler,
	healthHandler *handler.HealthHandler,
	statsHandler *handler.StatsHandler,
) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)

	maxBytes, err := cfg.MaxRequestBytes()
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.RequestSizeLimit(maxBytes))

	r.GET("/health", healthHandler.Health)
	r.GET("/api/stats", statsHandler.Stats)
	r.GET("/api/stats/ws", statsHandler.StatsWS)

	v1 := r.Group("/v1")
	v1.Use(middleware.BearerAuth(cfg.Security.APIKey))
	if cfg.Security.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter()
		v1.Use(limiter.Limit("v1", cfg.Security.RateLimit.Requests, cfg.Security.RateLimit.WindowDuration()))
	}
	v1.GET("/models", openaiHandler.ListModels)
	v1.POST("/chat/completions", middleware.Admission(q), openaiHandler.ChatCompletions)

	return r, nil
}
