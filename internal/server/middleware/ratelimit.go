package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	infraerrors "github.com/xiaoshi569/antigravity2api/internal/pkg/errors"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/response"
)

// RateLimiter 进程内速率限制器，按 客户端IP+限制标识 计数。
type RateLimiter struct {
	cache  *gocache.Cache
	prefix string
}

// NewRateLimiter 创建速率限制器实例
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		cache:  gocache.New(gocache.NoExpiration, 5*time.Minute),
		prefix: "rate_limit:",
	}
}

// Limit 返回速率限制中间件
// key: 限制类型标识
// limit: 时间窗口内最大请求数
// window: 时间窗口
func (r *RateLimiter) Limit(key string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		cacheKey := r.prefix + key + ":" + c.ClientIP()

		count, err := r.cache.IncrementInt64(cacheKey, 1)
		if err != nil {
			// 键不存在则按窗口建新计数；Add 输给并发方时改走自增。
			if addErr := r.cache.Add(cacheKey, int64(1), window); addErr != nil {
				count, err = r.cache.IncrementInt64(cacheKey, 1)
				if err != nil {
					c.Next()
					return
				}
			} else {
				count = 1
			}
		}

		if count > int64(limit) {
			retryAfter := int(window.Seconds())
			response.ErrorFrom(c, infraerrors.RateLimited("too many requests, please try again later", retryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}
