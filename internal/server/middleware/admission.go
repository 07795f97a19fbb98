package middleware

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	infraerrors "github.com/xiaoshi569/antigravity2api/internal/pkg/errors"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/response"
	"github.com/xiaoshi569/antigravity2api/internal/queue"
)

// Admission 在进入补全链路前占用执行槽。超时预算覆盖排队与处理全程：
// 排队阶段超时由队列转成 504，处理阶段超时若下游没写响应则在此补上。
func Admission(q *queue.AdmissionQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), q.Timeout())
		defer cancel()

		slot, err := q.Acquire(ctx)
		if err != nil {
			response.ErrorFrom(c, err)
			c.Abort()
			return
		}
		defer slot.Release()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			response.ErrorFrom(c, infraerrors.Timeout("request timed out during processing"))
		}
	}
}
