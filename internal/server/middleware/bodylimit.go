package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	infraerrors "github.com/xiaoshi569/antigravity2api/internal/pkg/errors"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/response"
)

// RequestSizeLimit 限制请求体大小。声明了 Content-Length 的超限请求
// 直接拒绝；分块传输的在读取超限时由 MaxBytesReader 截断。
func RequestSizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxBytes {
			response.ErrorFrom(c, infraerrors.New(
				http.StatusRequestEntityTooLarge,
				infraerrors.TypeValidation,
				fmt.Sprintf("request body exceeds limit of %d bytes", maxBytes),
			))
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
