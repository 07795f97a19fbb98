package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	infraerrors "github.com/xiaoshi569/antigravity2api/internal/pkg/errors"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/response"
)

// BearerAuth 校验 Authorization: Bearer 头。
// apiKey 为空表示未启用鉴权，全部放行。
func BearerAuth(apiKey string) gin.HandlerFunc {
	key := []byte(apiKey)
	return func(c *gin.Context) {
		if len(key) == 0 {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			response.ErrorFrom(c, infraerrors.Authentication("missing bearer token"))
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), key) != 1 {
			response.ErrorFrom(c, infraerrors.Authentication("invalid api key"))
			c.Abort()
			return
		}
		c.Next()
	}
}
