package response

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	infraerrors "github.com/xiaoshi569/antigravity2api/internal/pkg/errors"
)

// errorBody 是对外错误的统一形态：{"error":{"message","type","code"}}。
// code 为 HTTP 状态码，与 OpenAI 客户端的解析习惯保持一致。
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func Error(c *gin.Context, status int, errType, message string) {
	c.JSON(status, errorBody{Error: errorDetail{
		Message: message,
		Type:    errType,
		Code:    status,
	}})
}

// ErrorFrom 将结构化错误映射为 HTTP 响应；限流错误附带 Retry-After 头。
func ErrorFrom(c *gin.Context, err error) {
	if err == nil {
		Error(c, http.StatusInternalServerError, infraerrors.TypeAPI, "unknown error")
		return
	}
	if e, ok := infraerrors.As(err); ok {
		if e.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(e.RetryAfter))
		}
		Error(c, e.Status, e.Type, e.Message)
		return
	}
	Error(c, http.StatusInternalServerError, infraerrors.TypeAPI, err.Error())
}
