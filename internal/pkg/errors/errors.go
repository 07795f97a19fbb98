package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// 错误分类标签，对外作为 error.type 字段返回，属于接口契约。
const (
	TypeValidation         = "validation"
	TypeAuthentication     = "authentication_error"
	TypeRateLimit          = "rate_limit_error"
	TypeServiceUnavailable = "service_unavailable"
	TypeQueueFull          = "queue_full"
	TypeTimeout            = "timeout"
	TypeAPI                = "api_error"
	TypeNetwork            = "network_error"
	TypeStream             = "stream_error"
)

// Error 是贯穿调度器、重试循环与 ingress 的结构化错误。
// Status 决定 HTTP 响应码，Type 是稳定的机器可读分类，
// RetryAfter（秒）仅对限流类错误有意义，由 ingress 映射为 Retry-After 头。
type Error struct {
	Status     int
	Type       string
	Message    string
	RetryAfter int
	cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// WithCause 附加底层错误，保留分类与状态。
func (e *Error) WithCause(cause error) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.cause = cause
	return &cp
}

func New(status int, errType, message string) *Error {
	return &Error{Status: status, Type: errType, Message: message}
}

func Validation(message string) *Error {
	return New(http.StatusBadRequest, TypeValidation, message)
}

func Authentication(message string) *Error {
	return New(http.StatusUnauthorized, TypeAuthentication, message)
}

func RateLimited(message string, retryAfterSecs int) *Error {
	e := New(http.StatusTooManyRequests, TypeRateLimit, message)
	if retryAfterSecs > 0 {
		e.RetryAfter = retryAfterSecs
	}
	return e
}

func ServiceUnavailable(message string) *Error {
	return New(http.StatusServiceUnavailable, TypeServiceUnavailable, message)
}

func QueueFull(message string) *Error {
	return New(http.StatusServiceUnavailable, TypeQueueFull, message)
}

func Timeout(message string) *Error {
	return New(http.StatusGatewayTimeout, TypeTimeout, message)
}

func API(status int, message string) *Error {
	if status < 400 {
		status = http.StatusInternalServerError
	}
	return New(status, TypeAPI, message)
}

func Network(message string) *Error {
	return New(http.StatusInternalServerError, TypeNetwork, message)
}

func Stream(message string) *Error {
	return New(http.StatusInternalServerError, TypeStream, message)
}

// As 提取结构化错误；任何非 *Error 错误视为未分类。
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

// IsType 判断错误是否属于指定分类。
func IsType(err error, errType string) bool {
	e, ok := As(err)
	return ok && e.Type == errType
}

// StatusOf 返回错误应映射到的 HTTP 状态码，未分类错误按 500 处理。
func StatusOf(err error) int {
	if e, ok := As(err); ok && e.Status > 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}
