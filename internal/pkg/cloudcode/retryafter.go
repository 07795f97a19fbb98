package cloudcode

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"
	errorInfoType = "type.googleapis.com/google.rpc.ErrorInfo"
)

// ParseRetryAfterHeader 解析 HTTP Retry-After 头：纯秒数或 HTTP-date。
// 解析失败或值已过期时返回 0。
func ParseRetryAfterHeader(value string) int64 {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return int64(secs * 1000)
	}
	if t, err := http.ParseTime(v); err == nil {
		ms := time.Until(t).Milliseconds()
		if ms < 0 {
			return 0
		}
		return ms
	}
	return 0
}

// ParseDelayString 解析 Google 风格的时长字符串，如 "1.5s"、"1m59.9s"。
func ParseDelayString(value string) int64 {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0
	}
	return d.Milliseconds()
}

// ExtractRetryAfterMS 按优先级提取 429 的冷却时长（毫秒）：
// Retry-After 头 → RetryInfo.retryDelay → ErrorInfo.metadata.quotaResetDelay。
// 三处都没有时返回 0，由调用方套用固定冷却。
func ExtractRetryAfterMS(header http.Header, body []byte) int64 {
	if ms := ParseRetryAfterHeader(header.Get("Retry-After")); ms > 0 {
		return ms
	}

	var retryDelay, quotaReset string
	gjson.GetBytes(body, "error.details").ForEach(func(_, detail gjson.Result) bool {
		switch detail.Get("\\@type").String() {
		case retryInfoType:
			if retryDelay == "" {
				retryDelay = detail.Get("retryDelay").String()
			}
		case errorInfoType:
			if quotaReset == "" {
				quotaReset = detail.Get("metadata.quotaResetDelay").String()
			}
		}
		return retryDelay == "" || quotaReset == ""
	})

	if ms := ParseDelayString(retryDelay); ms > 0 {
		return ms
	}
	return ParseDelayString(quotaReset)
}
