package cloudcode

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// envelopeUserAgent 是 v1internal 信封里的调用方标识，与 HTTP UA 无关。
const envelopeUserAgent = "antigravity2api"

// WrapV1Internal 把内层 Gemini 请求包进 v1internal 信封。
// innerRequest 必须是已序列化的 JSON 对象。
func WrapV1Internal(projectID, model string, innerRequest []byte) ([]byte, error) {
	if !gjson.ValidBytes(innerRequest) {
		return nil, fmt.Errorf("inner request is not valid JSON")
	}

	out := []byte(`{}`)
	var err error
	for _, kv := range []struct {
		key string
		val string
	}{
		{"project", projectID},
		{"requestId", "agent-" + uuid.New().String()},
		{"userAgent", envelopeUserAgent},
		{"requestType", "agent"},
		{"model", model},
	} {
		if out, err = sjson.SetBytes(out, kv.key, kv.val); err != nil {
			return nil, fmt.Errorf("build v1internal envelope: %w", err)
		}
	}
	if out, err = sjson.SetRawBytes(out, "request", innerRequest); err != nil {
		return nil, fmt.Errorf("embed inner request: %w", err)
	}
	return out, nil
}

// UnwrapResponse 剥掉 v1internal 的 response 外壳；没有外壳时原样返回。
func UnwrapResponse(body []byte) []byte {
	if r := gjson.GetBytes(body, "response"); r.Exists() {
		return []byte(r.Raw)
	}
	return body
}

// UnwrapSSEData 对单个 SSE data 负载做同样的剥壳。
func UnwrapSSEData(data string) string {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" || trimmed == "[DONE]" {
		return data
	}
	if r := gjson.Get(trimmed, "response"); r.Exists() {
		return r.Raw
	}
	return data
}
