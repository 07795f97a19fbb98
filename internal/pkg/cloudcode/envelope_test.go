//go:build unit

package cloudcode

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestWrapV1Internal(t *testing.T) {
	inner := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)
	wrapped, err := WrapV1Internal("amber-falcon-00a1b", "claude-sonnet-4-5", inner)
	if err != nil {
		t.Fatalf("WrapV1Internal: %v", err)
	}

	root := gjson.ParseBytes(wrapped)
	if got := root.Get("project").String(); got != "amber-falcon-00a1b" {
		t.Fatalf("project = %q", got)
	}
	if got := root.Get("model").String(); got != "claude-sonnet-4-5" {
		t.Fatalf("model = %q", got)
	}
	if got := root.Get("requestType").String(); got != "agent" {
		t.Fatalf("requestType = %q", got)
	}
	if got := root.Get("requestId").String(); !strings.HasPrefix(got, "agent-") || len(got) < 20 {
		t.Fatalf("requestId = %q", got)
	}
	if got := root.Get("userAgent").String(); got == "" {
		t.Fatal("userAgent 缺失")
	}
	if got := root.Get("request.contents.0.parts.0.text").String(); got != "hi" {
		t.Fatalf("内层请求未原样嵌入: %q", got)
	}
}

func TestWrapV1Internal_拒绝非法内层(t *testing.T) {
	if _, err := WrapV1Internal("p", "m", []byte(`{broken`)); err == nil {
		t.Fatal("非法 JSON 应报错")
	}
}

func TestUnwrapResponse(t *testing.T) {
	wrapped := []byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}}`)
	got := UnwrapResponse(wrapped)
	if gjson.GetBytes(got, "candidates.0.content.parts.0.text").String() != "hi" {
		t.Fatalf("解包失败: %s", got)
	}

	bare := []byte(`{"candidates":[]}`)
	if string(UnwrapResponse(bare)) != string(bare) {
		t.Fatal("无外壳时应原样返回")
	}
}

func TestUnwrapSSEData(t *testing.T) {
	if got := UnwrapSSEData(`{"response":{"candidates":[]}}`); got != `{"candidates":[]}` {
		t.Fatalf("got %q", got)
	}
	if got := UnwrapSSEData("[DONE]"); got != "[DONE]" {
		t.Fatalf("[DONE] 应透传, got %q", got)
	}
	if got := UnwrapSSEData(""); got != "" {
		t.Fatalf("空串应透传, got %q", got)
	}
	if got := UnwrapSSEData(`{"candidates":[]}`); got != `{"candidates":[]}` {
		t.Fatalf("无外壳负载应透传, got %q", got)
	}
}
