package openai

import (
	"encoding/json"
	"testing"
)

func TestStopSequences(t *testing.T) {
	tests := []struct {
		name string
		stop string
		want []string
	}{
		{name: "单个字符串", stop: `"END"`, want: []string{"END"}},
		{name: "字符串数组", stop: `["a","b"]`, want: []string{"a", "b"}},
		{name: "数组含空串", stop: `["a",""]`, want: []string{"a"}},
		{name: "空字符串", stop: `""`, want: nil},
		{name: "空数组", stop: `[]`, want: nil},
		{name: "缺失", stop: ``, want: nil},
		{name: "非法类型", stop: `42`, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &ChatCompletionRequest{}
			if tt.stop != "" {
				req.Stop = json.RawMessage(tt.stop)
			}
			got := req.StopSequences()
			if len(got) != len(tt.want) {
				t.Fatalf("StopSequences() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("StopSequences()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestContentText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "纯字符串", content: `"hello"`, want: "hello"},
		{name: "多段数组", content: `[{"type":"text","text":"a"},{"type":"text","text":"b"}]`, want: "a\nb"},
		{name: "数组含图片段", content: `[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"data:x"}}]`, want: "a"},
		{name: "缺失", content: ``, want: ""},
		{name: "非法类型", content: `42`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &ChatMessage{Role: "user"}
			if tt.content != "" {
				msg.Content = json.RawMessage(tt.content)
			}
			if got := msg.ContentText(); got != tt.want {
				t.Fatalf("ContentText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContentParts(t *testing.T) {
	msg := &ChatMessage{
		Role:    "user",
		Content: json.RawMessage(`[{"type":"text","text":"hi"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAA"}}]`),
	}
	parts, ok := msg.ContentParts()
	if !ok {
		t.Fatal("ContentParts() ok = false, want true")
	}
	if len(parts) != 2 {
		t.Fatalf("ContentParts() len = %d, want 2", len(parts))
	}
	if parts[1].ImageURL == nil || parts[1].ImageURL.URL == "" {
		t.Fatal("ContentParts() 图片段丢失 image_url")
	}

	str := &ChatMessage{Role: "user", Content: json.RawMessage(`"plain"`)}
	if _, ok := str.ContentParts(); ok {
		t.Fatal("字符串 content 不应解析为多段数组")
	}
}

func TestToolCallIndexSerialization(t *testing.T) {
	idx := 0
	withIndex := ToolCall{Index: &idx, ID: "call_1", Type: "function", Function: FunctionCall{Name: "f", Arguments: "{}"}}
	data, err := json.Marshal(withIndex)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var asMap map[string]any
	if err := json.Unmarshal(data, &asMap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := asMap["index"]; !ok {
		t.Fatal("流式 tool_call 应携带 index 字段")
	}

	withoutIndex := ToolCall{ID: "call_1", Type: "function", Function: FunctionCall{Name: "f", Arguments: "{}"}}
	data, err = json.Marshal(withoutIndex)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	asMap = map[string]any{}
	if err := json.Unmarshal(data, &asMap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := asMap["index"]; ok {
		t.Fatal("非流式 tool_call 不应携带 index 字段")
	}
}

func TestChunkWriterShapes(t *testing.T) {
	w := NewChunkWriter("claude-sonnet-4-5")

	role := w.Role()
	if role.Object != ObjectChatCompletionChunk {
		t.Fatalf("object = %q, want %q", role.Object, ObjectChatCompletionChunk)
	}
	if role.Choices[0].Delta.Role != "assistant" {
		t.Fatalf("role chunk delta.role = %q", role.Choices[0].Delta.Role)
	}
	if role.Choices[0].FinishReason != nil {
		t.Fatal("role chunk 不应有 finish_reason")
	}

	fin := w.Finish(FinishReasonStop, &Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})
	if fin.Choices[0].FinishReason == nil || *fin.Choices[0].FinishReason != FinishReasonStop {
		t.Fatal("finish chunk 应携带 finish_reason=stop")
	}
	if fin.Usage == nil || fin.Usage.TotalTokens != 3 {
		t.Fatal("finish chunk 应携带 usage")
	}
	if fin.ID != role.ID || fin.Created != role.Created {
		t.Fatal("同一 ChunkWriter 产出的 chunk 应共享 id 与 created")
	}

	// finish_reason 为 null 时必须序列化出来，OpenAI 客户端依赖该字段存在。
	data, err := json.Marshal(w.Content("x"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	choice := m["choices"].([]any)[0].(map[string]any)
	if _, ok := choice["finish_reason"]; !ok {
		t.Fatal("content chunk 应携带 finish_reason:null")
	}
}
