package openai

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"

	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
)

// NewCompletionID 生成 chatcmpl- 前缀的响应标识。
func NewCompletionID() string {
	return "chatcmpl-" + uuid.New().String()
}

type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type ResponseMessage struct {
	Role             string     `json:"role"`
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type Delta struct {
	Role             string     `json:"role,omitempty"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// ChunkWriter 按固定的 id/model/created 组装系列 chunk。
type ChunkWriter struct {
	ID      string
	Model   string
	Created int64
}

func NewChunkWriter(model string) *ChunkWriter {
	return &ChunkWriter{
		ID:      NewCompletionID(),
		Model:   model,
		Created: time.Now().Unix(),
	}
}

func (w *ChunkWriter) chunk(delta Delta, finish *string) *ChatCompletionChunk {
	return &ChatCompletionChunk{
		ID:      w.ID,
		Object:  ObjectChatCompletionChunk,
		Created: w.Created,
		Model:   w.Model,
		Choices: []ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

// Role 返回首个 chunk（role=assistant，delta 为空内容）。
func (w *ChunkWriter) Role() *ChatCompletionChunk {
	return w.chunk(Delta{Role: "assistant"}, nil)
}

func (w *ChunkWriter) Content(text string) *ChatCompletionChunk {
	return w.chunk(Delta{Content: text}, nil)
}

func (w *ChunkWriter) Reasoning(text string) *ChatCompletionChunk {
	return w.chunk(Delta{ReasoningContent: text}, nil)
}

func (w *ChunkWriter) ToolCalls(calls []ToolCall) *ChatCompletionChunk {
	return w.chunk(Delta{ToolCalls: calls}, nil)
}

// Finish 返回终止 chunk，并按需携带 usage。
func (w *ChunkWriter) Finish(reason string, usage *Usage) *ChatCompletionChunk {
	c := w.chunk(Delta{}, &reason)
	c.Usage = usage
	return c
}

// ModelList 是 GET /v1/models 的响应外壳。
type ModelList struct {
	Object string `json:"object"`
	Data   any    `json:"data"`
}

// ErrorPayload 是流式阶段出错时写入 SSE 的错误负载。
type ErrorPayload struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func NewErrorPayload(status int, errType, message string) *ErrorPayload {
	return &ErrorPayload{Error: ErrorDetail{Message: message, Type: errType, Code: status}}
}

func (p *ErrorPayload) String() string {
	return fmt.Sprintf("type=%s code=%d message=%s", p.Error.Type, p.Error.Code, p.Error.Message)
}
