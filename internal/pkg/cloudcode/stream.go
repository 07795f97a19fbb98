package cloudcode

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/xiaoshi569/antigravity2api/internal/pkg/openai"
)

type EventType string

const (
	EventText      EventType = "text"
	EventThinking  EventType = "thinking"
	EventToolCalls EventType = "tool_calls"
)

// Event 是转换器吐给上层的结构化片段。
type Event struct {
	Type      EventType
	Content   string
	ToolCalls []openai.ToolCall
}

type EmitFunc func(Event) error

// ThinkOpenTag / ThinkCloseTag 是模型输出中标记思考段的内联标签，
// raw 输出策略需要在外层重新拼装它们。
const (
	ThinkOpenTag  = "<think>"
	ThinkCloseTag = "</think>"

	// 留尾长度 = 标签长度 - 1，保证跨 payload 撕裂的标签能拼回来。
	normalHoldback   = len(ThinkOpenTag) - 1
	thinkingHoldback = len(ThinkCloseTag) - 1
)

const (
	modeNormal = iota
	modeThinking
)

// tagSplitter 在 normal / thinking 两个状态间切换，
// 把 <think>…</think> 段从普通文本里剥出来。
type tagSplitter struct {
	mode int
	buf  string
}

func (s *tagSplitter) write(text string, emit EmitFunc) error {
	if text == "" {
		return nil
	}
	s.buf += text

	for {
		if s.mode == modeNormal {
			if i := strings.Index(s.buf, ThinkOpenTag); i >= 0 {
				if i > 0 {
					if err := emit(Event{Type: EventText, Content: s.buf[:i]}); err != nil {
						return err
					}
				}
				s.buf = s.buf[i+len(ThinkOpenTag):]
				s.mode = modeThinking
				continue
			}
			return s.holdback(normalHoldback, EventText, emit)
		}

		if i := strings.Index(s.buf, ThinkCloseTag); i >= 0 {
			if i > 0 {
				if err := emit(Event{Type: EventThinking, Content: s.buf[:i]}); err != nil {
					return err
				}
			}
			s.buf = s.buf[i+len(ThinkCloseTag):]
			s.mode = modeNormal
			continue
		}
		return s.holdback(thinkingHoldback, EventThinking, emit)
	}
}

// holdback 把留尾之外的部分冲出去。切点退到 rune 边界，
// 多留几个字节无妨，切坏 UTF-8 不行。
func (s *tagSplitter) holdback(keep int, typ EventType, emit EmitFunc) error {
	if len(s.buf) <= keep {
		return nil
	}
	cut := len(s.buf) - keep
	for cut > 0 && !utf8.RuneStart(s.buf[cut]) {
		cut--
	}
	if cut == 0 {
		return nil
	}
	out := s.buf[:cut]
	s.buf = s.buf[cut:]
	return emit(Event{Type: typ, Content: out})
}

// flush 在流结束或 thought part 到来前把残余文本按当前模式吐出。
func (s *tagSplitter) flush(emit EmitFunc) error {
	if s.buf == "" {
		return nil
	}
	typ := EventText
	if s.mode == modeThinking {
		typ = EventThinking
	}
	out := s.buf
	s.buf = ""
	return emit(Event{Type: typ, Content: out})
}

// StreamTransformer 消费上游 SSE 字节流并产出结构化事件。
// 对两种独立的撕裂都保持容忍：UTF-8 块可能把 SSE 行切断，
// SSE 负载可能把 <think> 标签切断。
type StreamTransformer struct {
	emit EmitFunc

	lineBuf  []byte
	splitter tagSplitter

	toolCalls        []openai.ToolCall
	toolSeq          int
	emittedToolCalls bool
	closed           bool

	usage openai.Usage
}

func NewStreamTransformer(emit EmitFunc) *StreamTransformer {
	return &StreamTransformer{emit: emit}
}

// Feed 接收任意切分的上游字节。完整的行立即处理，残行留在缓冲。
func (t *StreamTransformer) Feed(chunk []byte) error {
	if t.closed {
		return fmt.Errorf("stream transformer already closed")
	}
	t.lineBuf = append(t.lineBuf, chunk...)

	for {
		i := bytes.IndexByte(t.lineBuf, '\n')
		if i < 0 {
			return nil
		}
		line := string(t.lineBuf[:i])
		t.lineBuf = t.lineBuf[i+1:]
		if err := t.handleLine(line); err != nil {
			return err
		}
	}
}

// Close 冲掉残行与留尾，必要时补发已收集的 tool_calls。
func (t *StreamTransformer) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	if len(t.lineBuf) > 0 {
		line := string(t.lineBuf)
		t.lineBuf = nil
		if err := t.handleLine(line); err != nil {
			return err
		}
	}
	if err := t.splitter.flush(t.emit); err != nil {
		return err
	}
	return t.emitToolCalls()
}

// HasToolCalls 报告本次流中是否吐出过 tool_calls。
func (t *StreamTransformer) HasToolCalls() bool {
	return t.emittedToolCalls
}

// Usage 返回上游累计的 token 统计；没有任何计数时返回 nil。
func (t *StreamTransformer) Usage() *openai.Usage {
	if t.usage == (openai.Usage{}) {
		return nil
	}
	u := t.usage
	return &u
}

func (t *StreamTransformer) handleLine(line string) error {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, "data:") {
		return nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" || data == "[DONE]" {
		return nil
	}

	payload := UnwrapSSEData(data)
	root := gjson.Parse(payload)
	if !root.IsObject() {
		return nil
	}

	t.trackUsage(root)

	parts := root.Get("candidates.0.content.parts")
	var walkErr error
	parts.ForEach(func(_, part gjson.Result) bool {
		if err := t.handlePart(part); err != nil {
			walkErr = err
			return false
		}
		return true
	})
	if walkErr != nil {
		return walkErr
	}

	finish := false
	root.Get("candidates").ForEach(func(_, cand gjson.Result) bool {
		if cand.Get("finishReason").Exists() {
			finish = true
			return false
		}
		return true
	})
	if finish && len(t.toolCalls) > 0 {
		if err := t.splitter.flush(t.emit); err != nil {
			return err
		}
		return t.emitToolCalls()
	}
	return nil
}

func (t *StreamTransformer) handlePart(part gjson.Result) error {
	if part.Get("thought").Bool() {
		if err := t.splitter.flush(t.emit); err != nil {
			return err
		}
		if text := part.Get("text").String(); text != "" {
			return t.emit(Event{Type: EventThinking, Content: text})
		}
		return nil
	}

	if text := part.Get("text"); text.Exists() {
		return t.splitter.write(text.String(), t.emit)
	}

	if fc := part.Get("functionCall"); fc.Exists() {
		t.collectToolCall(part, fc)
	}
	return nil
}

func (t *StreamTransformer) collectToolCall(part, fc gjson.Result) {
	id := fc.Get("id").String()
	if id == "" {
		id = fmt.Sprintf("call_%d_%d", time.Now().UnixMilli(), t.toolSeq)
	}
	t.toolSeq++

	sig := fc.Get("thoughtSignature").String()
	if sig == "" {
		sig = fc.Get("thought_signature").String()
	}
	if sig == "" {
		sig = part.Get("thoughtSignature").String()
	}
	if sig == "" {
		sig = part.Get("thought_signature").String()
	}
	if sig != "" {
		id = id + "::" + sig
	}

	args := "{}"
	if a := fc.Get("args"); a.Exists() {
		args = a.Raw
	}

	index := len(t.toolCalls)
	t.toolCalls = append(t.toolCalls, openai.ToolCall{
		Index: &index,
		ID:    id,
		Type:  "function",
		Function: openai.FunctionCall{
			Name:      fc.Get("name").String(),
			Arguments: args,
		},
	})
}

func (t *StreamTransformer) trackUsage(root gjson.Result) {
	meta := root.Get("usageMetadata")
	if !meta.Exists() {
		return
	}
	prompt := int(meta.Get("promptTokenCount").Int())
	completion := int(meta.Get("candidatesTokenCount").Int() + meta.Get("thoughtsTokenCount").Int())
	total := int(meta.Get("totalTokenCount").Int())
	if total == 0 {
		total = prompt + completion
	}
	if prompt == 0 && completion == 0 && total == 0 {
		return
	}
	t.usage = openai.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}

func (t *StreamTransformer) emitToolCalls() error {
	if len(t.toolCalls) == 0 {
		return nil
	}
	calls := t.toolCalls
	t.toolCalls = nil
	t.emittedToolCalls = true
	return t.emit(Event{Type: EventToolCalls, ToolCalls: calls})
}

// ResponseCollector 把事件流折叠成一次性的完整响应，
// 按 thinking.output 策略处理 reasoning 段。
type ResponseCollector struct {
	thinkingOutput string

	content   strings.Builder
	reasoning strings.Builder
	toolCalls []openai.ToolCall
	lastType  EventType
}

func NewResponseCollector(thinkingOutput string) *ResponseCollector {
	return &ResponseCollector{thinkingOutput: thinkingOutput}
}

// OnEvent 可直接作为 StreamTransformer 的 emit 回调。
func (c *ResponseCollector) OnEvent(ev Event) error {
	switch ev.Type {
	case EventText:
		if c.thinkingOutput == "raw" && c.lastType == EventThinking {
			c.content.WriteString(ThinkCloseTag)
		}
		c.content.WriteString(ev.Content)
	case EventThinking:
		switch c.thinkingOutput {
		case "raw":
			if c.lastType != EventThinking {
				c.content.WriteString(ThinkOpenTag)
			}
			c.content.WriteString(ev.Content)
		case "filter":
			// 丢弃
		default:
			c.reasoning.WriteString(ev.Content)
		}
	case EventToolCalls:
		for _, call := range ev.ToolCalls {
			call.Index = nil
			c.toolCalls = append(c.toolCalls, call)
		}
	}
	c.lastType = ev.Type
	return nil
}

// Result 产出最终聚合；raw 模式下闭合悬空的 <think> 段。
func (c *ResponseCollector) Result() (content, reasoning string, toolCalls []openai.ToolCall) {
	if c.thinkingOutput == "raw" && c.lastType == EventThinking {
		c.content.WriteString(ThinkCloseTag)
		c.lastType = EventText
	}
	return c.content.String(), c.reasoning.String(), c.toolCalls
}
