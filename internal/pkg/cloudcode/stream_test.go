//go:build unit

package cloudcode

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/xiaoshi569/antigravity2api/internal/pkg/openai"
)

// collectEvents 把事件按 (type, content) 顺序收集，tool_calls 单独记。
type eventSink struct {
	events []Event
}

func (s *eventSink) emit(ev Event) error {
	s.events = append(s.events, ev)
	return nil
}

// joined 返回按类型拼接的文本，用于与期望值比较。
func (s *eventSink) joined() (text, thinking string) {
	var tb, kb strings.Builder
	for _, ev := range s.events {
		switch ev.Type {
		case EventText:
			tb.WriteString(ev.Content)
		case EventThinking:
			kb.WriteString(ev.Content)
		}
	}
	return tb.String(), kb.String()
}

// sequence 返回事件序列的紧凑表示，如 "text:A|thinking:B|text:C"。
func (s *eventSink) sequence() string {
	var parts []string
	for _, ev := range s.events {
		switch ev.Type {
		case EventToolCalls:
			parts = append(parts, fmt.Sprintf("tool_calls:%d", len(ev.ToolCalls)))
		default:
			parts = append(parts, string(ev.Type)+":"+ev.Content)
		}
	}
	return strings.Join(parts, "|")
}

// splitByTags 计算期望结果：按 <think>/</think> 把原文分成 text 与 thinking。
func splitByTags(t *testing.T, input string) (text, thinking string) {
	t.Helper()
	var tb, kb strings.Builder
	rest := input
	for {
		i := strings.Index(rest, ThinkOpenTag)
		if i < 0 {
			tb.WriteString(rest)
			return tb.String(), kb.String()
		}
		tb.WriteString(rest[:i])
		rest = rest[i+len(ThinkOpenTag):]
		j := strings.Index(rest, ThinkCloseTag)
		if j < 0 {
			t.Fatalf("测试输入标签不配对: %q", input)
		}
		kb.WriteString(rest[:j])
		rest = rest[j+len(ThinkCloseTag):]
	}
}

// chunkRunes 按 rune 数切块；JSON 解码后的文本总是完整 UTF-8。
func chunkRunes(s string, size int) []string {
	if size <= 0 {
		size = 1
	}
	runes := []rune(s)
	var out []string
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

func TestTagSplitter_任意切块往返(t *testing.T) {
	inputs := []string{
		"plain text without any tags at all",
		"A<think>B</think>C",
		"<think>only thinking</think>",
		"leading<think></think>trailing",
		"多字节汉字前缀<think>思考内容也是汉字</think>结尾文字",
		"a<think>b</think>c<think>d</think>e",
		"edge<think",   // 残缺的开标签在流结束时按普通文本吐出
		"tail</think>", // normal 模式下的关闭标签是普通文本
	}

	for _, input := range inputs {
		wantText, wantThinking := splitByTags(t, input)

		for size := 1; size <= 11; size++ {
			sink := &eventSink{}
			splitter := &tagSplitter{}
			for _, chunk := range chunkRunes(input, size) {
				if err := splitter.write(chunk, sink.emit); err != nil {
					t.Fatalf("write: %v", err)
				}
			}
			if err := splitter.flush(sink.emit); err != nil {
				t.Fatalf("flush: %v", err)
			}

			for _, ev := range sink.events {
				if !utf8.ValidString(ev.Content) {
					t.Fatalf("输出包含非法 UTF-8: input=%q size=%d", input, size)
				}
			}

			gotText, gotThinking := sink.joined()
			if gotText != wantText || gotThinking != wantThinking {
				t.Fatalf("往返失败 input=%q size=%d: text=%q want %q, thinking=%q want %q",
					input, size, gotText, wantText, gotThinking, wantThinking)
			}
		}
	}
}

func sseLine(parts string) string {
	return `data: {"response":{"candidates":[{"content":{"parts":[` + parts + `]}}]}}` + "\n"
}

func sseFinishLine(parts, reason string) string {
	return `data: {"response":{"candidates":[{"content":{"parts":[` + parts + `]},"finishReason":"` + reason + `"}]}}` + "\n"
}

func TestStreamTransformer_推理跨块切分(t *testing.T) {
	sink := &eventSink{}
	tr := NewStreamTransformer(sink.emit)

	stream := sseLine(`{"text":"A<thi"}`) +
		sseLine(`{"text":"nk>B</think>C"}`) +
		sseFinishLine(`{"text":""}`, "STOP")

	if err := tr.Feed([]byte(stream)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := "text:A|thinking:B|text:C"
	if got := sink.sequence(); got != want {
		t.Fatalf("事件序列 = %q, want %q", got, want)
	}
}

func TestStreamTransformer_字节级行切分(t *testing.T) {
	stream := sseLine(`{"text":"Hello "}`) +
		"\r\n" +
		sseLine(`{"text":"<think>deep</think>world"}`) +
		sseFinishLine(`{"text":"!"}`, "STOP")

	for _, chunkSize := range []int{1, 2, 3, 7, 64, len(stream)} {
		sink := &eventSink{}
		tr := NewStreamTransformer(sink.emit)

		data := []byte(stream)
		for len(data) > 0 {
			n := chunkSize
			if n > len(data) {
				n = len(data)
			}
			if err := tr.Feed(data[:n]); err != nil {
				t.Fatalf("Feed(size=%d): %v", chunkSize, err)
			}
			data = data[n:]
		}
		if err := tr.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		text, thinking := sink.joined()
		if text != "Hello world!" {
			t.Fatalf("size=%d text = %q, want %q", chunkSize, text, "Hello world!")
		}
		if thinking != "deep" {
			t.Fatalf("size=%d thinking = %q, want %q", chunkSize, thinking, "deep")
		}
	}
}

func TestStreamTransformer_Thought部分先冲残留文本(t *testing.T) {
	sink := &eventSink{}
	tr := NewStreamTransformer(sink.emit)

	stream := sseLine(`{"text":"X"}`) +
		sseLine(`{"thought":true,"text":"pondering"}`) +
		sseFinishLine(`{"text":"Y"}`, "STOP")

	if err := tr.Feed([]byte(stream)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := "text:X|thinking:pondering|text:Y"
	if got := sink.sequence(); got != want {
		t.Fatalf("事件序列 = %q, want %q", got, want)
	}
}

func TestStreamTransformer_ToolCalls收集(t *testing.T) {
	sink := &eventSink{}
	tr := NewStreamTransformer(sink.emit)

	stream := sseLine(`{"functionCall":{"name":"get_weather","args":{"city":"北京"},"thoughtSignature":"SIG1"}}`) +
		sseLine(`{"functionCall":{"id":"call_fixed","name":"get_time","args":{}}}`) +
		sseFinishLine(`{"text":""}`, "STOP")

	if err := tr.Feed([]byte(stream)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !tr.HasToolCalls() {
		t.Fatal("HasToolCalls() = false")
	}

	var calls []openai.ToolCall
	emitted := 0
	for _, ev := range sink.events {
		if ev.Type == EventToolCalls {
			emitted++
			calls = ev.ToolCalls
		}
	}
	if emitted != 1 {
		t.Fatalf("tool_calls 事件应只发一次, got %d", emitted)
	}
	if len(calls) != 2 {
		t.Fatalf("len(calls) = %d, want 2", len(calls))
	}

	first := calls[0]
	if !strings.HasPrefix(first.ID, "call_") || !strings.HasSuffix(first.ID, "::SIG1") {
		t.Fatalf("合成 id 应为 call_<millis>_<seq>::SIG1, got %q", first.ID)
	}
	if first.Function.Name != "get_weather" {
		t.Fatalf("name = %q", first.Function.Name)
	}
	if first.Function.Arguments != `{"city":"北京"}` {
		t.Fatalf("arguments = %q", first.Function.Arguments)
	}
	if first.Index == nil || *first.Index != 0 {
		t.Fatal("首个 tool_call 的 index 应为 0")
	}

	second := calls[1]
	if second.ID != "call_fixed" {
		t.Fatalf("上游 id 应原样保留, got %q", second.ID)
	}
	if second.Function.Arguments != "{}" {
		t.Fatalf("空 args 应为 {}, got %q", second.Function.Arguments)
	}
	if second.Index == nil || *second.Index != 1 {
		t.Fatal("第二个 tool_call 的 index 应为 1")
	}
}

func TestStreamTransformer_ToolCalls未见Finish时Close补发(t *testing.T) {
	sink := &eventSink{}
	tr := NewStreamTransformer(sink.emit)

	if err := tr.Feed([]byte(sseLine(`{"functionCall":{"id":"c1","name":"f","args":{}}}`))); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !tr.HasToolCalls() {
		t.Fatal("截断流中的 tool_calls 不应丢失")
	}
}

func TestStreamTransformer_Usage统计(t *testing.T) {
	sink := &eventSink{}
	tr := NewStreamTransformer(sink.emit)

	stream := sseLine(`{"text":"hi"}`) +
		`data: {"response":{"candidates":[{"content":{"parts":[{"text":""}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5,"thoughtsTokenCount":3,"totalTokenCount":18}}}` + "\n"

	if err := tr.Feed([]byte(stream)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	usage := tr.Usage()
	if usage == nil {
		t.Fatal("Usage() = nil")
	}
	if usage.PromptTokens != 10 || usage.CompletionTokens != 8 || usage.TotalTokens != 18 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestStreamTransformer_忽略非Data行与DONE(t *testing.T) {
	sink := &eventSink{}
	tr := NewStreamTransformer(sink.emit)

	stream := "event: ping\n" +
		": keepalive\n" +
		"data: [DONE]\n" +
		"data: not json at all\n" +
		sseFinishLine(`{"text":"ok"}`, "STOP")

	if err := tr.Feed([]byte(stream)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	text, _ := sink.joined()
	if text != "ok" {
		t.Fatalf("text = %q, want %q", text, "ok")
	}
}

func TestResponseCollector_三种策略(t *testing.T) {
	feed := func(c *ResponseCollector) {
		_ = c.OnEvent(Event{Type: EventText, Content: "A"})
		_ = c.OnEvent(Event{Type: EventThinking, Content: "B1"})
		_ = c.OnEvent(Event{Type: EventThinking, Content: "B2"})
		_ = c.OnEvent(Event{Type: EventText, Content: "C"})
	}

	t.Run("reasoning_content", func(t *testing.T) {
		c := NewResponseCollector("reasoning_content")
		feed(c)
		content, reasoning, _ := c.Result()
		if content != "AC" || reasoning != "B1B2" {
			t.Fatalf("content=%q reasoning=%q", content, reasoning)
		}
	})

	t.Run("raw", func(t *testing.T) {
		c := NewResponseCollector("raw")
		feed(c)
		content, reasoning, _ := c.Result()
		if content != "A<think>B1B2</think>C" {
			t.Fatalf("content=%q", content)
		}
		if reasoning != "" {
			t.Fatalf("raw 模式不应产出 reasoning, got %q", reasoning)
		}
	})

	t.Run("raw尾部悬空标签闭合", func(t *testing.T) {
		c := NewResponseCollector("raw")
		_ = c.OnEvent(Event{Type: EventText, Content: "A"})
		_ = c.OnEvent(Event{Type: EventThinking, Content: "B"})
		content, _, _ := c.Result()
		if content != "A<think>B</think>" {
			t.Fatalf("content=%q", content)
		}
	})

	t.Run("filter", func(t *testing.T) {
		c := NewResponseCollector("filter")
		feed(c)
		content, reasoning, _ := c.Result()
		if content != "AC" || reasoning != "" {
			t.Fatalf("content=%q reasoning=%q", content, reasoning)
		}
	})
}

func TestResponseCollector_ToolCalls去掉Index(t *testing.T) {
	idx := 0
	c := NewResponseCollector("reasoning_content")
	_ = c.OnEvent(Event{Type: EventToolCalls, ToolCalls: []openai.ToolCall{
		{Index: &idx, ID: "call_1", Type: "function", Function: openai.FunctionCall{Name: "f", Arguments: "{}"}},
	}})
	_, _, calls := c.Result()
	if len(calls) != 1 {
		t.Fatalf("len(calls) = %d", len(calls))
	}
	if calls[0].Index != nil {
		t.Fatal("非流式 tool_call 不应携带 index")
	}
}
