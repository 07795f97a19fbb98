package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xiaoshi569/antigravity2api/internal/config"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/cloudcode"
	infraerrors "github.com/xiaoshi569/antigravity2api/internal/pkg/errors"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/openai"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/response"
	"github.com/xiaoshi569/antigravity2api/internal/service"
)

// ChatGateway 是补全入口对网关服务的依赖切面。
type ChatGateway interface {
	Generate(ctx context.Context, req *openai.ChatCompletionRequest, onEvent cloudcode.EmitFunc) (*service.GenerateResult, error)
}

// OpenAIHandler 承载 OpenAI 兼容面：/v1/models 与 /v1/chat/completions。
type OpenAIHandler struct {
	gateway        ChatGateway
	thinkingOutput string
}

func NewOpenAIHandler(gateway ChatGateway, cfg *config.Config) *OpenAIHandler {
	return &OpenAIHandler{
		gateway:        gateway,
		thinkingOutput: cfg.Thinking.Output,
	}
}

// ListModels 返回可用模型清单。
// GET /v1/models
func (h *OpenAIHandler) ListModels(c *gin.Context) {
	response.Success(c, openai.ModelList{
		Object: "list",
		Data:   cloudcode.ListModels(),
	})
}

// ChatCompletions 处理补全请求，按 stream 字段分流式 / 阻塞两条路径。
// POST /v1/chat/completions
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	var req openai.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorFrom(c, infraerrors.Validation("invalid request body: "+err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		response.ErrorFrom(c, infraerrors.Validation("messages is required"))
		return
	}

	requestLogger(c, "openai").Debug("chat.request_received",
		zap.String("model", req.Model),
		zap.Bool("stream", req.Stream),
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(req.Tools)),
	)

	if req.Stream {
		h.streamCompletion(c, &req)
		return
	}
	h.blockingCompletion(c, &req)
}

func (h *OpenAIHandler) blockingCompletion(c *gin.Context, req *openai.ChatCompletionRequest) {
	collector := cloudcode.NewResponseCollector(h.thinkingOutput)
	result, err := h.gateway.Generate(c.Request.Context(), req, collector.OnEvent)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}

	content, reasoning, toolCalls := collector.Result()
	finish := openai.FinishReasonStop
	if result.HasToolCalls {
		finish = openai.FinishReasonToolCalls
	}

	response.Success(c, &openai.ChatCompletionResponse{
		ID:      openai.NewCompletionID(),
		Object:  openai.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   result.Model,
		Choices: []openai.Choice{{
			Index: 0,
			Message: openai.ResponseMessage{
				Role:             "assistant",
				Content:          content,
				ReasoningContent: reasoning,
				ToolCalls:        toolCalls,
			},
			FinishReason: finish,
		}},
		Usage: result.Usage,
	})
}

func (h *OpenAIHandler) streamCompletion(c *gin.Context, req *openai.ChatCompletionRequest) {
	stream := newSSEStream(c, cloudcode.ResolveModel(req.Model), h.thinkingOutput)
	result, err := h.gateway.Generate(c.Request.Context(), req, stream.onEvent)
	if err != nil {
		stream.fail(err)
		return
	}
	stream.finish(result)
}

// sseStream 把事件流渲染成 OpenAI chunk 序列。响应头与 role chunk
// 推迟到首个事件：凭据轮换必须在流未开之前完成，开流即定局。
type sseStream struct {
	c              *gin.Context
	w              *openai.ChunkWriter
	thinkingOutput string
	started        bool
	lastType       cloudcode.EventType
}

func newSSEStream(c *gin.Context, model, thinkingOutput string) *sseStream {
	return &sseStream{c: c, w: openai.NewChunkWriter(model), thinkingOutput: thinkingOutput}
}

func (s *sseStream) begin() {
	if s.started {
		return
	}
	s.started = true

	header := s.c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	s.c.Writer.WriteHeader(http.StatusOK)

	s.write(s.w.Role())
}

func (s *sseStream) onEvent(ev cloudcode.Event) error {
	s.begin()

	switch ev.Type {
	case cloudcode.EventText:
		if s.thinkingOutput == config.ThinkingOutputRaw && s.lastType == cloudcode.EventThinking {
			s.write(s.w.Content(cloudcode.ThinkCloseTag))
		}
		s.write(s.w.Content(ev.Content))

	case cloudcode.EventThinking:
		switch s.thinkingOutput {
		case config.ThinkingOutputRaw:
			if s.lastType != cloudcode.EventThinking {
				s.write(s.w.Content(cloudcode.ThinkOpenTag))
			}
			s.write(s.w.Content(ev.Content))
		case config.ThinkingOutputFilter:
			// 丢弃
		default:
			s.write(s.w.Reasoning(ev.Content))
		}

	case cloudcode.EventToolCalls:
		s.write(s.w.ToolCalls(ev.ToolCalls))
	}

	s.lastType = ev.Type
	return nil
}

// finish 收尾成功的流。空流也要补齐 role + finish，
// 客户端才能把响应解析成一次合法补全。
func (s *sseStream) finish(result *service.GenerateResult) {
	s.begin()

	if s.thinkingOutput == config.ThinkingOutputRaw && s.lastType == cloudcode.EventThinking {
		s.write(s.w.Content(cloudcode.ThinkCloseTag))
		s.lastType = cloudcode.EventText
	}

	reason := openai.FinishReasonStop
	if result.HasToolCalls {
		reason = openai.FinishReasonToolCalls
	}
	s.write(s.w.Finish(reason, result.Usage))
	s.raw("data: [DONE]\n\n")
}

// fail 未开流时回退到普通 JSON 错误；已开流只能以 data 帧传递错误，
// 且不再发 [DONE]，让客户端识别为异常终止。
func (s *sseStream) fail(err error) {
	if !s.started {
		response.ErrorFrom(s.c, err)
		return
	}
	e, ok := infraerrors.As(err)
	if !ok {
		e = infraerrors.API(http.StatusInternalServerError, err.Error())
	}
	s.writeJSON(openai.NewErrorPayload(e.Status, e.Type, e.Message))
}

func (s *sseStream) write(chunk *openai.ChatCompletionChunk) {
	s.writeJSON(chunk)
}

func (s *sseStream) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		requestLogger(s.c, "openai").Warn("sse.marshal_failed", zap.Error(err))
		return
	}
	s.raw("data: " + string(data) + "\n\n")
}

func (s *sseStream) raw(payload string) {
	if _, err := s.c.Writer.WriteString(payload); err != nil {
		return
	}
	s.c.Writer.Flush()
}
