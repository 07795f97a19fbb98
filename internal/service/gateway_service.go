package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/xiaoshi569/antigravity2api/internal/credential"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/cloudcode"
	infraerrors "github.com/xiaoshi569/antigravity2api/internal/pkg/errors"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/logger"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/openai"
	"github.com/xiaoshi569/antigravity2api/internal/scheduler"
	"github.com/xiaoshi569/antigravity2api/internal/util/logredact"
)

// errorBodyLimit 限制读取的上游错误体大小。
const errorBodyLimit = 2 << 20

// CredentialScheduler 是网关对调度器的依赖切面。
type CredentialScheduler interface {
	Acquire(ctx context.Context, tried map[string]bool) (*credential.Credential, error)
	Release(key string)
	MarkSuccess(key string)
	MarkFailure(key string, outcome scheduler.FailureOutcome)
}

// Upstream 是网关对上游客户端的依赖切面。
type Upstream interface {
	Stream(ctx context.Context, accessToken string, body []byte) (*cloudcode.StreamResult, error)
}

// GenerateResult 汇总一次成功补全的元信息。
type GenerateResult struct {
	Model        string
	HasToolCalls bool
	Usage        *openai.Usage
}

// GatewayService 执行跨凭据重试的补全调用：调度器选凭据、
// 上游客户端发请求、SSE 转换器把帧翻译成事件回调。
type GatewayService struct {
	sched      CredentialScheduler
	upstream   Upstream
	defaults   cloudcode.GenerationDefaults
	maxRetries int
}

func NewGatewayService(sched CredentialScheduler, upstream Upstream, defaults cloudcode.GenerationDefaults, maxRetries int) *GatewayService {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &GatewayService{
		sched:      sched,
		upstream:   upstream,
		defaults:   defaults,
		maxRetries: maxRetries,
	}
}

// Generate 执行一次补全。事件回调在流式阶段逐段触发；一旦上游开始
// 产出字节就不再换凭据重试，流中断原样失败。
func (s *GatewayService) Generate(ctx context.Context, req *openai.ChatCompletionRequest, onEvent cloudcode.EmitFunc) (*GenerateResult, error) {
	model := cloudcode.ResolveModel(req.Model)
	if model != req.Model {
		logger.L().Debug("gateway.model_mapped",
			zap.String("requested", req.Model),
			zap.String("resolved", model),
		)
	}

	inner, err := cloudcode.BuildInnerRequest(req, model, s.defaults)
	if err != nil {
		return nil, infraerrors.Validation(err.Error())
	}

	tried := make(map[string]bool)
	var lastErr *infraerrors.Error

	maxAttempts := s.maxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cred, err := s.sched.Acquire(ctx, tried)
		if err != nil {
			// 换不到新凭据时，上一次上游错误比调度错误更有信息量。
			if lastErr != nil {
				return nil, exhausted(lastErr, len(tried))
			}
			return nil, err
		}
		tried[cred.Key()] = true

		result, retryable, err := s.attempt(ctx, cred, model, inner, onEvent)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = asInfraError(err)
		logger.L().Warn("gateway.attempt_failed",
			zap.String("credential", cred.Hash()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
	}
	return nil, exhausted(lastErr, len(tried))
}

// attempt 用单个凭据走完整的上游调用。retryable 表示该失败可以
// 换凭据再试；流式阶段的失败一律不可重试。
func (s *GatewayService) attempt(ctx context.Context, cred *credential.Credential, model string, inner []byte, onEvent cloudcode.EmitFunc) (result *GenerateResult, retryable bool, err error) {
	defer s.sched.Release(cred.Key())

	body, err := cloudcode.WrapV1Internal(cred.ProjectID, model, inner)
	if err != nil {
		return nil, false, infraerrors.API(http.StatusInternalServerError, "build upstream request").WithCause(err)
	}

	up, err := s.upstream.Stream(ctx, cred.AccessToken, body)
	if err != nil {
		// 客户端取消不算上游失败，不给凭据记失败账。
		if ctx.Err() != nil {
			return nil, false, infraerrors.Stream("client disconnected").WithCause(err)
		}
		s.sched.MarkFailure(cred.Key(), scheduler.FailureOutcome{
			IsNetwork: true,
			Message:   err.Error(),
		})
		return nil, true, infraerrors.Network("upstream request failed").WithCause(err)
	}

	if up.StatusCode < 200 || up.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(up.Body, errorBodyLimit))
		_ = up.Body.Close()
		return s.classifyHTTPError(cred, up.StatusCode, up.Header, errBody)
	}
	defer up.Body.Close()

	tr := cloudcode.NewStreamTransformer(onEvent)
	if err := pump(ctx, up.Body, tr); err != nil {
		if ctx.Err() != nil {
			return nil, false, infraerrors.Stream("client disconnected during streaming").WithCause(err)
		}
		s.sched.MarkFailure(cred.Key(), scheduler.FailureOutcome{Message: err.Error()})
		return nil, false, infraerrors.Stream("upstream stream interrupted").WithCause(err)
	}
	if err := tr.Close(); err != nil {
		s.sched.MarkFailure(cred.Key(), scheduler.FailureOutcome{Message: err.Error()})
		return nil, false, infraerrors.Stream("finalize upstream stream").WithCause(err)
	}

	s.sched.MarkSuccess(cred.Key())
	return &GenerateResult{
		Model:        model,
		HasToolCalls: tr.HasToolCalls(),
		Usage:        tr.Usage(),
	}, false, nil
}

// classifyHTTPError 把上游非 2xx 转成调度记账与对外错误。
func (s *GatewayService) classifyHTTPError(cred *credential.Credential, status int, header http.Header, errBody []byte) (*GenerateResult, bool, error) {
	detail := logredact.RedactText(truncate(string(errBody), 512))
	logger.L().Warn("gateway.upstream_error",
		zap.String("credential", cred.Hash()),
		zap.Int("status", status),
		zap.String("body", detail),
	)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		s.sched.MarkFailure(cred.Key(), scheduler.FailureOutcome{
			StatusCode: status,
			Message:    detail,
		})
		return nil, false, infraerrors.Authentication("upstream rejected the credential")

	case status == http.StatusTooManyRequests:
		retryMS := cloudcode.ExtractRetryAfterMS(header, errBody)
		s.sched.MarkFailure(cred.Key(), scheduler.FailureOutcome{
			StatusCode:   status,
			Message:      detail,
			RetryAfterMS: retryMS,
		})
		secs := int((retryMS + 999) / 1000)
		return nil, true, infraerrors.RateLimited("upstream rate limited", secs)

	case status >= 500:
		s.sched.MarkFailure(cred.Key(), scheduler.FailureOutcome{
			StatusCode: status,
			Message:    detail,
		})
		return nil, true, infraerrors.API(http.StatusInternalServerError,
			fmt.Sprintf("upstream returned %d", status))

	default:
		s.sched.MarkFailure(cred.Key(), scheduler.FailureOutcome{
			StatusCode: status,
			Message:    detail,
		})
		return nil, false, infraerrors.API(http.StatusInternalServerError,
			fmt.Sprintf("upstream returned %d: %s", status, detail))
	}
}

// pump 把上游响应体持续喂给转换器。每块数据前检查 ctx，
// 客户端断开后不再触发事件回调。
func pump(ctx context.Context, body io.Reader, tr *cloudcode.StreamTransformer) error {
	buf := make([]byte, 8192)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := body.Read(buf)
		if n > 0 {
			if feedErr := tr.Feed(buf[:n]); feedErr != nil {
				return feedErr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func asInfraError(err error) *infraerrors.Error {
	if e, ok := infraerrors.As(err); ok {
		return e
	}
	return infraerrors.API(http.StatusInternalServerError, err.Error())
}

// exhausted 保留最后一次上游错误的分类，补充尝试范围信息。
func exhausted(lastErr *infraerrors.Error, tried int) *infraerrors.Error {
	if lastErr == nil {
		return infraerrors.ServiceUnavailable("no credentials usable")
	}
	e := infraerrors.New(lastErr.Status, lastErr.Type,
		fmt.Sprintf("%s (tried %d credentials)", lastErr.Message, tried))
	e.RetryAfter = lastErr.RetryAfter
	return e
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
