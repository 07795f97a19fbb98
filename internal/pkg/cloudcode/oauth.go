package cloudcode

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/tidwall/gjson"
)

// CloudCode 上游与 Google OAuth 的固定端点。
const (
	TokenURL = "https://oauth2.googleapis.com/token"
	ClientID = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"

	DefaultBaseURL  = "https://cloudcode-pa.googleapis.com"
	StreamPath      = "/v1internal:streamGenerateContent?alt=sse"
	ModelsPath      = "/v1internal:fetchAvailableModels"
	DefaultAPIHost  = "cloudcode-pa.googleapis.com"
	defaultUA       = "antigravity/1.19.6 windows/amd64"
	ClientSecretEnv = "ANTIGRAVITY2API_OAUTH_CLIENT_SECRET"
)

// defaultClientSecret 可通过环境变量覆盖（见 init）。
var defaultClientSecret = "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"

func init() {
	if v := strings.TrimSpace(os.Getenv(ClientSecretEnv)); v != "" {
		defaultClientSecret = v
	}
}

func getClientSecret() (string, error) {
	secret := strings.TrimSpace(defaultClientSecret)
	if secret == "" {
		return "", fmt.Errorf("client secret 为空，请通过环境变量 %s 配置", ClientSecretEnv)
	}
	return secret, nil
}

// GetUserAgent 返回上游要求的固定 User-Agent。
func GetUserAgent() string {
	return defaultUA
}

// TokenInfo 是一次成功刷新得到的短期访问令牌。
type TokenInfo struct {
	AccessToken string
	ExpiresIn   int64 // 秒
	IssuedAtMS  int64 // 毫秒时间戳
}

// RefreshError 携带刷新失败的分类信息：
// Network 为传输层失败；否则 StatusCode 为 OAuth 端点返回的状态码。
type RefreshError struct {
	StatusCode   int
	Body         string
	RetryAfterMS int64
	Network      bool
}

func (e *RefreshError) Error() string {
	if e.Network {
		return fmt.Sprintf("token refresh network error: %s", e.Body)
	}
	return fmt.Sprintf("token refresh failed: status=%d body=%s", e.StatusCode, e.Body)
}

// IsAuthRevoked 表示刷新令牌本身已失效，凭据应当被禁用。
func (e *RefreshError) IsAuthRevoked() bool {
	if e.Network {
		return false
	}
	switch e.StatusCode {
	case 400, 401, 403:
		// Google 对 invalid_grant 返回 400。
		return true
	}
	return false
}

// RefreshOptions 允许覆盖默认 OAuth 端点（自建中转等场景）。
// 零值字段回退到包常量。
type RefreshOptions struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

func (o RefreshOptions) normalized() (RefreshOptions, error) {
	out := o
	if strings.TrimSpace(out.TokenURL) == "" {
		out.TokenURL = TokenURL
	}
	if strings.TrimSpace(out.ClientID) == "" {
		out.ClientID = ClientID
	}
	if strings.TrimSpace(out.ClientSecret) == "" {
		secret, err := getClientSecret()
		if err != nil {
			return out, err
		}
		out.ClientSecret = secret
	}
	return out, nil
}

// TokenRefresher 把 refresh_token 换成短期 access_token。
type TokenRefresher struct {
	client *req.Client
	opts   RefreshOptions
}

func NewTokenRefresher(client *req.Client, opts RefreshOptions) *TokenRefresher {
	if client == nil {
		client = req.C().SetTimeout(30 * time.Second)
	}
	return &TokenRefresher{client: client, opts: opts}
}

// Refresh 以表单方式调用 OAuth token 端点。
// 非 2xx 与传输失败都以 *RefreshError 返回，调用方据此决定禁用或轮换。
func (r *TokenRefresher) Refresh(ctx context.Context, refreshToken string) (*TokenInfo, error) {
	opts, err := r.opts.normalized()
	if err != nil {
		return nil, err
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     opts.ClientID,
			"client_secret": opts.ClientSecret,
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
		}).
		Post(opts.TokenURL)
	if err != nil {
		return nil, &RefreshError{Network: true, Body: err.Error()}
	}

	body := resp.Bytes()
	if !resp.IsSuccessState() {
		return nil, &RefreshError{
			StatusCode:   resp.StatusCode,
			Body:         truncateBody(string(body), 512),
			RetryAfterMS: ParseRetryAfterHeader(resp.GetHeader("Retry-After")),
		}
	}

	accessToken := gjson.GetBytes(body, "access_token").String()
	if accessToken == "" {
		return nil, &RefreshError{
			StatusCode: resp.StatusCode,
			Body:       "token endpoint returned no access_token",
		}
	}

	expiresIn := gjson.GetBytes(body, "expires_in").Int()
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	return &TokenInfo{
		AccessToken: accessToken,
		ExpiresIn:   expiresIn,
		IssuedAtMS:  time.Now().UnixMilli(),
	}, nil
}

func truncateBody(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
