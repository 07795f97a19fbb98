package cloudcode

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	utls "github.com/refraction-networking/utls"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"github.com/xiaoshi569/antigravity2api/internal/pkg/logger"
)

// UpstreamOptions 来自配置 api.* 段。
type UpstreamOptions struct {
	URL            string
	Host           string
	UserAgent      string
	Proxy          string
	TLSFingerprint string
}

func (o UpstreamOptions) normalized() UpstreamOptions {
	out := o
	if strings.TrimSpace(out.URL) == "" {
		out.URL = DefaultBaseURL + StreamPath
	}
	if strings.TrimSpace(out.Host) == "" {
		out.Host = DefaultAPIHost
	}
	if strings.TrimSpace(out.UserAgent) == "" {
		out.UserAgent = defaultUA
	}
	return out
}

// UpstreamClient 对 CloudCode 上游发起流式推理调用。
// 响应体不做整体超时，生命周期由请求 ctx 控制。
type UpstreamClient struct {
	client *req.Client
	opts   UpstreamOptions
}

// StreamResult 是一次上游调用的句柄。Body 已按 Content-Encoding 解包，
// 无论状态码如何都由调用方负责 Close。
type StreamResult struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

func NewUpstreamClient(opts UpstreamOptions) *UpstreamClient {
	opts = opts.normalized()

	client := req.C().
		DisableAutoReadResponse().
		SetTimeout(0)

	applyProxy(client, opts.Proxy)
	applyTLSFingerprint(client, opts.TLSFingerprint)

	return &UpstreamClient{client: client, opts: opts}
}

// Stream 执行推理调用。返回错误表示传输层失败；HTTP 错误通过
// StatusCode 体现，错误体同样经过解压。
func (c *UpstreamClient) Stream(ctx context.Context, accessToken string, body []byte) (*StreamResult, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeaders(map[string]string{
			"Host":            c.opts.Host,
			"User-Agent":      c.opts.UserAgent,
			"Authorization":   "Bearer " + accessToken,
			"Content-Type":    "application/json",
			"Accept-Encoding": "gzip",
		}).
		SetBodyBytes(body).
		Post(c.opts.URL)
	if err != nil {
		return nil, err
	}

	return &StreamResult{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       decodeBody(resp.Body, resp.GetHeader("Content-Encoding")),
	}, nil
}

// NewHTTPClient 构建带代理的通用 req 客户端，供 OAuth 刷新等非流式调用。
func NewHTTPClient(proxyURL string, timeout time.Duration) *req.Client {
	client := req.C()
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	applyProxy(client, proxyURL)
	return client
}

// applyProxy 配置出站代理：socks5 走 x/net/proxy 拨号器，
// http/https 交给标准 proxy 机制。空串表示直连。
func applyProxy(client *req.Client, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		logger.L().Warn("upstream.proxy_invalid",
			zap.String("proxy", raw),
			zap.Error(err),
		)
		return
	}

	switch parsed.Scheme {
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			logger.L().Warn("upstream.proxy_dialer_failed",
				zap.String("proxy", raw),
				zap.Error(err),
			)
			return
		}
		client.SetDial(func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		})
	case "http", "https":
		client.SetProxyURL(raw)
	default:
		logger.L().Warn("upstream.proxy_scheme_unsupported",
			zap.String("scheme", parsed.Scheme),
		)
	}
}

// applyTLSFingerprint 可选地伪装 TLS ClientHello。空串保持 Go 默认指纹。
func applyTLSFingerprint(client *req.Client, name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
	case "chrome":
		client.SetTLSFingerprint(utls.HelloChrome_Auto)
	case "firefox":
		client.SetTLSFingerprint(utls.HelloFirefox_Auto)
	case "safari":
		client.SetTLSFingerprint(utls.HelloSafari_Auto)
	default:
		logger.L().Warn("upstream.tls_fingerprint_unknown",
			zap.String("fingerprint", name),
		)
	}
}
