//go:build unit

package cloudcode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func TestUpstreamOptionsNormalized(t *testing.T) {
	out := UpstreamOptions{}.normalized()
	require.Equal(t, DefaultBaseURL+StreamPath, out.URL)
	require.Equal(t, DefaultAPIHost, out.Host)
	require.NotEmpty(t, out.UserAgent)

	custom := UpstreamOptions{
		URL:       "https://mirror.internal/v1internal:streamGenerateContent?alt=sse",
		Host:      "mirror.internal",
		UserAgent: "antigravity/1.19.6 linux/amd64",
	}.normalized()
	require.Equal(t, "mirror.internal", custom.Host)
	require.Equal(t, "antigravity/1.19.6 linux/amd64", custom.UserAgent)
}

type recordedRequest struct {
	host        string
	userAgent   string
	auth        string
	contentType string
	acceptEnc   string
	body        []byte
}

func TestStreamSendsHeadersAndBody(t *testing.T) {
	recCh := make(chan recordedRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		recCh <- recordedRequest{
			host:        r.Host,
			userAgent:   r.Header.Get("User-Agent"),
			auth:        r.Header.Get("Authorization"),
			contentType: r.Header.Get("Content-Type"),
			acceptEnc:   r.Header.Get("Accept-Encoding"),
			body:        body,
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	client := NewUpstreamClient(UpstreamOptions{
		URL:       srv.URL,
		Host:      "cloudcode-pa.googleapis.com",
		UserAgent: "antigravity/1.19.6 windows/amd64",
	})

	payload := []byte(`{"project":"amber-falcon-00a1b","requestType":"agent"}`)
	res, err := client.Stream(context.Background(), "ya29.alpha-token", payload)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	got, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "data: [DONE]\n", string(got))

	rec := <-recCh
	require.Equal(t, "cloudcode-pa.googleapis.com", rec.host)
	require.Equal(t, "antigravity/1.19.6 windows/amd64", rec.userAgent)
	require.Equal(t, "Bearer ya29.alpha-token", rec.auth)
	require.Equal(t, "application/json", rec.contentType)
	require.Equal(t, "gzip", rec.acceptEnc)
	require.Equal(t, payload, rec.body)
}

func TestStreamDecodesGzipBody(t *testing.T) {
	const sse = "data: {\"response\":{}}\n\ndata: [DONE]\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = io.WriteString(gz, sse)
		_ = gz.Close()
	}))
	defer srv.Close()

	client := NewUpstreamClient(UpstreamOptions{URL: srv.URL})
	res, err := client.Stream(context.Background(), "ya29.alpha-token", []byte(`{}`))
	require.NoError(t, err)
	defer res.Body.Close()

	got, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, sse, string(got))
}

func TestStreamEmptyGzipErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 上游限流响应常带 gzip 头却没有响应体。
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewUpstreamClient(UpstreamOptions{URL: srv.URL})
	res, err := client.Stream(context.Background(), "ya29.alpha-token", []byte(`{}`))
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	got, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStreamHTTPErrorKeepsBodyReadable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded"}}`)
	}))
	defer srv.Close()

	client := NewUpstreamClient(UpstreamOptions{URL: srv.URL})
	res, err := client.Stream(context.Background(), "ya29.alpha-token", []byte(`{}`))
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	got, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"error":{"message":"overloaded"}}`, string(got))
}

func TestStreamTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewUpstreamClient(UpstreamOptions{URL: srv.URL})
	_, err := client.Stream(context.Background(), "ya29.alpha-token", []byte(`{}`))
	require.Error(t, err)
}
