package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xiaoshi569/antigravity2api/internal/pkg/logger"
)

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/t", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/t", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	got := w.Header().Get("X-Request-ID")
	if got == "" {
		t.Fatalf("X-Request-ID should be set")
	}
	if _, err := uuid.Parse(got); err != nil {
		t.Fatalf("X-Request-ID %q is not a uuid: %v", got, err)
	}
}

func TestRequestID_KeepsIncomingID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/t", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/t", nil)
	req.Header.Set("X-Request-ID", "rid-fixed")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "rid-fixed" {
		t.Fatalf("X-Request-ID=%q, want rid-fixed", got)
	}
}

// observedRouter 在 Logger 下游注入可观测 logger，Logger 事后从
// 请求 ctx 取到的就是它。
func observedRouter(register func(r *gin.Engine)) (*gin.Engine, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	observed := zap.New(core)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger())
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(logger.IntoContext(c.Request.Context(), observed))
		c.Next()
	})
	register(r)
	return r, logs
}

func TestLogger_AccessLogIncludesCoreFields(t *testing.T) {
	r, logs := observedRouter(func(r *gin.Engine) {
		r.POST("/api/test", func(c *gin.Context) {
			c.Status(http.StatusCreated)
		})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/test", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d", w.Code)
	}

	entries := logs.FilterMessage("http request completed").All()
	if len(entries) != 1 {
		t.Fatalf("access log entries=%d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["component"] != "http.access" {
		t.Fatalf("component=%v", fields["component"])
	}
	if fields["status_code"] != int64(http.StatusCreated) {
		t.Fatalf("status_code=%v", fields["status_code"])
	}
	if fields["method"] != "POST" || fields["path"] != "/api/test" {
		t.Fatalf("method/path mismatch: %+v", fields)
	}
	if _, ok := fields["latency_ms"]; !ok {
		t.Fatalf("latency_ms missing: %+v", fields)
	}
	if fields["client_ip"] == "" {
		t.Fatalf("client_ip missing: %+v", fields)
	}
}

func TestLogger_HealthPathSkipped(t *testing.T) {
	r, logs := observedRouter(func(r *gin.Engine) {
		r.GET("/health", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if n := logs.Len(); n != 0 {
		t.Fatalf("health endpoint wrote %d log entries, want 0", n)
	}
}

func TestLogger_ReportsGinErrors(t *testing.T) {
	r, logs := observedRouter(func(r *gin.Engine) {
		r.GET("/api/test", func(c *gin.Context) {
			_ = c.Error(http.ErrBodyNotAllowed)
			c.Status(http.StatusInternalServerError)
		})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/test", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}

	warns := logs.FilterMessage("http request contains gin errors").All()
	if len(warns) != 1 {
		t.Fatalf("warn entries=%d, want 1", len(warns))
	}
	if warns[0].Level != zapcore.WarnLevel {
		t.Fatalf("level=%v, want warn", warns[0].Level)
	}
}
