package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xiaoshi569/antigravity2api/internal/config"
	"github.com/xiaoshi569/antigravity2api/internal/pkg/logger"
	"github.com/xiaoshi569/antigravity2api/internal/queue"
)

const readHeaderTimeout = 30 * time.Second

// Server 包装 http.Server，持有准入队列以便停机前排空。
type Server struct {
	httpServer *http.Server
	queue      *queue.AdmissionQueue
	addr       string
}

func NewServer(cfg *config.Config, router *gin.Engine, q *queue.AdmissionQueue) *Server {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: router,
			// SSE 响应无限时，整体读写超时必须关闭，只限制头部读取。
			ReadHeaderTimeout: readHeaderTimeout,
		},
		queue: q,
		addr:  addr,
	}
}

// Start 监听并服务，直到 Shutdown 被调用。监听失败立即返回错误。
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	logger.L().Info("server.listening", zap.String("addr", s.addr))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown 先暂停准入（新请求直接 503），再等在途请求收尾。
func (s *Server) Shutdown(ctx context.Context) error {
	s.queue.Pause()
	return s.httpServer.Shutdown(ctx)
}
