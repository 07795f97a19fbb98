package service

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaoshi569/antigravity2api/internal/pkg/logger"
	"github.com/xiaoshi569/antigravity2api/internal/scheduler"
)

const (
	statsPushInterval = 2 * time.Second
	statsWriteWait    = 10 * time.Second
)

// StatsSource 是统计推送对调度器的依赖切面。
type StatsSource interface {
	AllStats() *scheduler.StatsReport
}

// StatsHub 向所有已连接的 WebSocket 客户端周期推送调度统计。
// 连接是只推的：读循环仅用于感知客户端断开。
type StatsHub struct {
	source   StatsSource
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewStatsHub(source StatsSource) *StatsHub {
	return &StatsHub{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns:  make(map[*websocket.Conn]struct{}),
		stopCh: make(chan struct{}),
	}
}

// Start 启动推送循环。
func (h *StatsHub) Start() {
	h.startOnce.Do(func() {
		h.wg.Add(1)
		go h.pushLoop()
	})
}

// Stop 停止推送并关闭全部连接。
func (h *StatsHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.wg.Wait()

		h.mu.Lock()
		for conn := range h.conns {
			_ = conn.Close()
		}
		h.conns = make(map[*websocket.Conn]struct{})
		h.mu.Unlock()
	})
}

// Serve 把 HTTP 请求升级为 WebSocket 并纳入推送。
// 升级后立即推一帧当前统计，客户端无需等下一个周期。
func (h *StatsHub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Warn("stats_hub.upgrade_failed", zap.Error(err))
		return
	}

	// 首帧在注册前发出：注册后该连接的写权独占于推送循环，
	// gorilla 连接不允许两个写者并行。
	_ = conn.SetWriteDeadline(time.Now().Add(statsWriteWait))
	if err := conn.WriteJSON(h.source.AllStats()); err != nil {
		_ = conn.Close()
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()

	logger.L().Debug("stats_hub.client_connected", zap.Int("connections", total))
	go h.readLoop(conn)
}

// readLoop 丢弃入站消息，只用来发现连接关闭。
func (h *StatsHub) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StatsHub) pushLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(statsPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *StatsHub) broadcast() {
	h.mu.Lock()
	if len(h.conns) == 0 {
		h.mu.Unlock()
		return
	}
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	report := h.source.AllStats()
	for _, conn := range conns {
		h.send(conn, report)
	}
}

func (h *StatsHub) send(conn *websocket.Conn, report *scheduler.StatsReport) {
	_ = conn.SetWriteDeadline(time.Now().Add(statsWriteWait))
	if err := conn.WriteJSON(report); err != nil {
		h.drop(conn)
	}
}

func (h *StatsHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn)
	remaining := len(h.conns)
	h.mu.Unlock()

	_ = conn.Close()
	logger.L().Debug("stats_hub.client_disconnected", zap.Int("connections", remaining))
}
