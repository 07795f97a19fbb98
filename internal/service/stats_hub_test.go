//go:build unit

package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/xiaoshi569/antigravity2api/internal/scheduler"
)

type staticStats struct {
	report *scheduler.StatsReport
}

func (s staticStats) AllStats() *scheduler.StatsReport { return s.report }

func statsTestReport() *scheduler.StatsReport {
	return &scheduler.StatsReport{
		Summary: scheduler.StatsSummary{Total: 2, Enabled: 1, Disabled: 1},
		Credentials: []scheduler.CredentialStats{
			{Index: 0, Key: "rt-alpha-l", Enabled: true, Status: scheduler.StatusIdle, LastStatus: scheduler.LastEventUnused},
			{Index: 1, Key: "rt-bravo-l", Enabled: false, Status: scheduler.StatusDisabled, LastStatus: scheduler.LastEventUnused},
		},
		Timestamp: 1_700_000_000_000,
	}
}

func dialStatsHub(t *testing.T, hub *StatsHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServePushesSnapshotImmediately(t *testing.T) {
	hub := NewStatsHub(staticStats{report: statsTestReport()})
	conn := dialStatsHub(t, hub)

	// 不启动推送循环也能收到接入帧。
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got scheduler.StatsReport
	require.NoError(t, conn.ReadJSON(&got))

	require.Equal(t, 2, got.Summary.Total)
	require.Len(t, got.Credentials, 2)
	require.Equal(t, "rt-alpha-l", got.Credentials[0].Key)
	require.Equal(t, scheduler.StatusDisabled, got.Credentials[1].Status)
}

func TestBroadcastReachesConnectedClients(t *testing.T) {
	hub := NewStatsHub(staticStats{report: statsTestReport()})
	conn := dialStatsHub(t, hub)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first scheduler.StatsReport
	require.NoError(t, conn.ReadJSON(&first))

	hub.broadcast()

	var second scheduler.StatsReport
	require.NoError(t, conn.ReadJSON(&second))
	require.Equal(t, first.Timestamp, second.Timestamp)
}

func TestConnectDuringBroadcastKeepsSingleWriter(t *testing.T) {
	hub := NewStatsHub(staticStats{report: statsTestReport()})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r)
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	// 广播持续运行时接入新客户端：首帧必须在连接进入推送集前发完，
	// 否则同一连接出现两个写者。
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.broadcast()
			}
		}
	}()

	for i := 0; i < 8; i++ {
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		if resp != nil {
			resp.Body.Close()
		}
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var got scheduler.StatsReport
		require.NoError(t, conn.ReadJSON(&got))
		require.Equal(t, 2, got.Summary.Total)
		conn.Close()
	}

	close(stop)
	wg.Wait()
}

func TestClientDisconnectRemovesConnection(t *testing.T) {
	hub := NewStatsHub(staticStats{report: statsTestReport()})
	conn := dialStatsHub(t, hub)

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.conns) == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	// 读循环感知到断开后把连接移出推送集。
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.conns) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopClosesClients(t *testing.T) {
	hub := NewStatsHub(staticStats{report: statsTestReport()})
	hub.Start()
	conn := dialStatsHub(t, hub)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got scheduler.StatsReport
	require.NoError(t, conn.ReadJSON(&got))

	hub.Stop()
	hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
