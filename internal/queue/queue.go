package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	infraerrors "github.com/xiaoshi569/antigravity2api/internal/pkg/errors"
)

// AdmissionQueue 在入口处做全局限流：至多 maxConcurrent 个在途请求，
// 超出的按到达顺序等待；等待者达到 queueLimit 后直接拒绝。
// 额度用带缓冲 channel 表达，排队顺序由运行时的 FIFO 唤醒保证。
type AdmissionQueue struct {
	slots      chan struct{}
	queueLimit int
	timeout    time.Duration

	mu      sync.Mutex
	waiting int

	paused atomic.Bool
}

// Options 控制队列行为。零值字段回退到保守默认。
type Options struct {
	MaxConcurrent int
	QueueLimit    int
	Timeout       time.Duration
}

func New(opts Options) *AdmissionQueue {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.QueueLimit < 0 {
		opts.QueueLimit = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	return &AdmissionQueue{
		slots:      make(chan struct{}, opts.MaxConcurrent),
		queueLimit: opts.QueueLimit,
		timeout:    opts.Timeout,
	}
}

// Slot 是一次放行凭证。Release 幂等：响应完成与连接断开两条路径
// 可以各自调用，额度只退还一次。
type Slot struct {
	q        *AdmissionQueue
	released atomic.Bool
}

func (s *Slot) Release() {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	<-s.q.slots
}

// Acquire 占用一个并发额度。队列已满立即拒绝；等待受 ctx 约束，
// 超时映射为 504、断开映射为 503。Pause 之后全部拒绝。
func (q *AdmissionQueue) Acquire(ctx context.Context) (*Slot, error) {
	if q.paused.Load() {
		return nil, infraerrors.ServiceUnavailable("server is shutting down")
	}

	// 快速路径：有空闲额度时不计入等待者。
	select {
	case q.slots <- struct{}{}:
		return &Slot{q: q}, nil
	default:
	}

	q.mu.Lock()
	if q.waiting >= q.queueLimit {
		depth := q.waiting
		q.mu.Unlock()
		return nil, infraerrors.QueueFull(
			fmt.Sprintf("request queue is full (%d waiting)", depth))
	}
	q.waiting++
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.waiting--
		q.mu.Unlock()
	}()

	select {
	case q.slots <- struct{}{}:
		if q.paused.Load() {
			<-q.slots
			return nil, infraerrors.ServiceUnavailable("server is shutting down")
		}
		return &Slot{q: q}, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, infraerrors.Timeout("timed out waiting for an execution slot")
		}
		return nil, infraerrors.ServiceUnavailable("client disconnected while queued")
	}
}

// Timeout 返回单请求的处理时限，含排队时间。
func (q *AdmissionQueue) Timeout() time.Duration {
	return q.timeout
}

// Pause 停止放行新请求，用于优雅停机前的排空。
func (q *AdmissionQueue) Pause() {
	q.paused.Store(true)
}

// Resume 恢复放行。
func (q *AdmissionQueue) Resume() {
	q.paused.Store(false)
}

// Snapshot 返回队列的观测值，用于 /health。
type Snapshot struct {
	Concurrency int  `json:"concurrency"`
	InFlight    int  `json:"in_flight"`
	Waiting     int  `json:"waiting"`
	Paused      bool `json:"paused"`
}

func (q *AdmissionQueue) Snapshot() Snapshot {
	q.mu.Lock()
	waiting := q.waiting
	q.mu.Unlock()
	return Snapshot{
		Concurrency: cap(q.slots),
		InFlight:    len(q.slots),
		Waiting:     waiting,
		Paused:      q.paused.Load(),
	}
}
