package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"GoVoiceStream/internal/dispatch"
)

// AsyncConfig 异步写入配置
type AsyncConfig struct {
	QueueSize       int
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultAsyncConfig 返回默认配置
func DefaultAsyncConfig() *AsyncConfig {
	return &AsyncConfig{
		QueueSize:       32,
		MaxRetries:      3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

type writeJob struct {
	id      string
	control bool
	payload []byte
}

// AsyncWriter 把磁盘与数据库写入移出网络协程
//
// StoreAudio 和 HandleControl 只做非阻塞入队，单个后台协程按顺序写入下游，失败按指数退避重试。
// 载荷所有权随调用转移，调用方不得再修改。
type AsyncWriter struct {
	sink    dispatch.AudioSink
	control dispatch.ControlSink // sink 同时实现 ControlSink 时非空
	config  *AsyncConfig
	log    *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan writeJob
	done   chan struct{}

	written atomic.Uint64
	retries atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	onResult func(id string, err error)
}

// NewAsyncWriter 创建并启动异步写入器，sink 若实现 dispatch.ControlSink 也可排队控制消息
func NewAsyncWriter(sink dispatch.AudioSink, config *AsyncConfig) *AsyncWriter {
	if config == nil {
		config = DefaultAsyncConfig()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 32
	}

	w := &AsyncWriter{
		sink:   sink,
		config: config,
		log:    slog.Default().With("module", "storage"),
		queue:  make(chan writeJob, config.QueueSize),
		done:   make(chan struct{}),
	}
	w.control, _ = sink.(dispatch.ControlSink)
	go w.loop()
	return w
}

// SetResultHandler 设置写入结果回调（在后台协程中调用），需在写入前设置
func (w *AsyncWriter) SetResultHandler(handler func(id string, err error)) {
	w.onResult = handler
}

// StoreAudio 实现 dispatch.AudioSink
func (w *AsyncWriter) StoreAudio(id string, payload []byte) error {
	return w.enqueue(writeJob{id: id, payload: payload})
}

// HandleControl 实现 dispatch.ControlSink
func (w *AsyncWriter) HandleControl(payload []byte) error {
	if w.control == nil {
		return fmt.Errorf("%w: sink does not accept control messages", ErrStorageWrite)
	}
	return w.enqueue(writeJob{id: "control", control: true, payload: payload})
}

func (w *AsyncWriter) enqueue(job writeJob) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return fmt.Errorf("%w: %w", ErrStorageWrite, ErrWriterClosed)
	}
	select {
	case w.queue <- job:
		return nil
	default:
		w.dropped.Add(1)
		return fmt.Errorf("%w: %w", ErrStorageWrite, ErrQueueFull)
	}
}

func (w *AsyncWriter) loop() {
	defer close(w.done)
	for job := range w.queue {
		err := w.write(job)
		if err != nil {
			w.failed.Add(1)
			w.log.Error("write lost", "id", job.id, "control", job.control, "error", err)
		} else {
			w.written.Add(1)
		}
		if w.onResult != nil {
			w.onResult(job.id, err)
		}
	}
}

func (w *AsyncWriter) write(job writeJob) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.config.InitialInterval
	b.MaxInterval = w.config.MaxInterval
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			w.retries.Add(1)
		}
		if job.control {
			return w.control.HandleControl(job.payload)
		}
		return w.sink.StoreAudio(job.id, job.payload)
	}, backoff.WithMaxRetries(b, w.config.MaxRetries))
}

// Close 停止接收新任务并等待队列写完，ctx 到期时放弃等待
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush write queue: %w", ctx.Err())
	}
}

// GetStats 获取写入统计信息
func (w *AsyncWriter) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"written": w.written.Load(),
		"retries": w.retries.Load(),
		"failed":  w.failed.Load(),
		"dropped": w.dropped.Load(),
		"pending": len(w.queue),
	}
}
