package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"GoVoiceStream/internal/bufpool"
)

// Config 采集引擎配置
type Config struct {
	Params   StreamParams
	PoolSize int // 预分配帧数量
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Params:   DefaultStreamParams(),
		PoolSize: 32,
	}
}

// Recording 一次录音
type Recording struct {
	ID        string
	Device    string
	StartedAt time.Time

	stream Stream
	active atomic.Bool
	seq    atomic.Uint64
	frames atomic.Uint64
}

// Active 录音是否仍在进行
func (r *Recording) Active() bool {
	return r.active.Load()
}

// Frames 已成功交给发送方的帧数
func (r *Recording) Frames() uint64 {
	return r.frames.Load()
}

// Engine 音频采集引擎
//
// 同一时刻最多一个录音。Start/Stop 由控制器调用；周期回调运行在设备线程，
// 只做非阻塞操作：检查发送许可、从缓冲池取帧、拷贝、交给 Sender。
type Engine struct {
	config   *Config
	device   Device
	pool     *bufpool.Pool
	log      *slog.Logger
	observer Observer

	mu  sync.Mutex
	rec *Recording

	periods     atomic.Uint64
	framesSent  atomic.Uint64
	notOpen     atomic.Uint64
	sendErrors  atomic.Uint64
	lastErrLog  atomic.Int64
	suppressed  atomic.Uint64
	recordCount atomic.Uint64
}

// NewEngine 创建采集引擎
func NewEngine(config *Config, device Device) *Engine {
	if config == nil {
		panic("config cannot be nil")
	}
	if device == nil {
		panic("device cannot be nil")
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 32
	}

	return &Engine{
		config: config,
		device: device,
		pool:   bufpool.New(config.Params.PeriodBytes(), config.PoolSize),
		log:    slog.Default().With("module", "capture"),
	}
}

// SetObserver 设置指标观察者，需在 Start 之前调用
func (e *Engine) SetObserver(observer Observer) {
	e.observer = observer
}

// Pool 帧缓冲池
func (e *Engine) Pool() *bufpool.Pool {
	return e.pool
}

// Start 打开默认输入设备并开始录音
func (e *Engine) Start(gate Gate, sender Sender) (*Recording, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec != nil {
		return nil, ErrAlreadyRecording
	}

	info, err := e.device.DefaultInput()
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if info == nil {
		return nil, ErrDeviceUnavailable
	}

	rec := &Recording{
		ID:        uuid.NewString(),
		Device:    info.Name,
		StartedAt: time.Now(),
	}
	rec.active.Store(true)

	stream, err := e.device.OpenInput(info, e.config.Params, func(raw []byte) {
		e.onPeriod(rec, gate, sender, raw)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamOpen, err)
	}
	rec.stream = stream

	if err := stream.Start(); err != nil {
		rec.active.Store(false)
		stream.Close()
		return nil, fmt.Errorf("%w: %v", ErrStreamOpen, err)
	}

	e.rec = rec
	e.recordCount.Add(1)
	e.log.Info("recording started", "id", rec.ID, "device", rec.Device,
		"sample_rate", e.config.Params.SampleRate, "frames_per_buffer", e.config.Params.FramesPerBuffer)
	return rec, nil
}

// Stop 停止当前录音，未在录音时为空操作
//
// 设备报错时录音仍被视为已停止，返回包装了 ErrStreamClose 的错误。
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.rec
	if rec == nil {
		return nil
	}
	e.rec = nil
	rec.active.Store(false)

	var errs []error
	if err := rec.stream.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := rec.stream.Close(); err != nil {
		errs = append(errs, err)
	}

	e.log.Info("recording stopped", "id", rec.ID, "frames", rec.Frames(),
		"duration", time.Since(rec.StartedAt).Round(time.Millisecond))

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrStreamClose, errors.Join(errs...))
	}
	return nil
}

// Active 是否正在录音
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec != nil
}

// Current 当前录音，未录音时为 nil
func (e *Engine) Current() *Recording {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec
}

// Close 停止录音并释放设备
func (e *Engine) Close() error {
	return errors.Join(e.Stop(), e.device.Close())
}

// onPeriod 周期回调
func (e *Engine) onPeriod(rec *Recording, gate Gate, sender Sender, raw []byte) {
	e.periods.Add(1)
	if !rec.active.Load() {
		return
	}
	if !gate.IsSendable() {
		e.notOpen.Add(1)
		e.dropped("not_open")
		return
	}

	f := e.pool.Get()
	if err := f.Fill(raw); err != nil {
		f.Release()
		e.sendErrors.Add(1)
		e.dropped("oversize")
		e.logThrottled("capture period larger than frame buffer", err)
		return
	}
	f.Seq = rec.seq.Add(1)

	n := f.Len
	if err := sender.Send(f); err != nil {
		f.Release()
		e.sendErrors.Add(1)
		e.dropped("send_error")
		e.logThrottled("send audio frame failed", err)
		return
	}

	rec.frames.Add(1)
	e.framesSent.Add(1)
	if e.observer != nil {
		e.observer.FrameSent(n)
	}
}

func (e *Engine) dropped(reason string) {
	if e.observer != nil {
		e.observer.FrameDropped(reason)
	}
}

// logThrottled 每秒最多输出一条错误日志，避免在实时线程里刷屏
func (e *Engine) logThrottled(msg string, err error) {
	now := time.Now().UnixNano()
	last := e.lastErrLog.Load()
	if now-last < int64(time.Second) || !e.lastErrLog.CompareAndSwap(last, now) {
		e.suppressed.Add(1)
		return
	}
	e.log.Warn(msg, "error", err, "suppressed", e.suppressed.Swap(0))
}

// GetStats 获取采集统计信息
func (e *Engine) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"recording":   e.Active(),
		"recordings":  e.recordCount.Load(),
		"periods":     e.periods.Load(),
		"frames_sent": e.framesSent.Load(),
		"not_open":    e.notOpen.Load(),
		"send_errors": e.sendErrors.Load(),
		"pool":        e.pool.Stats(),
	}
	if rec := e.Current(); rec != nil {
		stats["recording_id"] = rec.ID
		stats["device"] = rec.Device
	}
	return stats
}
