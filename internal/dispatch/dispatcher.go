// Package dispatch 将入站消息按类型路由到音频存储与控制处理
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"GoVoiceStream/internal/protocol"
)

// ErrStorageWrite 音频或控制消息落地失败
var ErrStorageWrite = errors.New("storage write failed")

// AudioSink 音频产物的去向
type AudioSink interface {
	StoreAudio(id string, payload []byte) error
}

// ControlSink 文本控制消息的去向
type ControlSink interface {
	HandleControl(payload []byte) error
}

// DispatchHook 每条消息处理完后回调，用于时间线与指标
type DispatchHook func(msg protocol.InboundMessage, id string, err error)

// ArtifactNamer 生成音频产物标识
//
// 格式为 audio_response_<unix秒>_<计数>，同一秒内的多条消息靠计数区分。
type ArtifactNamer struct {
	Prefix  string
	counter atomic.Uint64
	now     func() time.Time
}

// NewArtifactNamer 创建产物命名器
func NewArtifactNamer() *ArtifactNamer {
	return &ArtifactNamer{Prefix: "audio_response", now: time.Now}
}

// Next 下一个标识
func (n *ArtifactNamer) Next() string {
	return fmt.Sprintf("%s_%d_%d", n.Prefix, n.now().Unix(), n.counter.Add(1))
}

// Dispatcher 入站消息分发器，在网络协程中同步调用
type Dispatcher struct {
	audio   AudioSink
	control ControlSink
	namer   *ArtifactNamer
	hook    DispatchHook
	log     *slog.Logger

	audioMessages   atomic.Uint64
	controlMessages atomic.Uint64
	storageErrors   atomic.Uint64
}

// New 创建分发器
func New(audio AudioSink, control ControlSink) *Dispatcher {
	if audio == nil || control == nil {
		panic("dispatch: sinks cannot be nil")
	}
	return &Dispatcher{
		audio:   audio,
		control: control,
		namer:   NewArtifactNamer(),
		log:     slog.Default().With("module", "dispatch"),
	}
}

// SetNamer 替换产物命名器
func (d *Dispatcher) SetNamer(namer *ArtifactNamer) {
	d.namer = namer
}

// SetHook 设置分发回调
func (d *Dispatcher) SetHook(hook DispatchHook) {
	d.hook = hook
}

// Dispatch 处理一条入站消息
//
// 存储失败会被记录并以 ErrStorageWrite 包装返回，但消息仍视为已处理，连接不受影响。
func (d *Dispatcher) Dispatch(msg protocol.InboundMessage) error {
	var (
		id  string
		err error
	)

	switch msg.Kind {
	case protocol.KindBinary:
		d.audioMessages.Add(1)
		id = d.namer.Next()
		if serr := d.audio.StoreAudio(id, msg.Payload); serr != nil {
			err = fmt.Errorf("%w: audio %s: %w", ErrStorageWrite, id, serr)
		} else {
			// 下游可能只是入队，落地结果由写入方报告
			d.log.Info("audio response queued", "id", id, "bytes", len(msg.Payload))
		}
	case protocol.KindText:
		d.controlMessages.Add(1)
		if serr := d.control.HandleControl(msg.Payload); serr != nil {
			err = fmt.Errorf("%w: control message: %w", ErrStorageWrite, serr)
		}
	default:
		d.log.Debug("ignoring message", "kind", msg.Kind)
		return nil
	}

	if err != nil {
		d.storageErrors.Add(1)
		d.log.Error("dispatch failed", "kind", msg.Kind, "error", err)
	}
	if d.hook != nil {
		d.hook(msg, id, err)
	}
	return err
}

// Handle 适配 wsclient.MessageHandler
func (d *Dispatcher) Handle(msg protocol.InboundMessage) {
	d.Dispatch(msg)
}

// GetStats 获取分发统计信息
func (d *Dispatcher) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"audio_messages":   d.audioMessages.Load(),
		"control_messages": d.controlMessages.Load(),
		"storage_errors":   d.storageErrors.Load(),
	}
}
