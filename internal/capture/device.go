// Package capture 麦克风采集：设备抽象、实时回调与录音生命周期
package capture

import (
	"time"

	"GoVoiceStream/internal/protocol"
)

// StreamParams 输入流参数
type StreamParams struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	Format          protocol.SampleFormat
}

// DefaultStreamParams 16kHz 单声道 float32，每周期1024帧
func DefaultStreamParams() StreamParams {
	return StreamParams{
		SampleRate:      16000,
		Channels:        1,
		FramesPerBuffer: 1024,
		Format:          protocol.FormatFloat32,
	}
}

// PeriodBytes 一个采集周期的字节数
func (p StreamParams) PeriodBytes() int {
	return protocol.PeriodBytes(p.Format, p.Channels, p.FramesPerBuffer)
}

// Period 一个采集周期的时长
func (p StreamParams) Period() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.FramesPerBuffer) * time.Second / time.Duration(p.SampleRate)
}

// InputCallback 每个采集周期在设备线程中调用一次
//
// raw 只在回调期间有效，回调返回后设备会复用这块内存。回调不得阻塞。
type InputCallback func(raw []byte)

// DeviceInfo 输入设备描述
type DeviceInfo struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool

	// Handle 后端私有的设备句柄
	Handle interface{}
}

// Device 音频设备后端
type Device interface {
	DefaultInput() (*DeviceInfo, error)
	OpenInput(info *DeviceInfo, params StreamParams, cb InputCallback) (Stream, error)
	Devices() ([]DeviceInfo, error)
	Close() error
}

// Stream 已打开的输入流
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Gate 发送许可，通常是网络会话的状态机
type Gate interface {
	IsSendable() bool
}

// Sender 帧的去向，成功返回时帧的所有权随之转移
type Sender interface {
	Send(f *protocol.AudioFrame) error
}

// Observer 采集指标观察者
type Observer interface {
	FrameSent(bytes int)
	FrameDropped(reason string)
}
