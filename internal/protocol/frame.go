package protocol

import (
	"errors"
	"sync/atomic"
)

// ErrFrameTooLarge 采样数据超过帧缓冲区容量
var ErrFrameTooLarge = errors.New("frame too large")

// Recycler 帧回收器（通常是缓冲池）
type Recycler interface {
	Recycle(f *AudioFrame)
}

// AudioFrame 一个采集周期的音频数据
//
// Data 是固定容量的底层缓冲区，Len 为有效字节数。Seq 单调递增，仅用于诊断，
// 传输层保证顺序。任一时刻帧只有一个所有者：采集回调 -> 发送队列 -> 写协程。
type AudioFrame struct {
	Seq  uint64
	Data []byte
	Len  int

	owner    Recycler
	released atomic.Bool
}

// NewAudioFrame 创建容量为 size 的帧，owner 为 nil 时 Release 不做回收
func NewAudioFrame(size int, owner Recycler) *AudioFrame {
	return &AudioFrame{
		Data:  make([]byte, size),
		owner: owner,
	}
}

// Fill 拷贝原始采样数据到帧缓冲区
func (f *AudioFrame) Fill(raw []byte) error {
	if len(raw) > len(f.Data) {
		return ErrFrameTooLarge
	}
	f.Len = copy(f.Data, raw)
	return nil
}

// Bytes 返回有效载荷
func (f *AudioFrame) Bytes() []byte {
	return f.Data[:f.Len]
}

// Release 归还帧，多次调用只生效一次
func (f *AudioFrame) Release() {
	if f.released.Swap(true) {
		return
	}
	if f.owner != nil {
		f.owner.Recycle(f)
	}
}

// Reset 重新启用一个已回收的帧（由缓冲池调用）
func (f *AudioFrame) Reset() {
	f.Seq = 0
	f.Len = 0
	f.released.Store(false)
}
