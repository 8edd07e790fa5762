// Package bufpool 采集回调与网络写协程之间循环使用的定长帧缓冲池
package bufpool

import (
	"sync/atomic"

	"GoVoiceStream/internal/protocol"
)

// Pool 定长帧缓冲池
//
// 空闲帧保存在带缓冲的 channel 中，Get/Recycle 都是非阻塞的，可以在实时音频回调中调用。
// 池耗尽时 Get 会临时分配一个新帧（计入 Misses），池已满时 Recycle 直接丢弃。
type Pool struct {
	size int
	free chan *protocol.AudioFrame

	allocs atomic.Uint64
	misses atomic.Uint64
	gets   atomic.Uint64
}

// New 创建缓冲池并预分配 count 个 size 字节的帧
func New(size, count int) *Pool {
	if size <= 0 {
		panic("bufpool: size must be positive")
	}
	if count < 1 {
		count = 1
	}

	p := &Pool{
		size: size,
		free: make(chan *protocol.AudioFrame, count),
	}
	for i := 0; i < count; i++ {
		p.free <- protocol.NewAudioFrame(size, p)
		p.allocs.Add(1)
	}
	return p
}

// Size 每个帧的容量
func (p *Pool) Size() int {
	return p.size
}

// Get 取出一个空闲帧
func (p *Pool) Get() *protocol.AudioFrame {
	p.gets.Add(1)
	select {
	case f := <-p.free:
		f.Reset()
		return f
	default:
		p.misses.Add(1)
		p.allocs.Add(1)
		return protocol.NewAudioFrame(p.size, p)
	}
}

// Recycle 实现 protocol.Recycler
func (p *Pool) Recycle(f *protocol.AudioFrame) {
	if f == nil || len(f.Data) != p.size {
		return
	}
	select {
	case p.free <- f:
	default:
	}
}

// Capacity 空闲链表容量
func (p *Pool) Capacity() int {
	return cap(p.free)
}

// Available 当前空闲帧数量
func (p *Pool) Available() int {
	return len(p.free)
}

// Stats 获取缓冲池统计信息
func (p *Pool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"frame_size": p.size,
		"capacity":   cap(p.free),
		"available":  len(p.free),
		"gets":       p.gets.Load(),
		"misses":     p.misses.Load(),
		"allocs":     p.allocs.Load(),
	}
}
