package testutil

import (
	"sync"
	"sync/atomic"

	"GoVoiceStream/internal/protocol"
)

// StaticGate 可由测试切换的发送许可
type StaticGate struct {
	open atomic.Bool
}

// NewStaticGate 创建发送许可
func NewStaticGate(open bool) *StaticGate {
	g := &StaticGate{}
	g.open.Store(open)
	return g
}

// Set 切换许可
func (g *StaticGate) Set(open bool) { g.open.Store(open) }

// IsSendable 实现 capture.Gate
func (g *StaticGate) IsSendable() bool { return g.open.Load() }

// RecordingSender 记录收到的帧并立即归还缓冲区
type RecordingSender struct {
	Err error

	mu       sync.Mutex
	payloads [][]byte
	seqs     []uint64
}

// Send 实现 capture.Sender
func (s *RecordingSender) Send(f *protocol.AudioFrame) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	s.payloads = append(s.payloads, append([]byte(nil), f.Bytes()...))
	s.seqs = append(s.seqs, f.Seq)
	s.mu.Unlock()
	f.Release()
	return nil
}

// Payloads 已发送的载荷
func (s *RecordingSender) Payloads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.payloads...)
}

// Seqs 已发送帧的序号
func (s *RecordingSender) Seqs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.seqs...)
}

// StoredAudio 音频接收端收到的一条记录
type StoredAudio struct {
	ID      string
	Payload []byte
}

// RecordingAudioSink 记录所有存储请求
type RecordingAudioSink struct {
	Err error

	mu    sync.Mutex
	items []StoredAudio
}

// StoreAudio 实现 dispatch.AudioSink
func (s *RecordingAudioSink) StoreAudio(id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, StoredAudio{ID: id, Payload: append([]byte(nil), payload...)})
	return s.Err
}

// Items 已存储的记录
func (s *RecordingAudioSink) Items() []StoredAudio {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StoredAudio(nil), s.items...)
}

// RecordingControlSink 记录所有控制消息
type RecordingControlSink struct {
	mu       sync.Mutex
	messages []string
}

// HandleControl 实现 dispatch.ControlSink
func (s *RecordingControlSink) HandleControl(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, string(payload))
	return nil
}

// Messages 已收到的控制消息
func (s *RecordingControlSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

// SyncBuffer 并发安全的输出缓冲
type SyncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

// Write 实现 io.Writer
func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String 当前内容
func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
