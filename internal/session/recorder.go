// Package session 会话时间线：记录状态变化、录音起止与入站消息元数据，并导出为JSON
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// EventType 事件类型
type EventType string

const (
	EventStateChange    EventType = "STATE_CHANGE"
	EventRecordingStart EventType = "RECORDING_START"
	EventRecordingStop  EventType = "RECORDING_STOP"
	EventAudioReceived  EventType = "AUDIO_RECEIVED"
	EventTextReceived   EventType = "TEXT_RECEIVED"
	EventCommand        EventType = "COMMAND"
	EventError          EventType = "ERROR"
	EventClose          EventType = "CLOSE"
)

// SessionEvent 会话事件
type SessionEvent struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Timestamp   time.Time              `json:"timestamp"`
	MessageSize int                    `json:"message_size,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CloseCode   int                    `json:"close_code,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// SessionStats 会话统计
type SessionStats struct {
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	Duration         time.Duration `json:"duration"`
	TotalEvents      int64         `json:"total_events"`
	Recordings       int64         `json:"recordings"`
	AudioResponses   int64         `json:"audio_responses"`
	TextResponses    int64         `json:"text_responses"`
	BytesReceived    int64         `json:"bytes_received"`
	ErrorCount       int64         `json:"error_count"`
	StateTransitions int64         `json:"state_transitions"`
}

// SessionRecorder 会话录制器
type SessionRecorder struct {
	sessionID string
	endpoint  string
	startTime time.Time
	events    []*SessionEvent
	stats     *SessionStats

	eventCounter atomic.Int64

	mu       sync.RWMutex
	isActive atomic.Bool
}

// NewSessionRecorder 创建新的会话录制器
func NewSessionRecorder(sessionID, endpoint string) *SessionRecorder {
	now := time.Now()
	recorder := &SessionRecorder{
		sessionID: sessionID,
		endpoint:  endpoint,
		startTime: now,
		events:    make([]*SessionEvent, 0, 256),
		stats:     &SessionStats{StartTime: now},
	}
	recorder.isActive.Store(true)
	return recorder
}

// ID 会话标识
func (r *SessionRecorder) ID() string {
	return r.sessionID
}

// RecordEvent 记录事件
func (r *SessionRecorder) RecordEvent(eventType EventType, metadata map[string]interface{}) {
	if !r.isActive.Load() {
		return
	}
	r.addEvent(r.newEvent(eventType, metadata))
}

func (r *SessionRecorder) newEvent(eventType EventType, metadata map[string]interface{}) *SessionEvent {
	return &SessionEvent{
		ID:        fmt.Sprintf("event_%d", r.eventCounter.Add(1)),
		Type:      eventType,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// addEvent 追加一个已填好的事件；追加后事件只读，GetSession 会与导出并发读取
func (r *SessionRecorder) addEvent(event *SessionEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.updateStats(event)
	r.mu.Unlock()
}

// RecordStateChange 记录连接状态变化
func (r *SessionRecorder) RecordStateChange(from, to string) {
	r.RecordEvent(EventStateChange, map[string]interface{}{"from": from, "to": to})
}

// RecordRecording 记录录音开始或结束
func (r *SessionRecorder) RecordRecording(start bool, recordingID, device string, frames uint64) {
	if start {
		r.RecordEvent(EventRecordingStart, map[string]interface{}{
			"recording_id": recordingID,
			"device":       device,
		})
		return
	}
	r.RecordEvent(EventRecordingStop, map[string]interface{}{
		"recording_id": recordingID,
		"frames":       frames,
	})
}

// RecordInbound 记录入站消息，只保存元数据
func (r *SessionRecorder) RecordInbound(binary bool, artifactID string, size int, err error) {
	if !r.isActive.Load() {
		return
	}

	eventType := EventTextReceived
	metadata := map[string]interface{}{}
	if binary {
		eventType = EventAudioReceived
		metadata["artifact_id"] = artifactID
	}

	event := r.newEvent(eventType, metadata)
	event.MessageSize = size
	if err != nil {
		event.Error = err.Error()
	}
	r.addEvent(event)
}

// RecordError 记录错误事件
func (r *SessionRecorder) RecordError(err error, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata["error"] = err.Error()
	r.RecordEvent(EventError, metadata)
}

// RecordClose 记录关闭事件并停止录制
func (r *SessionRecorder) RecordClose(closeCode int, reason string) {
	if r.isActive.Load() {
		event := r.newEvent(EventClose, map[string]interface{}{"reason": reason})
		event.CloseCode = closeCode
		r.addEvent(event)
	}
	r.Stop()
}

// Stop 停止录制
func (r *SessionRecorder) Stop() {
	if !r.isActive.CompareAndSwap(true, false) {
		return
	}

	r.mu.Lock()
	r.stats.EndTime = time.Now()
	r.stats.Duration = r.stats.EndTime.Sub(r.stats.StartTime)
	r.mu.Unlock()
}

// GetSession 获取完整会话记录
func (r *SessionRecorder) GetSession() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := *r.stats
	end := stats.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	s := &Session{
		ID:        r.sessionID,
		Endpoint:  r.endpoint,
		StartTime: r.startTime,
		EndTime:   end,
		Events:    append([]*SessionEvent{}, r.events...),
		Stats:     &stats,
	}
	s.Summary = NewTimelineAnalyzer(s).Summarize()
	return s
}

// GetEvents 获取事件列表
func (r *SessionRecorder) GetEvents() []*SessionEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]*SessionEvent{}, r.events...)
}

// GetStats 获取统计信息副本
func (r *SessionRecorder) GetStats() SessionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return *r.stats
}

// ExportJSON 导出为JSON格式
func (r *SessionRecorder) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(r.GetSession(), "", "  ")
}

// ExportToDir 写入 <dir>/session_<id>.json，返回文件路径
func (r *SessionRecorder) ExportToDir(dir string) (string, error) {
	data, err := r.ExportJSON()
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create timeline dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("session_%s.json", r.sessionID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write session: %w", err)
	}
	return path, nil
}

// updateStats 更新统计信息，调用方持有写锁
func (r *SessionRecorder) updateStats(event *SessionEvent) {
	r.stats.TotalEvents++
	switch event.Type {
	case EventRecordingStart:
		r.stats.Recordings++
	case EventAudioReceived:
		r.stats.AudioResponses++
		r.stats.BytesReceived += int64(event.MessageSize)
	case EventTextReceived:
		r.stats.TextResponses++
		r.stats.BytesReceived += int64(event.MessageSize)
	case EventStateChange:
		r.stats.StateTransitions++
	case EventError:
		r.stats.ErrorCount++
	}
	if event.Error != "" && event.Type != EventError {
		r.stats.ErrorCount++
	}
}
