package session

import (
	"sort"
	"time"
)

// RecordingSpan 一次录音的时间段
type RecordingSpan struct {
	RecordingID string        `json:"recording_id"`
	Device      string        `json:"device,omitempty"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end,omitempty"`
	Duration    time.Duration `json:"duration"`
	Frames      uint64        `json:"frames"`
	Completed   bool          `json:"completed"`
}

// StateSpan 连接在某个状态停留的时间段
type StateSpan struct {
	State    string        `json:"state"`
	Enter    time.Time     `json:"enter"`
	Duration time.Duration `json:"duration"`
}

// Summary 时间线摘要
type Summary struct {
	Recordings       []RecordingSpan `json:"recordings"`
	States           []StateSpan     `json:"states"`
	FirstResponseGap time.Duration   `json:"first_response_gap,omitempty"` // 首次录音开始到首个音频回复
	FinalState       string          `json:"final_state,omitempty"`
}

// TimelineAnalyzer 时间线分析器
type TimelineAnalyzer struct {
	session *Session
}

// NewTimelineAnalyzer 创建时间线分析器
func NewTimelineAnalyzer(session *Session) *TimelineAnalyzer {
	return &TimelineAnalyzer{
		session: session,
	}
}

// sortedEvents 按时间戳排序的事件副本
func (a *TimelineAnalyzer) sortedEvents() []*SessionEvent {
	events := make([]*SessionEvent, len(a.session.Events))
	copy(events, a.session.Events)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

// Summarize 计算录音时间段、状态停留时间与首次响应间隔
func (a *TimelineAnalyzer) Summarize() *Summary {
	summary := &Summary{}
	events := a.sortedEvents()

	open := map[string]int{} // recording_id -> Recordings 下标
	var firstRecording, firstAudio time.Time

	for _, event := range events {
		switch event.Type {
		case EventRecordingStart:
			id, _ := event.Metadata["recording_id"].(string)
			device, _ := event.Metadata["device"].(string)
			open[id] = len(summary.Recordings)
			summary.Recordings = append(summary.Recordings, RecordingSpan{
				RecordingID: id,
				Device:      device,
				Start:       event.Timestamp,
			})
			if firstRecording.IsZero() {
				firstRecording = event.Timestamp
			}
		case EventRecordingStop:
			id, _ := event.Metadata["recording_id"].(string)
			idx, ok := open[id]
			if !ok {
				continue
			}
			delete(open, id)
			span := &summary.Recordings[idx]
			span.End = event.Timestamp
			span.Duration = event.Timestamp.Sub(span.Start)
			span.Completed = true
			span.Frames = toUint64(event.Metadata["frames"])
		case EventAudioReceived:
			if firstAudio.IsZero() {
				firstAudio = event.Timestamp
			}
		case EventStateChange:
			to, _ := event.Metadata["to"].(string)
			if n := len(summary.States); n > 0 {
				summary.States[n-1].Duration = event.Timestamp.Sub(summary.States[n-1].Enter)
			}
			summary.States = append(summary.States, StateSpan{State: to, Enter: event.Timestamp})
			summary.FinalState = to
		}
	}

	// 未结束的录音与最后一个状态截止到会话结束
	for _, idx := range open {
		span := &summary.Recordings[idx]
		span.Duration = a.session.EndTime.Sub(span.Start)
	}
	if n := len(summary.States); n > 0 {
		summary.States[n-1].Duration = a.session.EndTime.Sub(summary.States[n-1].Enter)
	}

	if !firstRecording.IsZero() && firstAudio.After(firstRecording) {
		summary.FirstResponseGap = firstAudio.Sub(firstRecording)
	}
	return summary
}

func toUint64(v interface{}) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int:
		return uint64(n)
	case int64:
		return uint64(n)
	case float64:
		return uint64(n)
	default:
		return 0
	}
}
