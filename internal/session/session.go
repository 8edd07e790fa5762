package session

import (
	"time"
)

// Session 完整的会话记录
type Session struct {
	ID        string          `json:"id"`
	Endpoint  string          `json:"endpoint,omitempty"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Events    []*SessionEvent `json:"events"`
	Stats     *SessionStats   `json:"stats"`
	Summary   *Summary        `json:"summary,omitempty"`
}
