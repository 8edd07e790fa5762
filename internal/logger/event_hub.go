package logger

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event 推送给状态页订阅者的会话事件
type Event struct {
	Level     string                 `json:"level"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Module    string                 `json:"module,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan Event
}

// EventHub WebSocket事件广播器
//
// Publish 永不阻塞：广播通道或某个订阅者的缓冲满了就丢弃，慢订阅者会被断开。
type EventHub struct {
	mu        sync.RWMutex
	clients   map[*subscriber]bool
	broadcast chan Event
	upgrader  websocket.Upgrader
	dropped   uint64
}

// NewEventHub 创建事件广播器
func NewEventHub() *EventHub {
	return &EventHub{
		clients:   make(map[*subscriber]bool),
		broadcast: make(chan Event, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源，跨域由外层 cors 控制
			},
		},
	}
}

// Run 分发事件直到 ctx 结束
func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for sub := range h.clients {
				delete(h.clients, sub)
				close(sub.send)
			}
			h.mu.Unlock()
			return
		case ev := <-h.broadcast:
			h.mu.Lock()
			for sub := range h.clients {
				select {
				case sub.send <- ev:
				default:
					delete(h.clients, sub)
					close(sub.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish 发布事件
func (h *EventHub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- ev:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

// Info 发布一条信息事件
func (h *EventHub) Info(typ, message string, fields map[string]interface{}) {
	h.Publish(Event{Level: "INFO", Type: typ, Message: message, Fields: fields})
}

// Warning 发布一条警告事件
func (h *EventHub) Warning(typ, message string, fields map[string]interface{}) {
	h.Publish(Event{Level: "WARNING", Type: typ, Message: message, Fields: fields})
}

// Error 发布一条错误事件
func (h *EventHub) Error(typ, message string, fields map[string]interface{}) {
	h.Publish(Event{Level: "ERROR", Type: typ, Message: message, Fields: fields})
}

// Subscribers 当前订阅者数量
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket 处理订阅连接
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("event stream upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan Event, 64)}
	h.mu.Lock()
	h.clients[sub] = true
	h.mu.Unlock()

	go h.writePump(sub)

	// 读循环只用于感知断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if h.clients[sub] {
		delete(h.clients, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

func (h *EventHub) writePump(sub *subscriber) {
	defer sub.conn.Close()

	sub.conn.SetWriteDeadline(time.Now().Add(time.Second))
	sub.conn.WriteJSON(Event{
		Level:     "INFO",
		Type:      "hello",
		Message:   "已连接到会话事件流",
		Module:    "events",
		Timestamp: time.Now(),
	})

	for ev := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := sub.conn.WriteJSON(ev); err != nil {
			return
		}
	}
	sub.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
}

// Handler 返回一个把 slog 记录转发为事件的处理器
func (h *EventHub) Handler(min slog.Level) slog.Handler {
	return &hubHandler{hub: h, min: min}
}

type hubHandler struct {
	hub   *EventHub
	min   slog.Level
	attrs []slog.Attr
}

func (hh *hubHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= hh.min
}

func (hh *hubHandler) Handle(_ context.Context, r slog.Record) error {
	ev := Event{
		Level:     r.Level.String(),
		Type:      "log",
		Message:   r.Message,
		Timestamp: r.Time,
	}
	fields := make(map[string]interface{}, r.NumAttrs()+len(hh.attrs))
	add := func(a slog.Attr) bool {
		if a.Key == "module" {
			ev.Module = a.Value.String()
		} else if a.Value.Kind() == slog.KindAny {
			fields[a.Key] = a.Value.String()
		} else {
			fields[a.Key] = a.Value.Any()
		}
		return true
	}
	for _, a := range hh.attrs {
		add(a)
	}
	r.Attrs(add)
	if len(fields) > 0 {
		ev.Fields = fields
	}
	hh.hub.Publish(ev)
	return nil
}

func (hh *hubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr(nil), hh.attrs...), attrs...)
	return &hubHandler{hub: hh.hub, min: hh.min, attrs: merged}
}

func (hh *hubHandler) WithGroup(string) slog.Handler {
	return hh
}
