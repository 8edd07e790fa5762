package testserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// ServerConfig 回环音频端点配置
type ServerConfig struct {
	Addr            string
	Path            string
	APIKey          string // 为空时不校验
	ReadLimit       int64
	ReadBufferSize  int
	WriteBufferSize int
	// AckEvery 每收到N个音频帧回复一条JSON确认和一帧回声音频，0表示不回复
	AckEvery int
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig(addr string) *ServerConfig {
	return &ServerConfig{
		Addr:            addr,
		Path:            "/ai/chat_ws_v2",
		ReadLimit:       4 << 20,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// Frame 服务端收到的一帧
type Frame struct {
	Opcode  int
	Payload []byte
	At      time.Time
}

// Connection 一个客户端连接
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	Header http.Header

	writeMu   sync.Mutex
	stopChan  chan struct{}
	closeOnce sync.Once
}

// safeClose 安全关闭连接的stopChan
func (c *Connection) safeClose() {
	c.closeOnce.Do(func() {
		close(c.stopChan)
	})
}

func (c *Connection) write(opcode int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.Conn.WriteMessage(opcode, payload)
}

// Server 测试用音频对话WebSocket端点
type Server struct {
	config   *ServerConfig
	server   *http.Server
	listener net.Listener
	router   *mux.Router
	upgrader websocket.Upgrader
	log      *slog.Logger

	connections sync.Map // map[string]*Connection
	connCount   atomic.Int32
	connWg      sync.WaitGroup

	mu       sync.Mutex
	received []Frame

	totalConnections atomic.Uint64
	rejected         atomic.Uint64
	closeFrames      atomic.Uint64
	isRunning        atomic.Bool
	startTime        time.Time
}

// New 创建新的测试服务器
func New(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig("127.0.0.1:0")
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有源
			},
		},
		log:       slog.Default().With("module", "testserver"),
		startTime: time.Now(),
	}

	s.router = mux.NewRouter()
	s.router.HandleFunc(config.Path, s.handleWebSocket)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/control", s.handleControl).Methods(http.MethodPost)

	s.server = &http.Server{Handler: s.router}
	return s
}

// Handler 返回路由，供 httptest 包装（例如TLS测试）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 在配置地址上开始监听，Addr 可使用 ":0" 自动分配端口
func (s *Server) Start() error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return errors.New("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.isRunning.Store(false)
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	s.log.Info("test server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", "error", err)
		}
	}()
	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// URL 客户端连接地址
func (s *Server) URL() string {
	return fmt.Sprintf("ws://%s%s", s.Addr(), s.config.Path)
}

// Shutdown 关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	s.connections.Range(func(key, value interface{}) bool {
		s.closeConnection(value.(*Connection), websocket.CloseGoingAway, "server shutdown")
		return true
	})
	s.connWg.Wait()

	return s.server.Shutdown(ctx)
}

// handleWebSocket 处理WebSocket连接
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.config.APIKey != "" && r.Header.Get("X-API-KEY") != s.config.APIKey {
		s.rejected.Add(1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	if s.config.ReadLimit > 0 {
		wsConn.SetReadLimit(s.config.ReadLimit)
	}

	conn := &Connection{
		ID:       fmt.Sprintf("conn_%d_%d", time.Now().UnixNano(), s.totalConnections.Add(1)),
		Conn:     wsConn,
		Header:   r.Header.Clone(),
		stopChan: make(chan struct{}),
	}

	defaultClose := wsConn.CloseHandler()
	wsConn.SetCloseHandler(func(code int, text string) error {
		s.closeFrames.Add(1)
		conn.writeMu.Lock()
		defer conn.writeMu.Unlock()
		return defaultClose(code, text)
	})

	s.connections.Store(conn.ID, conn)
	s.connCount.Add(1)
	s.connWg.Add(1)
	defer s.connWg.Done()

	s.log.Info("new connection", "id", conn.ID, "remote", r.RemoteAddr)
	s.readLoop(conn)
}

// readLoop 消息读取循环
func (s *Server) readLoop(conn *Connection) {
	defer s.closeConnection(conn, websocket.CloseNormalClosure, "connection ended")

	audioFrames := 0
	for {
		opcode, payload, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("connection read error", "id", conn.ID, "error", err)
			}
			return
		}

		s.mu.Lock()
		s.received = append(s.received, Frame{Opcode: opcode, Payload: payload, At: time.Now()})
		s.mu.Unlock()

		if opcode != websocket.BinaryMessage || s.config.AckEvery <= 0 {
			continue
		}
		audioFrames++
		if audioFrames%s.config.AckEvery == 0 {
			ack, _ := json.Marshal(map[string]interface{}{
				"type":   "ack",
				"frames": audioFrames,
			})
			if err := conn.write(websocket.TextMessage, ack); err != nil {
				return
			}
			if err := conn.write(websocket.BinaryMessage, payload); err != nil {
				return
			}
		}
	}
}

// closeConnection 发送关闭帧并关闭连接
func (s *Server) closeConnection(conn *Connection, code int, reason string) {
	if _, loaded := s.connections.LoadAndDelete(conn.ID); !loaded {
		return
	}
	s.connCount.Add(-1)

	conn.writeMu.Lock()
	conn.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	conn.writeMu.Unlock()
	conn.Conn.Close()
	conn.safeClose()

	s.log.Info("connection closed", "id", conn.ID, "reason", reason)
}

// PushBinary 向所有连接推送一帧音频
func (s *Server) PushBinary(payload []byte) error {
	return s.broadcast(websocket.BinaryMessage, payload)
}

// PushText 向所有连接推送一条文本消息
func (s *Server) PushText(text string) error {
	return s.broadcast(websocket.TextMessage, []byte(text))
}

func (s *Server) broadcast(opcode int, payload []byte) error {
	var errs []error
	s.connections.Range(func(key, value interface{}) bool {
		if err := value.(*Connection).write(opcode, payload); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

// CloseAll 以指定关闭码正常关闭所有连接
func (s *Server) CloseAll(code int, reason string) {
	s.connections.Range(func(key, value interface{}) bool {
		conn := value.(*Connection)
		conn.writeMu.Lock()
		conn.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		conn.writeMu.Unlock()
		return true
	})
}

// DropAll 不发关闭帧直接断开所有连接，模拟网络故障
func (s *Server) DropAll() {
	s.connections.Range(func(key, value interface{}) bool {
		value.(*Connection).Conn.UnderlyingConn().Close()
		return true
	})
}

// Received 返回收到的所有帧副本
func (s *Server) Received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := make([]Frame, len(s.received))
	copy(frames, s.received)
	return frames
}

// ReceivedBinary 返回收到的二进制帧载荷
func (s *Server) ReceivedBinary() [][]byte {
	var out [][]byte
	for _, f := range s.Received() {
		if f.Opcode == websocket.BinaryMessage {
			out = append(out, f.Payload)
		}
	}
	return out
}

// ConnectionCount 当前连接数
func (s *Server) ConnectionCount() int {
	return int(s.connCount.Load())
}

// handleStats 处理统计信息请求
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.GetStats())
}

// handleControl 处理控制命令
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	switch action := r.URL.Query().Get("action"); action {
	case "close_all":
		s.CloseAll(websocket.CloseNormalClosure, "closed by control")
		fmt.Fprint(w, "closed all connections")
	case "drop_all":
		s.DropAll()
		fmt.Fprint(w, "dropped all connections")
	case "push_text":
		if err := s.PushText(r.URL.Query().Get("text")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "pushed")
	default:
		http.Error(w, "Unknown action", http.StatusBadRequest)
	}
}

// GetStats 获取服务器统计信息
func (s *Server) GetStats() map[string]interface{} {
	s.mu.Lock()
	received := len(s.received)
	s.mu.Unlock()

	return map[string]interface{}{
		"running":             s.isRunning.Load(),
		"uptime_seconds":      time.Since(s.startTime).Seconds(),
		"current_connections": s.connCount.Load(),
		"total_connections":   s.totalConnections.Load(),
		"rejected":            s.rejected.Load(),
		"frames_received":     received,
		"close_frames":        s.closeFrames.Load(),
	}
}
