package wsclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"GoVoiceStream/internal/protocol"
)

// APIKeyHeader 认证头
const APIKeyHeader = "X-API-KEY"

// maxCloseReason 关闭帧原因字段上限（控制帧载荷125字节减去2字节状态码）
const maxCloseReason = 123

// MessageHandler 入站消息处理器，在网络协程中同步调用
type MessageHandler func(msg protocol.InboundMessage)

// OpenHandler 握手成功处理器
type OpenHandler func()

// CloseHandler 连接关闭处理器
type CloseHandler func(code int, reason string)

// FailHandler 连接失败处理器
type FailHandler func(err error)

// Config 会话配置
type Config struct {
	URL               string
	Header            http.Header
	UserAgent         string
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	CloseTimeout      time.Duration // 发出关闭帧后等待对端回应的时间
	SendQueueSize     int
	ReadLimit         int64
	EnableCompression bool
	TLSConfig         *tls.Config
}

// DefaultConfig 返回默认配置
func DefaultConfig(url, apiKey string) *Config {
	header := http.Header{}
	if apiKey != "" {
		header.Set(APIKeyHeader, apiKey)
	}
	return &Config{
		URL:              url,
		Header:           header,
		UserAgent:        "GoVoiceStream/1.0",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		CloseTimeout:     3 * time.Second,
		SendQueueSize:    64,
		ReadLimit:        16 << 20,
	}
}

// Session 单条安全WebSocket连接
//
// Run 所在协程是唯一驱动连接状态迁移的网络协程（用户发起的 Open->Closing 除外）；
// 一个写协程独占数据帧写入；Send 可在音频回调线程中并发调用，只做非阻塞入队。
type Session struct {
	config *Config
	dialer *websocket.Dialer
	states *StateMachine
	conn   atomic.Pointer[websocket.Conn]
	log    *slog.Logger

	// sendMu 保护 sendClosed 与“检查状态后入队”这一步；网络侧只在翻转标志时短暂持有写锁
	sendMu     sync.RWMutex
	sendClosed bool
	sendCh     chan *protocol.AudioFrame

	closeReq  chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	closeReason string
	cancelDial  context.CancelFunc

	running atomic.Bool
	done    chan struct{}

	onOpen    OpenHandler
	onClose   CloseHandler
	onFail    FailHandler
	onMessage MessageHandler
	finalized atomic.Bool

	framesQueued     atomic.Uint64
	framesSent       atomic.Uint64
	framesFailed     atomic.Uint64
	bytesSent        atomic.Uint64
	sendRejected     atomic.Uint64
	messagesReceived atomic.Uint64
	bytesReceived    atomic.Uint64
	closeCode        atomic.Int32
}

// New 创建会话
func New(config *Config) *Session {
	if config == nil {
		panic("config cannot be nil")
	}
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = 64
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = 3 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout
	dialer.EnableCompression = config.EnableCompression
	dialer.TLSClientConfig = config.TLSConfig

	return &Session{
		config:   config,
		dialer:   &dialer,
		states:   NewStateMachine(),
		log:      slog.Default().With("module", "wsclient"),
		sendCh:   make(chan *protocol.AudioFrame, config.SendQueueSize),
		closeReq: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetOpenHandler 设置握手成功处理器
func (s *Session) SetOpenHandler(handler OpenHandler) { s.onOpen = handler }

// SetCloseHandler 设置关闭处理器
func (s *Session) SetCloseHandler(handler CloseHandler) { s.onClose = handler }

// SetFailHandler 设置失败处理器
func (s *Session) SetFailHandler(handler FailHandler) { s.onFail = handler }

// SetMessageHandler 设置入站消息处理器
func (s *Session) SetMessageHandler(handler MessageHandler) { s.onMessage = handler }

// SetStateChangeHandler 设置状态变化处理器
func (s *Session) SetStateChangeHandler(handler StateChangeHandler) {
	s.states.SetChangeHandler(handler)
}

// State 当前连接状态
func (s *Session) State() ConnectionState {
	return s.states.State()
}

// IsSendable 连接是否允许发送
func (s *Session) IsSendable() bool {
	return s.states.IsSendable()
}

// Done 在 Run 返回后关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Handle 当前连接句柄，仅在连接存活期间非空
func (s *Session) Handle() *websocket.Conn {
	return s.conn.Load()
}

// Connect 校验URL并进入 Connecting 状态，实际握手在 Run 中进行
func (s *Session) Connect() error {
	u, err := url.Parse(s.config.URL)
	if err != nil {
		return fmt.Errorf("%w: parse url: %v", ErrConnectionSetup, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrConnectionSetup, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host in %q", ErrConnectionSetup, s.config.URL)
	}

	if prev, ok := s.states.To(StateConnecting); !ok {
		return fmt.Errorf("%w: session is %s", ErrConnectionSetup, prev)
	}
	return nil
}

// Run 驱动事件循环直到连接终止。正常关闭返回 nil，失败返回 *ConnectionError
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	if st := s.State(); st != StateConnecting {
		s.shutdownSend()
		if st == StateClosed {
			return nil
		}
		return fmt.Errorf("%w: Run called in state %s", ErrConnectionSetup, st)
	}

	stopWatch := context.AfterFunc(ctx, func() { s.Close("context canceled") })
	defer stopWatch()

	dialCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelDial = cancel
	s.mu.Unlock()
	select {
	case <-s.closeReq:
		cancel()
	default:
	}

	s.log.Info("connecting", "url", s.config.URL)
	conn, resp, err := s.dialer.DialContext(dialCtx, s.config.URL, s.requestHeader())
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return s.finishDial(err, resp)
	}

	if s.config.ReadLimit > 0 {
		conn.SetReadLimit(s.config.ReadLimit)
	}
	s.conn.Store(conn)

	if _, ok := s.states.To(StateOpen); ok {
		s.log.Info("connection open", "url", s.config.URL)
		if s.onOpen != nil {
			s.onOpen()
		}
	}

	stopWriter := make(chan struct{})
	writerDone := make(chan struct{})
	go s.writeLoop(conn, stopWriter, writerDone)

	readErr := s.readLoop(conn)

	close(stopWriter)
	<-writerDone
	return s.finish(conn, readErr)
}

// Send 非阻塞地将帧放入发送队列，成功时帧的所有权转移给会话
func (s *Session) Send(f *protocol.AudioFrame) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	if s.sendClosed {
		s.sendRejected.Add(1)
		return ErrSendAfterClose
	}
	switch st := s.State(); st {
	case StateOpen:
	case StateDisconnected, StateConnecting:
		s.sendRejected.Add(1)
		return ErrNotConnected
	default:
		s.sendRejected.Add(1)
		return ErrSendAfterClose
	}

	select {
	case s.sendCh <- f:
		s.framesQueued.Add(1)
		return nil
	default:
		s.sendRejected.Add(1)
		return ErrSendQueueFull
	}
}

// Close 请求关闭连接，可重复调用
func (s *Session) Close(reason string) error {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}

	requested, closedEarly := false, false

	s.sendMu.Lock()
	for {
		cur := s.State()
		if cur == StateConnecting || cur == StateOpen {
			if s.states.CompareAndSwap(cur, StateClosing) {
				requested = true
				break
			}
			continue
		}
		if cur == StateDisconnected {
			if s.states.CompareAndSwap(cur, StateClosed) {
				s.sendClosed = true
				closedEarly = true
				break
			}
			continue
		}
		break
	}
	s.sendMu.Unlock()

	if !requested && !closedEarly {
		return nil
	}

	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeReason = reason
		cancel := s.cancelDial
		s.mu.Unlock()

		close(s.closeReq)
		if cancel != nil {
			cancel()
		}
	})

	s.log.Info("close requested", "reason", reason)
	if closedEarly {
		s.fireClose(websocket.CloseNormalClosure, reason)
	}
	return nil
}

// requestHeader 握手请求头
func (s *Session) requestHeader() http.Header {
	header := s.config.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if s.config.UserAgent != "" && header.Get("User-Agent") == "" {
		header.Set("User-Agent", s.config.UserAgent)
	}
	return header
}

// readLoop 读取循环，入站消息在本协程内同步分发
func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		opcode, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		kind, err := protocol.KindFromOpcode(opcode)
		if err != nil {
			s.log.Debug("ignoring frame", "opcode", protocol.OpcodeToString(opcode))
			continue
		}

		s.messagesReceived.Add(1)
		s.bytesReceived.Add(uint64(len(data)))

		if s.onMessage != nil {
			s.onMessage(protocol.InboundMessage{Kind: kind, Payload: data})
		}
	}
}

// writeLoop 写协程，唯一的数据帧写入者
func (s *Session) writeLoop(conn *websocket.Conn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		case f := <-s.sendCh:
			s.writeFrame(conn, f)
		case <-s.closeReq:
			s.flushAndClose(conn)
			// 对端迟迟不回应关闭帧时强制断开，保证 Run 能返回
			select {
			case <-stop:
			case <-time.After(s.config.CloseTimeout):
				s.log.Warn("close handshake timed out")
				conn.Close()
			}
			return
		}
	}
}

// writeFrame 写出一个音频帧并归还缓冲区
func (s *Session) writeFrame(conn *websocket.Conn, f *protocol.AudioFrame) {
	defer f.Release()

	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, f.Bytes()); err != nil {
		s.framesFailed.Add(1)
		s.log.Warn("write frame failed", "seq", f.Seq, "error", err)
		// 写失败后连接不可再用，关闭底层连接让读循环退出
		conn.Close()
		return
	}

	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(f.Len))
}

// flushAndClose 先写完关闭前已入队的帧，再发送关闭帧
func (s *Session) flushAndClose(conn *websocket.Conn) {
drain:
	for {
		select {
		case f := <-s.sendCh:
			s.writeFrame(conn, f)
		default:
			break drain
		}
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, s.reason())
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.config.WriteTimeout)); err != nil {
		s.log.Warn("write close frame failed", "error", err)
		conn.Close()
	}
}

// finishDial 处理握手失败
func (s *Session) finishDial(err error, resp *http.Response) error {
	s.shutdownSend()

	if s.State() == StateClosing {
		s.states.To(StateClosed)
		s.fireClose(websocket.CloseNormalClosure, s.reason())
		return nil
	}

	cerr := &ConnectionError{Op: "dial", Err: err}
	if resp != nil {
		cerr.StatusCode = resp.StatusCode
	}
	s.states.To(StateFailed)
	s.log.Error("connection failed", "error", cerr)
	s.fireFail(cerr)
	return cerr
}

// finish 读循环退出后的收尾：关闭发送入口、释放句柄、确定终止状态
func (s *Session) finish(conn *websocket.Conn, readErr error) error {
	s.shutdownSend()
	conn.Close()
	s.conn.Store(nil)
	s.drainQueue()

	var closeErr *websocket.CloseError
	if errors.As(readErr, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		s.closeCode.Store(int32(closeErr.Code))
		s.states.To(StateClosed)
		s.log.Info("connection closed", "code", closeErr.Code, "reason", closeErr.Text)
		s.fireClose(closeErr.Code, closeErr.Text)
		return nil
	}

	if s.State() == StateClosing {
		s.states.To(StateClosed)
		s.log.Info("connection closed", "reason", s.reason())
		s.fireClose(websocket.CloseNormalClosure, s.reason())
		return nil
	}

	cerr := &ConnectionError{Op: "read", Err: readErr}
	s.states.To(StateFailed)
	s.log.Error("connection lost", "error", readErr)
	s.fireFail(cerr)
	return cerr
}

// shutdownSend 关闭发送入口，此后 Send 一律返回 ErrSendAfterClose
func (s *Session) shutdownSend() {
	s.sendMu.Lock()
	s.sendClosed = true
	s.sendMu.Unlock()
}

// drainQueue 回收未写出的帧
func (s *Session) drainQueue() {
	for {
		select {
		case f := <-s.sendCh:
			f.Release()
		default:
			return
		}
	}
}

func (s *Session) reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeReason == "" {
		return "normal closure"
	}
	return s.closeReason
}

func (s *Session) fireClose(code int, reason string) {
	if !s.finalized.CompareAndSwap(false, true) {
		return
	}
	if s.onClose != nil {
		s.onClose(code, reason)
	}
}

func (s *Session) fireFail(err error) {
	if !s.finalized.CompareAndSwap(false, true) {
		return
	}
	if s.onFail != nil {
		s.onFail(err)
	}
}

// GetStats 获取会话统计信息
func (s *Session) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"state":             s.State().String(),
		"frames_queued":     s.framesQueued.Load(),
		"frames_sent":       s.framesSent.Load(),
		"frames_failed":     s.framesFailed.Load(),
		"bytes_sent":        s.bytesSent.Load(),
		"send_rejected":     s.sendRejected.Load(),
		"messages_received": s.messagesReceived.Load(),
		"bytes_received":    s.bytesReceived.Load(),
		"close_code":        s.closeCode.Load(),
		"queue_depth":       len(s.sendCh),
	}
}
