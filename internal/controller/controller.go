// Package controller 会话控制：把用户命令映射为录音与连接的生命周期操作
package controller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"GoVoiceStream/internal/capture"
	"GoVoiceStream/internal/wsclient"
)

var (
	// ErrNotConnected 连接未打开时拒绝开始录音
	ErrNotConnected = errors.New("websocket not connected")
	// ErrQuitTimeout 退出时等待网络协程超时
	ErrQuitTimeout = errors.New("timed out waiting for connection to close")
)

// Connection 控制器依赖的网络会话
type Connection interface {
	capture.Gate
	capture.Sender
	Connect() error
	Run(ctx context.Context) error
	Close(reason string) error
	State() wsclient.ConnectionState
	GetStats() map[string]interface{}
}

// Recorder 控制器依赖的采集引擎
type Recorder interface {
	Start(gate capture.Gate, sender capture.Sender) (*capture.Recording, error)
	Stop() error
	Current() *capture.Recording
}

// RecordingHook 录音开始或结束时回调
type RecordingHook func(started bool, rec *capture.Recording)

// Controller 会话控制器
//
// 命令在调用方协程中串行执行；网络事件循环运行在 Start 启动的独立协程中。
type Controller struct {
	conn Connection
	rec  Recorder
	out  io.Writer
	log  *slog.Logger

	quitTimeout time.Duration
	onRecording RecordingHook
	onCommand   func(cmd Command)

	mu       sync.Mutex // 串行化命令
	netDone  chan struct{}
	netErr   error
	started  bool
	quitting bool
}

// New 创建控制器，out 为用户可见的提示输出
func New(conn Connection, rec Recorder, out io.Writer) *Controller {
	if conn == nil || rec == nil {
		panic("controller: connection and recorder are required")
	}
	if out == nil {
		out = io.Discard
	}
	return &Controller{
		conn:        conn,
		rec:         rec,
		out:         NewSyncWriter(out),
		log:         slog.Default().With("module", "controller"),
		quitTimeout: 5 * time.Second,
		netDone:     make(chan struct{}),
	}
}

// SetQuitTimeout 设置退出时等待连接关闭的上限
func (c *Controller) SetQuitTimeout(d time.Duration) {
	if d > 0 {
		c.quitTimeout = d
	}
}

// SetRecordingHook 设置录音回调
func (c *Controller) SetRecordingHook(hook RecordingHook) {
	c.onRecording = hook
}

// SetCommandHook 设置命令回调
func (c *Controller) SetCommandHook(hook func(cmd Command)) {
	c.onCommand = hook
}

// Start 发起连接并在后台运行网络事件循环
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return wsclient.ErrAlreadyRunning
	}
	if err := c.conn.Connect(); err != nil {
		return err
	}
	c.started = true

	go func() {
		defer close(c.netDone)
		err := c.conn.Run(ctx)
		c.mu.Lock()
		c.netErr = err
		c.mu.Unlock()
		if err != nil {
			c.notice("连接失败: %v", err)
		}
	}()
	return nil
}

// NetworkDone 网络事件循环结束时关闭；未启动时永不关闭
func (c *Controller) NetworkDone() <-chan struct{} {
	return c.netDone
}

// NetworkErr 网络事件循环的返回值
func (c *Controller) NetworkErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.netErr
}

// StartRecording 开始录音；已在录音或连接未打开时拒绝
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quitting {
		return wsclient.ErrConnectionClosed
	}
	if c.rec.Current() != nil {
		c.notice("已经在录音中")
		return capture.ErrAlreadyRecording
	}
	if !c.conn.IsSendable() {
		c.notice("WebSocket未连接，无法开始录音")
		return ErrNotConnected
	}

	rec, err := c.rec.Start(c.conn, c.conn)
	if err != nil {
		c.notice("无法开始录音: %v", err)
		return err
	}

	c.notice("使用麦克风: %s", rec.Device)
	c.notice("开始录音...")
	if c.onRecording != nil {
		c.onRecording(true, rec)
	}
	return nil
}

// StopRecording 停止录音，未在录音时只给出提示
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRecordingLocked()
}

func (c *Controller) stopRecordingLocked() error {
	rec := c.rec.Current()
	if rec == nil {
		c.notice("当前未在录音")
		return nil
	}

	err := c.rec.Stop()
	if err != nil {
		c.log.Warn("stop recording", "error", err)
	}
	c.notice("停止录音（%d 帧）", rec.Frames())
	if c.onRecording != nil {
		c.onRecording(false, rec)
	}
	return err
}

// Quit 停止录音、关闭连接并等待网络协程退出
func (c *Controller) Quit(ctx context.Context) error {
	c.mu.Lock()
	if c.quitting {
		c.mu.Unlock()
		return nil
	}
	c.quitting = true
	if c.rec.Current() != nil {
		c.stopRecordingLocked()
	}
	started := c.started
	c.mu.Unlock()

	c.conn.Close("user quit")
	if !started {
		return nil
	}

	select {
	case <-c.netDone:
		c.notice("会话已结束")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrQuitTimeout, ctx.Err())
	}
}

// Execute 执行一条命令，返回 true 表示应当退出
func (c *Controller) Execute(cmd Command) bool {
	if c.onCommand != nil {
		c.onCommand(cmd)
	}

	switch cmd {
	case CmdStart:
		c.StartRecording()
	case CmdStop:
		c.StopRecording()
	case CmdStatus:
		c.printStatus()
	case CmdHelp:
		fmt.Fprintln(c.out, usage)
	case CmdQuit:
		return true
	default:
		c.notice("未知命令，输入 h 查看帮助")
	}
	return false
}

// Run 命令循环：逐行读取 in 直到 quit、EOF 或 ctx 结束，随后执行退出流程
func (c *Controller) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(c.out, usage)

loop:
	for {
		select {
		case <-ctx.Done():
			c.log.Info("shutdown requested", "cause", context.Cause(ctx))
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			cmd, ok := ParseCommand(line)
			if !ok {
				continue
			}
			if c.Execute(cmd) {
				break loop
			}
		}
	}

	quitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.quitTimeout)
	defer cancel()
	return c.Quit(quitCtx)
}

func (c *Controller) printStatus() {
	// 整段一次写出，避免与文本回复交错
	var b strings.Builder
	fmt.Fprintf(&b, "连接状态: %s\n", c.conn.State())
	if rec := c.rec.Current(); rec != nil {
		fmt.Fprintf(&b, "录音中: %s (%s), 已发送 %d 帧, 时长 %s\n",
			rec.ID, rec.Device, rec.Frames(), time.Since(rec.StartedAt).Round(time.Second))
	} else {
		b.WriteString("录音中: 否\n")
	}

	stats := c.conn.GetStats()
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %v\n", k, stats[k])
	}
	io.WriteString(c.out, b.String())
}

// notice 用户可见提示，同时写日志
func (c *Controller) notice(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(c.out, msg)
	c.log.Debug(msg)
}

// SyncWriter 串行化写入的输出
//
// 网络协程、命令协程和文本回复都会写终端，它们必须共用同一个 SyncWriter。
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncWriter 包装 w；w 已经是 *SyncWriter 时原样返回
func NewSyncWriter(w io.Writer) *SyncWriter {
	if sw, ok := w.(*SyncWriter); ok {
		return sw
	}
	return &SyncWriter{w: w}
}

// Write 实现 io.Writer
func (l *SyncWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
