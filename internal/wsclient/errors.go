package wsclient

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionSetup 无法构造连接（例如URL非法）
	ErrConnectionSetup = errors.New("connection setup failed")
	// ErrConnectionFailure 握手失败或连接异常中断
	ErrConnectionFailure = errors.New("connection failure")
	// ErrConnectionClosed 连接已正常关闭
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotConnected 连接尚未进入 Open 状态
	ErrNotConnected = errors.New("connection is not open")
	// ErrSendAfterClose 发送时连接正在关闭或已关闭
	ErrSendAfterClose = errors.New("send after close")
	// ErrSendQueueFull 发送队列已满，帧被丢弃
	ErrSendQueueFull = errors.New("send queue full")
	// ErrAlreadyRunning Run 只能调用一次
	ErrAlreadyRunning = errors.New("session event loop already started")
)

// ConnectionError 连接层错误，携带失败阶段与握手响应状态
type ConnectionError struct {
	Op         string // dial, read, write
	StatusCode int    // 握手失败时的HTTP状态码
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed (http %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnectionFailure, e.Err}
}
