// Package storage 入站音频与控制消息的落地：文件、异步写入、PostgreSQL 与控制台
package storage

import (
	"errors"

	"GoVoiceStream/internal/dispatch"
)

var (
	// ErrStorageWrite 与分发器共用的写入失败哨兵
	ErrStorageWrite = dispatch.ErrStorageWrite
	// ErrQueueFull 异步写入队列已满
	ErrQueueFull = errors.New("storage queue full")
	// ErrWriterClosed 异步写入器已关闭
	ErrWriterClosed = errors.New("storage writer closed")
)

// MultiAudio 依次写入多个音频接收端，任一失败都会返回合并后的错误
type MultiAudio []dispatch.AudioSink

// StoreAudio 实现 dispatch.AudioSink
func (m MultiAudio) StoreAudio(id string, payload []byte) error {
	var errs []error
	for _, sink := range m {
		if err := sink.StoreAudio(id, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiControl 依次交给多个控制接收端
type MultiControl []dispatch.ControlSink

// HandleControl 实现 dispatch.ControlSink
func (m MultiControl) HandleControl(payload []byte) error {
	var errs []error
	for _, sink := range m {
		if err := sink.HandleControl(payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
