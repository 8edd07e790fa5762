package capture

import "errors"

var (
	// ErrDeviceUnavailable 没有可用的默认输入设备
	ErrDeviceUnavailable = errors.New("no default input device")
	// ErrStreamOpen 打开或启动输入流失败
	ErrStreamOpen = errors.New("failed to open input stream")
	// ErrStreamClose 停止或关闭输入流失败（流仍被视为已停止）
	ErrStreamClose = errors.New("failed to close input stream")
	// ErrAlreadyRecording 已经在录音
	ErrAlreadyRecording = errors.New("already recording")
)
