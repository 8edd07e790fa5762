package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"GoVoiceStream/internal/capture"
)

// ManualDevice 由测试驱动的输入设备，每次 Emit 相当于设备线程产生一个采集周期
type ManualDevice struct {
	Name string

	// 注入的故障
	NoDefault bool
	OpenErr   error
	StartErr  error
	StopErr   error

	mu      sync.Mutex
	cb      capture.InputCallback
	params  capture.StreamParams
	running bool

	Opened atomic.Int32
	Closed atomic.Int32
}

// NewManualDevice 创建手动设备
func NewManualDevice() *ManualDevice {
	return &ManualDevice{Name: "manual-mic"}
}

// DefaultInput 实现 capture.Device
func (d *ManualDevice) DefaultInput() (*capture.DeviceInfo, error) {
	if d.NoDefault {
		return nil, capture.ErrDeviceUnavailable
	}
	return &capture.DeviceInfo{Name: d.Name, HostAPI: "manual", MaxInputChannels: 1, IsDefault: true}, nil
}

// Devices 实现 capture.Device
func (d *ManualDevice) Devices() ([]capture.DeviceInfo, error) {
	info, err := d.DefaultInput()
	if err != nil {
		return nil, err
	}
	return []capture.DeviceInfo{*info}, nil
}

// OpenInput 实现 capture.Device
func (d *ManualDevice) OpenInput(info *capture.DeviceInfo, params capture.StreamParams, cb capture.InputCallback) (capture.Stream, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.mu.Lock()
	d.cb = cb
	d.params = params
	d.mu.Unlock()
	d.Opened.Add(1)
	return &manualStream{dev: d}, nil
}

// Close 实现 capture.Device
func (d *ManualDevice) Close() error {
	return nil
}

// Running 流是否处于启动状态
func (d *ManualDevice) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Emit 产生一个采集周期，流未启动时返回 false
func (d *ManualDevice) Emit(raw []byte) bool {
	d.mu.Lock()
	cb, running := d.cb, d.running
	d.mu.Unlock()
	if !running || cb == nil {
		return false
	}
	cb(raw)
	return true
}

// EmitPeriods 产生 n 个内容可区分的整周期
func (d *ManualDevice) EmitPeriods(n int) [][]byte {
	d.mu.Lock()
	size := d.params.PeriodBytes()
	d.mu.Unlock()

	var sent [][]byte
	for i := 0; i < n; i++ {
		raw := PeriodPayload(size, i)
		if d.Emit(raw) {
			sent = append(sent, raw)
		}
	}
	return sent
}

// PeriodPayload 生成长度为 size、以序号填充的测试载荷
func PeriodPayload(size, seq int) []byte {
	raw := make([]byte, size)
	for j := range raw {
		raw[j] = byte(seq + j)
	}
	return raw
}

type manualStream struct {
	dev    *ManualDevice
	closed bool
}

func (s *manualStream) Start() error {
	if s.dev.StartErr != nil {
		return s.dev.StartErr
	}
	s.dev.mu.Lock()
	s.dev.running = true
	s.dev.mu.Unlock()
	return nil
}

func (s *manualStream) Stop() error {
	s.dev.mu.Lock()
	s.dev.running = false
	s.dev.mu.Unlock()
	return s.dev.StopErr
}

func (s *manualStream) Close() error {
	if s.closed {
		return errors.New("stream already closed")
	}
	s.closed = true
	s.dev.mu.Lock()
	s.dev.cb = nil
	s.dev.mu.Unlock()
	s.dev.Closed.Add(1)
	return nil
}
