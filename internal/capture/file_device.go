package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileDevice 把原始PCM文件按采集周期回放成输入流，用于无麦克风环境和回归测试
type FileDevice struct {
	Path string
	// Loop 文件读完后从头开始
	Loop bool
	// Interval 覆盖回调间隔，0 表示按采样率实时回放
	Interval time.Duration
}

// NewFileDevice 创建文件输入设备
func NewFileDevice(path string, loop bool) *FileDevice {
	return &FileDevice{Path: path, Loop: loop}
}

// DefaultInput 实现 Device
func (d *FileDevice) DefaultInput() (*DeviceInfo, error) {
	st, err := os.Stat(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrDeviceUnavailable, d.Path)
	}
	return &DeviceInfo{
		Name:             "file:" + filepath.Base(d.Path),
		HostAPI:          "file",
		MaxInputChannels: 1,
		IsDefault:        true,
	}, nil
}

// Devices 实现 Device
func (d *FileDevice) Devices() ([]DeviceInfo, error) {
	info, err := d.DefaultInput()
	if err != nil {
		return nil, err
	}
	return []DeviceInfo{*info}, nil
}

// OpenInput 实现 Device，文件内容在打开时一次性读入
func (d *FileDevice) OpenInput(info *DeviceInfo, params StreamParams, cb InputCallback) (Stream, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("input file is empty")
	}
	period := params.PeriodBytes()
	if period <= 0 {
		return nil, fmt.Errorf("invalid stream params: %+v", params)
	}

	interval := d.Interval
	if interval <= 0 {
		interval = params.Period()
	}
	return &fileStream{
		data:     data,
		period:   period,
		interval: interval,
		loop:     d.Loop,
		cb:       cb,
	}, nil
}

// Close 实现 Device
func (d *FileDevice) Close() error {
	return nil
}

type fileStream struct {
	data     []byte
	period   int
	interval time.Duration
	loop     bool
	cb       InputCallback

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
	closed  bool
}

func (s *fileStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	if s.started {
		return nil
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.pump(s.stop, s.done)
	return nil
}

// pump 模拟设备线程：每个周期交付一块数据，回调之间复用同一块缓冲区
func (s *fileStream) pump(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	buf := make([]byte, s.period)
	offset := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if offset >= len(s.data) {
			if !s.loop {
				continue
			}
			offset = 0
		}
		n := copy(buf, s.data[offset:])
		offset += n
		s.cb(buf[:n])
	}
}

func (s *fileStream) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	return nil
}

func (s *fileStream) Close() error {
	err := s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}
