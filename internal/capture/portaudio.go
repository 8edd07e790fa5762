//go:build portaudio

package capture

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gordonklaus/portaudio"

	"GoVoiceStream/internal/protocol"
)

// PortAudioDevice 基于 PortAudio 的系统麦克风
type PortAudioDevice struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudioDevice 初始化 PortAudio
func NewPortAudioDevice() (*PortAudioDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &PortAudioDevice{initialized: true}, nil
}

// DefaultInput 实现 Device
func (d *PortAudioDevice) DefaultInput() (*DeviceInfo, error) {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	info := toDeviceInfo(dev)
	info.IsDefault = true
	return &info, nil
}

// Devices 实现 Device，只列出有输入通道的设备
func (d *PortAudioDevice) Devices() ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	var def *portaudio.DeviceInfo
	if dev, err := portaudio.DefaultInputDevice(); err == nil {
		def = dev
	}

	var out []DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels <= 0 {
			continue
		}
		info := toDeviceInfo(dev)
		info.IsDefault = def != nil && dev.Name == def.Name && dev.HostApi == def.HostApi
		out = append(out, info)
	}
	return out, nil
}

// OpenInput 实现 Device
func (d *PortAudioDevice) OpenInput(info *DeviceInfo, params StreamParams, cb InputCallback) (Stream, error) {
	dev, ok := info.Handle.(*portaudio.DeviceInfo)
	if !ok || dev == nil {
		return nil, errors.New("device info was not produced by PortAudio")
	}

	sp := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: params.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(params.SampleRate),
		FramesPerBuffer: params.FramesPerBuffer,
	}

	var (
		stream *portaudio.Stream
		err    error
	)
	switch params.Format {
	case protocol.FormatInt16:
		stream, err = portaudio.OpenStream(sp, func(in []int16) {
			if len(in) == 0 {
				return
			}
			cb(unsafe.Slice((*byte)(unsafe.Pointer(&in[0])), len(in)*2))
		})
	default:
		stream, err = portaudio.OpenStream(sp, func(in []float32) {
			if len(in) == 0 {
				return
			}
			cb(unsafe.Slice((*byte)(unsafe.Pointer(&in[0])), len(in)*4))
		})
	}
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Close 释放 PortAudio
func (d *PortAudioDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil
	}
	d.initialized = false
	return portaudio.Terminate()
}

func toDeviceInfo(dev *portaudio.DeviceInfo) DeviceInfo {
	info := DeviceInfo{
		Name:              dev.Name,
		MaxInputChannels:  dev.MaxInputChannels,
		DefaultSampleRate: dev.DefaultSampleRate,
		Handle:            dev,
	}
	if dev.HostApi != nil {
		info.HostAPI = dev.HostApi.Name
	}
	return info
}
