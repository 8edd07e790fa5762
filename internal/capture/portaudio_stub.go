//go:build !portaudio

package capture

import "fmt"

// PortAudioDevice 未启用 portaudio 构建标签时的占位实现
type PortAudioDevice struct{}

// NewPortAudioDevice 始终返回 ErrDeviceUnavailable，使用 -tags portaudio 构建以启用麦克风
func NewPortAudioDevice() (*PortAudioDevice, error) {
	return nil, fmt.Errorf("%w: built without portaudio support (rebuild with -tags portaudio)", ErrDeviceUnavailable)
}

func (d *PortAudioDevice) DefaultInput() (*DeviceInfo, error) {
	return nil, ErrDeviceUnavailable
}

func (d *PortAudioDevice) Devices() ([]DeviceInfo, error) {
	return nil, ErrDeviceUnavailable
}

func (d *PortAudioDevice) OpenInput(info *DeviceInfo, params StreamParams, cb InputCallback) (Stream, error) {
	return nil, ErrDeviceUnavailable
}

func (d *PortAudioDevice) Close() error {
	return nil
}
