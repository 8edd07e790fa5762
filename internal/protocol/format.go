package protocol

import (
	"fmt"
	"strings"
)

// SampleFormat 采样格式（小端交织）
type SampleFormat string

const (
	FormatFloat32 SampleFormat = "float32"
	FormatInt16   SampleFormat = "int16"
)

// ParseSampleFormat 解析配置中的采样格式
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch SampleFormat(strings.ToLower(strings.TrimSpace(s))) {
	case FormatFloat32, "f32", "":
		return FormatFloat32, nil
	case FormatInt16, "s16", "pcm16":
		return FormatInt16, nil
	default:
		return "", fmt.Errorf("unknown sample format %q", s)
	}
}

// BytesPerSample 单个采样的字节数
func (f SampleFormat) BytesPerSample() int {
	if f == FormatInt16 {
		return 2
	}
	return 4
}

// PeriodBytes 一个采集周期的字节数
func PeriodBytes(format SampleFormat, channels, framesPerBuffer int) int {
	return format.BytesPerSample() * channels * framesPerBuffer
}
