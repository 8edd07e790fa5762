package config

import (
	"errors"
	"fmt"
)

// ErrConfiguration 配置缺失或非法，在任何网络活动之前报告
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError 指明出错的配置项
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

func invalid(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
