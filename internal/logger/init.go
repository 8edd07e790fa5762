// Package logger slog 初始化与会话事件广播
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// level 全局日志级别，支持运行时调整
var level = new(slog.LevelVar)

// ParseLevel 解析日志级别
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// InitLogger 初始化默认日志器，format 为 text 或 json，w 为空时输出到 stderr
func InitLogger(lvl, format string, w io.Writer, extra ...slog.Handler) (*slog.Logger, error) {
	l, err := ParseLevel(lvl)
	if err != nil {
		return nil, err
	}
	level.Set(l)

	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	if len(extra) > 0 {
		handler = Tee(append([]slog.Handler{handler}, extra...)...)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// SetLevel 运行时调整日志级别
func SetLevel(lvl string) error {
	l, err := ParseLevel(lvl)
	if err != nil {
		return err
	}
	if level.Level() != l {
		level.Set(l)
		slog.Info("log level changed", "level", l.String())
	}
	return nil
}

// Level 当前日志级别
func Level() slog.Level {
	return level.Level()
}
