package storage

import (
	"fmt"
	"io"
)

// ConsolePrinter 把文本回复打印给用户
//
// 每条回复只调用一次 Write；与其他提示共用终端时传入同一个串行化的 writer。
type ConsolePrinter struct {
	w io.Writer
}

// NewConsolePrinter 创建控制台输出
func NewConsolePrinter(w io.Writer) *ConsolePrinter {
	return &ConsolePrinter{w: w}
}

// HandleControl 实现 dispatch.ControlSink
func (p *ConsolePrinter) HandleControl(payload []byte) error {
	_, err := fmt.Fprintf(p.w, "收到文本回复: %s\n", payload)
	return err
}
