package controller

import "strings"

// Command 用户命令
type Command int

const (
	CmdUnknown Command = iota
	CmdStart
	CmdStop
	CmdQuit
	CmdStatus
	CmdHelp
)

func (c Command) String() string {
	switch c {
	case CmdStart:
		return "start"
	case CmdStop:
		return "stop"
	case CmdQuit:
		return "quit"
	case CmdStatus:
		return "status"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// ParseCommand 解析一行输入，空行返回 false
func ParseCommand(line string) (Command, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return CmdUnknown, false
	case "s", "start":
		return CmdStart, true
	case "e", "stop":
		return CmdStop, true
	case "q", "quit", "exit":
		return CmdQuit, true
	case "status", "stat":
		return CmdStatus, true
	case "h", "help", "?":
		return CmdHelp, true
	default:
		return CmdUnknown, true
	}
}

const usage = `命令:
  s / start   开始录音
  e / stop    停止录音
  status      查看会话状态
  q / quit    退出`
