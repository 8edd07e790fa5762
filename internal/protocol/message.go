package protocol

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// MessageKind 入站消息类型
type MessageKind uint8

const (
	KindBinary MessageKind = iota + 1
	KindText
)

func (k MessageKind) String() string {
	switch k {
	case KindBinary:
		return "BINARY"
	case KindText:
		return "TEXT"
	default:
		return "UNKNOWN"
	}
}

// InboundMessage 收到的一帧数据，二进制为音频，文本为控制/JSON消息
type InboundMessage struct {
	Kind    MessageKind
	Payload []byte
}

// KindFromOpcode 将WebSocket操作码映射为消息类型
func KindFromOpcode(opcode int) (MessageKind, error) {
	switch opcode {
	case websocket.BinaryMessage:
		return KindBinary, nil
	case websocket.TextMessage:
		return KindText, nil
	default:
		return 0, fmt.Errorf("unsupported opcode: %d", opcode)
	}
}

// Opcode 返回消息类型对应的WebSocket操作码
func (k MessageKind) Opcode() int {
	if k == KindText {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}

// OpcodeToString 将操作码转换为可读字符串，用于日志
func OpcodeToString(opcode int) string {
	switch opcode {
	case websocket.TextMessage:
		return "TEXT"
	case websocket.BinaryMessage:
		return "BINARY"
	case websocket.CloseMessage:
		return "CLOSE"
	case websocket.PingMessage:
		return "PING"
	case websocket.PongMessage:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}
