package wsclient

import "sync/atomic"

// ConnectionState 连接生命周期状态
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 是否为终止状态
func (s ConnectionState) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// StateChangeHandler 状态变化处理器
type StateChangeHandler func(oldState, newState ConnectionState)

// transitions 合法的状态迁移表
var transitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting, StateClosed},
	StateConnecting:   {StateOpen, StateClosing, StateFailed},
	StateOpen:         {StateClosing, StateClosed, StateFailed},
	StateClosing:      {StateClosed, StateFailed},
}

// CanTransition 检查状态迁移是否合法
func CanTransition(from, to ConnectionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateMachine 会话存活状态的唯一来源
//
// 状态保存在单个原子整数中，音频线程只读取，网络侧通过CAS迁移，
// 不存在“已连接标志为真但句柄尚未就绪”的中间窗口。
type StateMachine struct {
	state    atomic.Int32
	onChange StateChangeHandler
}

// NewStateMachine 创建初始状态为 Disconnected 的状态机
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// SetChangeHandler 设置状态变化处理器，需在连接前调用
func (m *StateMachine) SetChangeHandler(handler StateChangeHandler) {
	m.onChange = handler
}

// State 当前状态
func (m *StateMachine) State() ConnectionState {
	return ConnectionState(m.state.Load())
}

// IsSendable 仅在 Open 状态下允许发送
func (m *StateMachine) IsSendable() bool {
	return m.State() == StateOpen
}

// To 迁移到目标状态，返回迁移前的状态；非法迁移返回 false
func (m *StateMachine) To(next ConnectionState) (ConnectionState, bool) {
	for {
		cur := m.State()
		if !CanTransition(cur, next) {
			return cur, false
		}
		if m.state.CompareAndSwap(int32(cur), int32(next)) {
			if m.onChange != nil {
				m.onChange(cur, next)
			}
			return cur, true
		}
	}
}

// CompareAndSwap 仅当当前状态为 from 时迁移到 to
func (m *StateMachine) CompareAndSwap(from, to ConnectionState) bool {
	if !CanTransition(from, to) {
		return false
	}
	if !m.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return true
}
