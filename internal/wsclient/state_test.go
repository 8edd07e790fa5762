package wsclient

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStateTransitions 测试状态迁移表
func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to ConnectionState
		ok       bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateClosed, true},
		{StateDisconnected, StateOpen, false},
		{StateConnecting, StateOpen, true},
		{StateConnecting, StateClosing, true},
		{StateConnecting, StateFailed, true},
		{StateOpen, StateClosing, true},
		{StateOpen, StateClosed, true},
		{StateOpen, StateFailed, true},
		{StateOpen, StateConnecting, false},
		{StateClosing, StateClosed, true},
		{StateClosing, StateOpen, false},
		{StateClosed, StateConnecting, false},
		{StateFailed, StateOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

// TestStateMachineSendable 只有 Open 状态允许发送
func TestStateMachineSendable(t *testing.T) {
	m := NewStateMachine()
	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.IsSendable())

	_, ok := m.To(StateConnecting)
	assert.True(t, ok)
	assert.False(t, m.IsSendable())

	_, ok = m.To(StateOpen)
	assert.True(t, ok)
	assert.True(t, m.IsSendable())

	prev, ok := m.To(StateClosing)
	assert.True(t, ok)
	assert.Equal(t, StateOpen, prev)
	assert.False(t, m.IsSendable())

	_, ok = m.To(StateOpen)
	assert.False(t, ok, "closing must not reopen")

	_, ok = m.To(StateClosed)
	assert.True(t, ok)
	assert.True(t, m.State().IsTerminal())
}

// TestStateMachineChangeHandler 状态变化回调
func TestStateMachineChangeHandler(t *testing.T) {
	m := NewStateMachine()
	var changes [][2]ConnectionState
	m.SetChangeHandler(func(oldState, newState ConnectionState) {
		changes = append(changes, [2]ConnectionState{oldState, newState})
	})

	m.To(StateConnecting)
	m.To(StateFailed)
	m.To(StateOpen) // 非法，不触发回调

	assert.Equal(t, [][2]ConnectionState{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateFailed},
	}, changes)
}

// TestStateMachineConcurrentCAS 并发迁移只有一个成功
func TestStateMachineConcurrentCAS(t *testing.T) {
	m := NewStateMachine()
	m.To(StateConnecting)
	m.To(StateOpen)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.CompareAndSwap(StateOpen, StateClosing) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, StateClosing, m.State())
}
