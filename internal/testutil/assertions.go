package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAssertions 测试断言助手
type TestAssertions struct {
	t *testing.T
}

// NewTestAssertions 创建测试断言助手
func NewTestAssertions(t *testing.T) *TestAssertions {
	return &TestAssertions{t: t}
}

// AssertFramesInOrder 断言对端按发送顺序收到了完全相同的帧
func (ta *TestAssertions) AssertFramesInOrder(sent, received [][]byte) {
	ta.t.Helper()
	require.Len(ta.t, received, len(sent), "Frame count mismatch")
	for i := range sent {
		assert.Equal(ta.t, sent[i], received[i], "Frame %d differs", i)
	}
	ta.t.Logf("✅ Frame order assertion passed: %d frames", len(sent))
}

// AssertSequenceMonotonic 断言帧序号从1开始严格递增
func (ta *TestAssertions) AssertSequenceMonotonic(seqs []uint64) {
	ta.t.Helper()
	for i, seq := range seqs {
		assert.Equal(ta.t, uint64(i+1), seq, "Sequence gap at index %d", i)
	}
	ta.t.Logf("✅ Sequence assertion passed: %d frames", len(seqs))
}

// AssertPoolBalanced 断言缓冲池中的帧已全部归还
func (ta *TestAssertions) AssertPoolBalanced(available, capacity int) {
	ta.t.Helper()
	assert.Equal(ta.t, capacity, available, "Frames leaked from pool")
}
