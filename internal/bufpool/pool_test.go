package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRecyclesFrames(t *testing.T) {
	p := New(16, 2)
	assert.Equal(t, 2, p.Available())

	a := p.Get()
	b := p.Get()
	assert.Equal(t, 0, p.Available())
	require.NoError(t, a.Fill([]byte("hello")))
	a.Seq = 7

	a.Release()
	b.Release()
	assert.Equal(t, 2, p.Available())

	c := p.Get()
	assert.Equal(t, 0, c.Len, "recycled frame should be reset")
	assert.Equal(t, uint64(0), c.Seq)
	assert.Equal(t, uint64(0), p.Stats()["misses"])
}

func TestPoolExhaustedAllocates(t *testing.T) {
	p := New(4, 1)
	first := p.Get()
	second := p.Get()
	require.NotNil(t, second)
	assert.Len(t, second.Data, 4)
	assert.Equal(t, uint64(1), p.Stats()["misses"])

	first.Release()
	second.Release() // 池已满，直接丢弃
	assert.Equal(t, 1, p.Available())
}

func TestPoolDoubleReleaseDoesNotDuplicate(t *testing.T) {
	p := New(4, 2)
	f := p.Get()
	f.Release()
	f.Release()
	assert.Equal(t, 2, p.Available())
}

func TestPoolConcurrentHandOff(t *testing.T) {
	p := New(32, 8)
	ch := make(chan interface{ Release() }, 64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for f := range ch {
			f.Release()
		}
	}()

	for i := 0; i < 1000; i++ {
		f := p.Get()
		_ = f.Fill([]byte{byte(i)})
		ch <- f
	}
	close(ch)
	wg.Wait()

	assert.LessOrEqual(t, p.Available(), 8)
}

// BenchmarkPoolGetRecycle 基准测试帧池在音频回调路径上的取还开销
func BenchmarkPoolGetRecycle(b *testing.B) {
	p := New(4096, 32)
	raw := make([]byte, 4096)

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			f := p.Get()
			f.Fill(raw)
			f.Release()
		}
	})
}
