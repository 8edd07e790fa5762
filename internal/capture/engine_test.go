package capture_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoVoiceStream/internal/capture"
	"GoVoiceStream/internal/protocol"
	"GoVoiceStream/internal/testutil"
)

func smallConfig() *capture.Config {
	cfg := capture.DefaultConfig()
	cfg.Params.FramesPerBuffer = 64
	cfg.PoolSize = 8
	return cfg
}

// TestEngineStartStop 测试录音开始与停止
func TestEngineStartStop(t *testing.T) {
	device := testutil.NewManualDevice()
	engine := capture.NewEngine(smallConfig(), device)
	sender := &testutil.RecordingSender{}

	rec, err := engine.Start(testutil.NewStaticGate(true), sender)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "manual-mic", rec.Device)
	assert.True(t, engine.Active())
	assert.True(t, device.Running())

	sent := device.EmitPeriods(10)
	require.Len(t, sent, 10)

	require.NoError(t, engine.Stop())
	assert.False(t, engine.Active())
	assert.False(t, rec.Active())
	assert.False(t, device.Running())
	assert.EqualValues(t, 1, device.Closed.Load())

	ta := testutil.NewTestAssertions(t)
	ta.AssertFramesInOrder(sent, sender.Payloads())
	ta.AssertSequenceMonotonic(sender.Seqs())
	ta.AssertPoolBalanced(engine.Pool().Available(), engine.Pool().Capacity())
	assert.EqualValues(t, 10, rec.Frames())
}

// TestEngineAlreadyRecording 同一时刻只允许一个录音
func TestEngineAlreadyRecording(t *testing.T) {
	device := testutil.NewManualDevice()
	engine := capture.NewEngine(smallConfig(), device)
	gate := testutil.NewStaticGate(true)

	_, err := engine.Start(gate, &testutil.RecordingSender{})
	require.NoError(t, err)

	_, err = engine.Start(gate, &testutil.RecordingSender{})
	assert.ErrorIs(t, err, capture.ErrAlreadyRecording)
	assert.EqualValues(t, 1, device.Opened.Load())

	require.NoError(t, engine.Stop())
}

// TestEngineStopIdempotent 重复停止是空操作
func TestEngineStopIdempotent(t *testing.T) {
	engine := capture.NewEngine(smallConfig(), testutil.NewManualDevice())
	assert.NoError(t, engine.Stop())

	_, err := engine.Start(testutil.NewStaticGate(true), &testutil.RecordingSender{})
	require.NoError(t, err)
	assert.NoError(t, engine.Stop())
	assert.NoError(t, engine.Stop())
}

// TestEngineNotSendable 连接未打开时采集周期被丢弃，设备继续运行
func TestEngineNotSendable(t *testing.T) {
	device := testutil.NewManualDevice()
	engine := capture.NewEngine(smallConfig(), device)
	gate := testutil.NewStaticGate(false)
	sender := &testutil.RecordingSender{}

	_, err := engine.Start(gate, sender)
	require.NoError(t, err)

	device.EmitPeriods(5)
	assert.Empty(t, sender.Payloads())
	assert.True(t, device.Running())

	gate.Set(true)
	device.EmitPeriods(3)
	assert.Len(t, sender.Payloads(), 3)

	stats := engine.GetStats()
	assert.EqualValues(t, 5, stats["not_open"])
	assert.EqualValues(t, 3, stats["frames_sent"])
	require.NoError(t, engine.Stop())
}

// TestEngineSendErrorReleasesFrame 发送失败时帧被归还且设备不停止
func TestEngineSendErrorReleasesFrame(t *testing.T) {
	device := testutil.NewManualDevice()
	engine := capture.NewEngine(smallConfig(), device)
	sender := &testutil.RecordingSender{Err: errors.New("queue full")}

	_, err := engine.Start(testutil.NewStaticGate(true), sender)
	require.NoError(t, err)

	device.EmitPeriods(20)
	assert.True(t, engine.Active())
	assert.Equal(t, engine.Pool().Capacity(), engine.Pool().Available())
	assert.EqualValues(t, 20, engine.GetStats()["send_errors"])
	require.NoError(t, engine.Stop())
}

// TestEngineDeviceErrors 设备故障映射到对应错误
func TestEngineDeviceErrors(t *testing.T) {
	gate := testutil.NewStaticGate(true)

	device := testutil.NewManualDevice()
	device.NoDefault = true
	_, err := capture.NewEngine(smallConfig(), device).Start(gate, &testutil.RecordingSender{})
	assert.ErrorIs(t, err, capture.ErrDeviceUnavailable)

	device = testutil.NewManualDevice()
	device.OpenErr = errors.New("busy")
	_, err = capture.NewEngine(smallConfig(), device).Start(gate, &testutil.RecordingSender{})
	assert.ErrorIs(t, err, capture.ErrStreamOpen)

	device = testutil.NewManualDevice()
	device.StartErr = errors.New("start failed")
	engine := capture.NewEngine(smallConfig(), device)
	_, err = engine.Start(gate, &testutil.RecordingSender{})
	assert.ErrorIs(t, err, capture.ErrStreamOpen)
	assert.False(t, engine.Active())
	assert.EqualValues(t, 1, device.Closed.Load())
}

// TestEngineStopDeviceError 设备停止报错时录音仍被视为已停止
func TestEngineStopDeviceError(t *testing.T) {
	device := testutil.NewManualDevice()
	device.StopErr = errors.New("device gone")
	engine := capture.NewEngine(smallConfig(), device)

	_, err := engine.Start(testutil.NewStaticGate(true), &testutil.RecordingSender{})
	require.NoError(t, err)

	err = engine.Stop()
	assert.ErrorIs(t, err, capture.ErrStreamClose)
	assert.False(t, engine.Active())

	_, err = engine.Start(testutil.NewStaticGate(true), &testutil.RecordingSender{})
	assert.NoError(t, err, "engine must be restartable after a failed stop")
}

// TestEngineOversizedPeriod 超过帧容量的周期被丢弃
func TestEngineOversizedPeriod(t *testing.T) {
	device := testutil.NewManualDevice()
	cfg := smallConfig()
	engine := capture.NewEngine(cfg, device)
	sender := &testutil.RecordingSender{}

	_, err := engine.Start(testutil.NewStaticGate(true), sender)
	require.NoError(t, err)

	device.Emit(make([]byte, cfg.Params.PeriodBytes()+1))
	assert.Empty(t, sender.Payloads())
	require.NoError(t, engine.Stop())
}

type countingObserver struct {
	mu      sync.Mutex
	sent    int
	bytes   int
	dropped map[string]int
}

func (o *countingObserver) FrameSent(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent++
	o.bytes += n
}

func (o *countingObserver) FrameDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dropped == nil {
		o.dropped = map[string]int{}
	}
	o.dropped[reason]++
}

// TestEngineObserver 观察者收到发送与丢弃事件
func TestEngineObserver(t *testing.T) {
	device := testutil.NewManualDevice()
	cfg := smallConfig()
	engine := capture.NewEngine(cfg, device)
	obs := &countingObserver{}
	engine.SetObserver(obs)
	gate := testutil.NewStaticGate(false)

	_, err := engine.Start(gate, &testutil.RecordingSender{})
	require.NoError(t, err)
	device.EmitPeriods(2)
	gate.Set(true)
	device.EmitPeriods(4)
	require.NoError(t, engine.Stop())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 4, obs.sent)
	assert.Equal(t, 4*cfg.Params.PeriodBytes(), obs.bytes)
	assert.Equal(t, 2, obs.dropped["not_open"])
}

// TestFileDeviceReplay 文件设备按周期回放原始PCM
func TestFileDeviceReplay(t *testing.T) {
	params := capture.StreamParams{SampleRate: 16000, Channels: 1, FramesPerBuffer: 4, Format: protocol.FormatInt16}
	data := make([]byte, params.PeriodBytes()*3+2)
	for i := range data {
		data[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "case.pcm")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	device := capture.NewFileDevice(path, false)
	device.Interval = time.Millisecond

	cfg := capture.DefaultConfig()
	cfg.Params = params
	engine := capture.NewEngine(cfg, device)
	sender := &testutil.RecordingSender{}

	rec, err := engine.Start(testutil.NewStaticGate(true), sender)
	require.NoError(t, err)
	assert.Equal(t, "file:case.pcm", rec.Device)

	require.Eventually(t, func() bool {
		return len(sender.Payloads()) == 4
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, engine.Stop())

	var joined []byte
	for _, p := range sender.Payloads() {
		joined = append(joined, p...)
	}
	assert.Equal(t, data, joined)
}

// TestFileDeviceMissing 文件不存在视为设备不可用
func TestFileDeviceMissing(t *testing.T) {
	device := capture.NewFileDevice(filepath.Join(t.TempDir(), "missing.pcm"), false)
	engine := capture.NewEngine(capture.DefaultConfig(), device)

	_, err := engine.Start(testutil.NewStaticGate(true), &testutil.RecordingSender{})
	assert.ErrorIs(t, err, capture.ErrDeviceUnavailable)
}

// TestStreamParams 周期字节数与时长
func TestStreamParams(t *testing.T) {
	p := capture.DefaultStreamParams()
	assert.Equal(t, 4096, p.PeriodBytes())
	assert.Equal(t, 64*time.Millisecond, p.Period())
}
