package controller_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoVoiceStream/internal/capture"
	"GoVoiceStream/internal/controller"
	"GoVoiceStream/internal/storage"
	"GoVoiceStream/internal/testutil"
	"GoVoiceStream/internal/wsclient"
)

type fixture struct {
	server  *testutil.TestServer
	session *wsclient.Session
	device  *testutil.ManualDevice
	engine  *capture.Engine
	ctrl    *controller.Controller
	out     *testutil.SyncBuffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		server: testutil.NewTestServer(t),
		device: testutil.NewManualDevice(),
		out:    &testutil.SyncBuffer{},
	}
	f.session = wsclient.New(wsclient.DefaultConfig(f.server.URL(), testutil.TestAPIKey))

	cfg := capture.DefaultConfig()
	cfg.Params.FramesPerBuffer = 128
	f.engine = capture.NewEngine(cfg, f.device)
	f.ctrl = controller.New(f.session, f.engine, f.out)
	f.ctrl.SetQuitTimeout(3 * time.Second)
	return f
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, f.ctrl.Start(context.Background()))
	require.Eventually(t, f.session.IsSendable, 3*time.Second, 5*time.Millisecond)
}

func quit(t *testing.T, ctrl *controller.Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Quit(ctx))
}

// TestParseCommand 测试命令解析
func TestParseCommand(t *testing.T) {
	tests := map[string]controller.Command{
		"s": controller.CmdStart, "start": controller.CmdStart, " S ": controller.CmdStart,
		"e": controller.CmdStop, "stop": controller.CmdStop,
		"q": controller.CmdQuit, "quit": controller.CmdQuit, "exit": controller.CmdQuit,
		"status": controller.CmdStatus, "h": controller.CmdHelp,
		"xyz": controller.CmdUnknown,
	}
	for in, want := range tests {
		got, ok := controller.ParseCommand(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := controller.ParseCommand("   ")
	assert.False(t, ok)
}

// TestStartRejectedBeforeOpen 连接未打开时不能开始录音
func TestStartRejectedBeforeOpen(t *testing.T) {
	f := newFixture(t)

	err := f.ctrl.StartRecording()
	assert.ErrorIs(t, err, controller.ErrNotConnected)
	assert.Contains(t, f.out.String(), "WebSocket未连接")
	assert.EqualValues(t, 0, f.device.Opened.Load())
	assert.Empty(t, f.server.ReceivedBinary())
}

// TestTenPeriodsEndToEnd 录音10个周期，服务端按顺序收到10帧
func TestTenPeriodsEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	var hooks []bool
	f.ctrl.SetRecordingHook(func(started bool, rec *capture.Recording) { hooks = append(hooks, started) })

	require.NoError(t, f.ctrl.StartRecording())
	assert.Contains(t, f.out.String(), "使用麦克风: manual-mic")

	sent := f.device.EmitPeriods(10)
	require.Len(t, sent, 10)

	received := f.server.WaitForFrames(10, 3*time.Second)
	testutil.NewTestAssertions(t).AssertFramesInOrder(sent, received)

	require.NoError(t, f.ctrl.StopRecording())
	quit(t, f.ctrl)

	assert.Equal(t, []bool{true, false}, hooks)
	assert.Equal(t, wsclient.StateClosed, f.session.State())
	assert.NoError(t, f.ctrl.NetworkErr())
	require.Eventually(t, func() bool {
		return f.engine.Pool().Available() == f.engine.Pool().Capacity()
	}, time.Second, 5*time.Millisecond)
}

// TestAlreadyRecording 重复开始给出提示且不打开第二个流
func TestAlreadyRecording(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	require.NoError(t, f.ctrl.StartRecording())
	err := f.ctrl.StartRecording()
	assert.ErrorIs(t, err, capture.ErrAlreadyRecording)
	assert.Contains(t, f.out.String(), "已经在录音中")
	assert.EqualValues(t, 1, f.device.Opened.Load())

	quit(t, f.ctrl)
}

// TestStopWhenIdle 未录音时停止只给出提示
func TestStopWhenIdle(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.ctrl.StopRecording())
	assert.Contains(t, f.out.String(), "当前未在录音")
}

// TestQuitOrdering 退出时先停止录音再关闭连接
func TestQuitOrdering(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	require.NoError(t, f.ctrl.StartRecording())
	f.device.EmitPeriods(3)
	f.server.WaitForFrames(3, 3*time.Second)

	quit(t, f.ctrl)

	assert.False(t, f.device.Running())
	assert.Nil(t, f.engine.Current())
	assert.Equal(t, wsclient.StateClosed, f.session.State())
	assert.Nil(t, f.session.Handle())

	out := f.out.String()
	stopIdx := strings.Index(out, "停止录音")
	endIdx := strings.Index(out, "会话已结束")
	require.GreaterOrEqual(t, stopIdx, 0)
	require.GreaterOrEqual(t, endIdx, 0)
	assert.Less(t, stopIdx, endIdx)

	// 退出后的周期不会送达
	assert.False(t, f.device.Emit([]byte{1}))
	assert.Len(t, f.server.ReceivedBinary(), 3)

	// 重复退出是空操作
	quit(t, f.ctrl)
}

// TestRunCommandLoop 命令循环处理输入直到 quit
func TestRunCommandLoop(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	pr, pw := io.Pipe()
	result := make(chan error, 1)
	go func() { result <- f.ctrl.Run(context.Background(), pr) }()

	io.WriteString(pw, "s\n")
	require.Eventually(t, func() bool { return f.device.Running() }, 2*time.Second, 5*time.Millisecond)

	f.device.EmitPeriods(2)
	f.server.WaitForFrames(2, 3*time.Second)

	io.WriteString(pw, "status\n")
	io.WriteString(pw, "bogus\n")
	io.WriteString(pw, "e\n")
	io.WriteString(pw, "q\n")

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("command loop did not exit")
	}
	pw.Close()

	out := f.out.String()
	assert.Contains(t, out, "连接状态: OPEN")
	assert.Contains(t, out, "未知命令")
	assert.Contains(t, out, "停止录音（2 帧）")
	assert.Equal(t, wsclient.StateClosed, f.session.State())
}

// TestRunEOFQuits 输入结束等同于退出
func TestRunEOFQuits(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	require.NoError(t, f.ctrl.Run(context.Background(), strings.NewReader("")))
	assert.Equal(t, wsclient.StateClosed, f.session.State())
}

// TestRunContextCancelQuits 收到信号（ctx 取消）时执行退出流程
func TestRunContextCancelQuits(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	require.NoError(t, f.ctrl.StartRecording())

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- f.ctrl.Run(ctx, pr) }()

	cancel()
	require.NoError(t, <-result)
	assert.False(t, f.device.Running())
	assert.Equal(t, wsclient.StateClosed, f.session.State())
}

// TestConnectionLossIsolated 连接中断不影响采集线程
func TestConnectionLossIsolated(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	require.NoError(t, f.ctrl.StartRecording())

	f.server.DropAll()
	select {
	case <-f.ctrl.NetworkDone():
	case <-time.After(3 * time.Second):
		t.Fatal("network loop did not end")
	}
	assert.Equal(t, wsclient.StateFailed, f.session.State())
	assert.ErrorIs(t, f.ctrl.NetworkErr(), wsclient.ErrConnectionFailure)
	assert.Contains(t, f.out.String(), "连接失败")

	// 采集仍在运行，但周期被丢弃并归还缓冲区
	assert.Len(t, f.device.EmitPeriods(5), 5)
	assert.True(t, f.device.Running())
	assert.Equal(t, f.engine.Pool().Capacity(), f.engine.Pool().Available())

	quit(t, f.ctrl)
	assert.False(t, f.device.Running())
}

// overlapWriter 记录是否出现并发写入
type overlapWriter struct {
	inFlight atomic.Int32
	overlaps atomic.Int32
	buf      testutil.SyncBuffer
}

func (w *overlapWriter) Write(p []byte) (int, error) {
	if w.inFlight.Add(1) > 1 {
		w.overlaps.Add(1)
	}
	time.Sleep(50 * time.Microsecond)
	w.buf.Write(p)
	w.inFlight.Add(-1)
	return len(p), nil
}

// TestSharedOutputSerialized 文本回复与控制器提示共用终端时不会交错
func TestSharedOutputSerialized(t *testing.T) {
	raw := &overlapWriter{}
	out := controller.NewSyncWriter(raw)
	assert.Same(t, out, controller.NewSyncWriter(out))

	session := wsclient.New(wsclient.DefaultConfig("ws://127.0.0.1:1/ai/chat_ws_v2", testutil.TestAPIKey))
	engine := capture.NewEngine(capture.DefaultConfig(), testutil.NewManualDevice())
	ctrl := controller.New(session, engine, out)
	printer := storage.NewConsolePrinter(out)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			ctrl.Execute(controller.CmdStatus)
			ctrl.Execute(controller.CmdStop)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			assert.NoError(t, printer.HandleControl([]byte("reply")))
		}
	}()
	wg.Wait()

	assert.Zero(t, raw.overlaps.Load())
	text := raw.buf.String()
	assert.Equal(t, n, strings.Count(text, "收到文本回复: reply\n"))
	assert.Equal(t, n, strings.Count(text, "当前未在录音\n"))
}
