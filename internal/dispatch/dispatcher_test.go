package dispatch_test

import (
	"bytes"
	"errors"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoVoiceStream/internal/dispatch"
	"GoVoiceStream/internal/protocol"
	"GoVoiceStream/internal/testutil"
)

// TestDispatchBinary 二进制消息恰好存储一次
func TestDispatchBinary(t *testing.T) {
	audio := &testutil.RecordingAudioSink{}
	control := &testutil.RecordingControlSink{}
	d := dispatch.New(audio, control)

	payload := make([]byte, 48000)
	payload[0], payload[47999] = 1, 2
	require.NoError(t, d.Dispatch(protocol.InboundMessage{Kind: protocol.KindBinary, Payload: payload}))

	items := audio.Items()
	require.Len(t, items, 1)
	assert.Equal(t, payload, items[0].Payload)
	assert.Regexp(t, regexp.MustCompile(`^audio_response_\d+_1$`), items[0].ID)
	assert.Empty(t, control.Messages())
}

// TestDispatchText 文本消息转发到控制端
func TestDispatchText(t *testing.T) {
	audio := &testutil.RecordingAudioSink{}
	control := &testutil.RecordingControlSink{}
	d := dispatch.New(audio, control)

	require.NoError(t, d.Dispatch(protocol.InboundMessage{Kind: protocol.KindText, Payload: []byte(`{"type":"done"}`)}))
	assert.Equal(t, []string{`{"type":"done"}`}, control.Messages())
	assert.Empty(t, audio.Items())
}

// TestDispatchStorageError 存储失败被包装返回且不影响后续消息
func TestDispatchStorageError(t *testing.T) {
	audio := &testutil.RecordingAudioSink{Err: errors.New("disk full")}
	d := dispatch.New(audio, &testutil.RecordingControlSink{})

	var hookErr error
	d.SetHook(func(msg protocol.InboundMessage, id string, err error) { hookErr = err })

	err := d.Dispatch(protocol.InboundMessage{Kind: protocol.KindBinary, Payload: []byte{1}})
	assert.ErrorIs(t, err, dispatch.ErrStorageWrite)
	assert.ErrorIs(t, hookErr, dispatch.ErrStorageWrite)

	audio.Err = nil
	assert.NoError(t, d.Dispatch(protocol.InboundMessage{Kind: protocol.KindBinary, Payload: []byte{2}}))
	assert.EqualValues(t, 1, d.GetStats()["storage_errors"])
}

// TestArtifactNamerUnique 同一秒内的标识互不相同
func TestArtifactNamerUnique(t *testing.T) {
	namer := dispatch.NewArtifactNamer()
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := namer.Next()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

// TestDispatchLogsQueuedNotStored 分发只负责交给下游，日志不声称已落地
func TestDispatchLogsQueuedNotStored(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	d := dispatch.New(&testutil.RecordingAudioSink{}, &testutil.RecordingControlSink{})
	require.NoError(t, d.Dispatch(protocol.InboundMessage{Kind: protocol.KindBinary, Payload: []byte{1, 2, 3}}))

	assert.Contains(t, buf.String(), "audio response queued")
	assert.NotContains(t, buf.String(), "stored")
}
