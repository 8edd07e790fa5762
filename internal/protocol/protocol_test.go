package protocol

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecycler struct{ n int }

func (c *countingRecycler) Recycle(*AudioFrame) { c.n++ }

func TestAudioFrameFillAndRelease(t *testing.T) {
	rec := &countingRecycler{}
	f := NewAudioFrame(8, rec)

	require.NoError(t, f.Fill([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, f.Bytes())

	assert.ErrorIs(t, f.Fill(make([]byte, 9)), ErrFrameTooLarge)

	f.Release()
	f.Release()
	assert.Equal(t, 1, rec.n, "Release should recycle exactly once")

	f.Reset()
	assert.Equal(t, 0, f.Len)
	f.Release()
	assert.Equal(t, 2, rec.n)
}

func TestKindFromOpcode(t *testing.T) {
	k, err := KindFromOpcode(websocket.BinaryMessage)
	require.NoError(t, err)
	assert.Equal(t, KindBinary, k)
	assert.Equal(t, websocket.BinaryMessage, k.Opcode())

	k, err = KindFromOpcode(websocket.TextMessage)
	require.NoError(t, err)
	assert.Equal(t, KindText, k)
	assert.Equal(t, "TEXT", k.String())

	_, err = KindFromOpcode(websocket.PingMessage)
	assert.Error(t, err)
	assert.Equal(t, "PING", OpcodeToString(websocket.PingMessage))
}

func TestSampleFormat(t *testing.T) {
	f, err := ParseSampleFormat("Float32")
	require.NoError(t, err)
	assert.Equal(t, FormatFloat32, f)

	f, err = ParseSampleFormat("pcm16")
	require.NoError(t, err)
	assert.Equal(t, FormatInt16, f)

	_, err = ParseSampleFormat("mp3")
	assert.Error(t, err)

	// 16kHz单声道float32，每周期1024帧
	assert.Equal(t, 4096, PeriodBytes(FormatFloat32, 1, 1024))
	assert.Equal(t, 2048, PeriodBytes(FormatInt16, 1, 1024))
}
