package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(path string) *Loader {
	l := NewLoader(path)
	l.SetEnvFile("")
	return l
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voicestream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestLoadDefaults 只提供凭证时使用默认配置
func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_KEY", "secret")

	cfg, err := newTestLoader(writeConfig(t, "logging:\n  level: info\n")).Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultEndpoint, cfg.Endpoint.URL)
	assert.Equal(t, "secret", cfg.Endpoint.APIKey)
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 1, cfg.Audio.Channels)
	assert.Equal(t, 1024, cfg.Audio.FramesPerBuffer)
	assert.Equal(t, "float32", cfg.Audio.Format)
	assert.Equal(t, 10*time.Second, cfg.Network.HandshakeTimeout)
	assert.Equal(t, "compatible", cfg.Network.TLS.Policy)
	assert.Equal(t, "output", cfg.Storage.OutputDir)
	assert.Equal(t, ".wav", cfg.Storage.Extension)
}

// TestMissingCredential 缺少凭证是配置错误
func TestMissingCredential(t *testing.T) {
	t.Setenv("API_KEY", "")
	t.Setenv("VOICESTREAM_ENDPOINT_API_KEY", "")

	_, err := newTestLoader(writeConfig(t, "audio:\n  backend: portaudio\n")).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)

	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "endpoint.api_key", cerr.Field)
}

// TestFileAndEnvOverrides 文件值与环境变量覆盖
func TestFileAndEnvOverrides(t *testing.T) {
	t.Setenv("VOICESTREAM_ENDPOINT_API_KEY", "from-env")
	t.Setenv("VOICESTREAM_AUDIO_FRAMES_PER_BUFFER", "512")

	path := writeConfig(t, `
endpoint:
  url: ws://127.0.0.1:9000/ai/chat_ws_v2
network:
  close_timeout: 1500ms
  tls:
    policy: modern
audio:
  backend: file
  input_file: cases/hello.pcm
  format: int16
`)
	cfg, err := newTestLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "ws://127.0.0.1:9000/ai/chat_ws_v2", cfg.Endpoint.URL)
	assert.Equal(t, "from-env", cfg.Endpoint.APIKey)
	assert.Equal(t, 1500*time.Millisecond, cfg.Network.CloseTimeout)
	assert.Equal(t, "modern", cfg.Network.TLS.Policy)
	assert.Equal(t, "file", cfg.Audio.Backend)
	assert.Equal(t, 512, cfg.Audio.FramesPerBuffer)
	assert.EqualValues(t, "int16", cfg.Audio.SampleFormat())
}

// TestValidateRejects 非法配置项
func TestValidateRejects(t *testing.T) {
	t.Setenv("API_KEY", "k")

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"bad scheme", "endpoint:\n  url: https://example.com/ws\n", "endpoint.url"},
		{"bad policy", "network:\n  tls:\n    policy: sslv3\n", "network.tls.policy"},
		{"file without path", "audio:\n  backend: file\n", "audio.input_file"},
		{"bad backend", "audio:\n  backend: alsa\n", "audio.backend"},
		{"bad format", "audio:\n  format: mp3\n", "audio.format"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(writeConfig(t, tt.body)).Load()
			var cerr *ConfigurationError
			require.True(t, errors.As(err, &cerr), "expected configuration error, got %v", err)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

// TestExplicitFileMissing 显式指定的配置文件不存在是错误
func TestExplicitFileMissing(t *testing.T) {
	t.Setenv("API_KEY", "k")
	_, err := newTestLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	assert.ErrorIs(t, err, ErrConfiguration)
}

// TestDotEnv .env 提供凭证
func TestDotEnv(t *testing.T) {
	t.Setenv("API_KEY", "")
	os.Unsetenv("API_KEY")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("API_KEY=dotenv-key\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("API_KEY") })

	l := NewLoader(writeConfig(t, "logging:\n  level: debug\n"))
	l.SetEnvFile(envFile)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "dotenv-key", cfg.Endpoint.APIKey)
}

// TestWatchReload 配置文件修改后回调新配置
func TestWatchReload(t *testing.T) {
	t.Setenv("API_KEY", "k")
	path := writeConfig(t, "logging:\n  level: info\n")

	l := newTestLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	require.True(t, l.Watch(func(c *Config) { changed <- c }))

	// 给 fsnotify 一点时间注册监听
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", l.Current().Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("config change not observed")
	}
}
