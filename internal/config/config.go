// Package config 基于 viper 的客户端配置：YAML 文件、.env、环境变量与热更新
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"GoVoiceStream/internal/protocol"
)

// DefaultEndpoint 默认对话端点
const DefaultEndpoint = "wss://api.fusearch.cn/ai/chat_ws_v2"

// Config 客户端配置
type Config struct {
	Endpoint EndpointConfig `mapstructure:"endpoint"`
	Network  NetworkConfig  `mapstructure:"network"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Status   StatusConfig   `mapstructure:"status"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Session  SessionConfig  `mapstructure:"session"`
}

type EndpointConfig struct {
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api_key"`
	UserAgent string `mapstructure:"user_agent"`
}

type NetworkConfig struct {
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	CloseTimeout      time.Duration `mapstructure:"close_timeout"`
	SendQueueSize     int           `mapstructure:"send_queue_size"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	EnableCompression bool          `mapstructure:"enable_compression"`
	TLS               TLSConfig     `mapstructure:"tls"`
}

type TLSConfig struct {
	Policy             string `mapstructure:"policy"`
	CAFile             string `mapstructure:"ca_file"`
	ServerName         string `mapstructure:"server_name"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

type AudioConfig struct {
	Backend         string `mapstructure:"backend"` // portaudio | file
	InputFile       string `mapstructure:"input_file"`
	Loop            bool   `mapstructure:"loop"`
	SampleRate      int    `mapstructure:"sample_rate"`
	Channels        int    `mapstructure:"channels"`
	FramesPerBuffer int    `mapstructure:"frames_per_buffer"`
	Format          string `mapstructure:"format"`
	PoolSize        int    `mapstructure:"pool_size"`
}

type StorageConfig struct {
	OutputDir   string `mapstructure:"output_dir"`
	Extension   string `mapstructure:"extension"`
	QueueSize   int    `mapstructure:"queue_size"`
	MaxRetries  uint64 `mapstructure:"max_retries"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type StatusConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SessionConfig struct {
	TimelineDir string        `mapstructure:"timeline_dir"`
	QuitTimeout time.Duration `mapstructure:"quit_timeout"`
}

// SampleFormat 解析后的采样格式
func (a AudioConfig) SampleFormat() protocol.SampleFormat {
	f, _ := protocol.ParseSampleFormat(a.Format)
	return f
}

// Loader 配置加载器，持有 viper 实例以支持热更新
type Loader struct {
	path    string
	envFile string
	v       *viper.Viper

	mu      sync.RWMutex
	current *Config
}

// NewLoader 创建加载器；path 为空时在 ./configs 与当前目录查找 voicestream.yaml
func NewLoader(path string) *Loader {
	return &Loader{path: path, envFile: ".env"}
}

// SetEnvFile 指定 .env 文件，空字符串表示不加载
func (l *Loader) SetEnvFile(path string) {
	l.envFile = path
}

// Load 读取并校验配置，校验失败返回 *ConfigurationError
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		// .env 不覆盖已存在的环境变量
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, invalid("env_file", "%v", err)
		}
	}

	v := viper.New()
	if l.path != "" {
		v.SetConfigFile(l.path)
	} else {
		v.SetConfigName("voicestream")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// 设置环境变量前缀
	v.SetEnvPrefix("VOICESTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("endpoint.api_key", "VOICESTREAM_ENDPOINT_API_KEY", "API_KEY")

	setDefaultValues(v)

	if err := v.ReadInConfig(); err != nil {
		// 未指定文件且找不到时使用默认值
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, invalid("config_file", "%v", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.v = v
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, invalid("config", "failed to decode: %v", err)
	}
	return &cfg, nil
}

// Current 最近一次成功加载的配置
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// ConfigFileUsed 实际读取的配置文件，未使用文件时为空
func (l *Loader) ConfigFileUsed() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.v == nil {
		return ""
	}
	return l.v.ConfigFileUsed()
}

// Watch 监控配置文件变化，新配置校验通过后回调；没有配置文件时返回 false
//
// 运行中只有日志级别等无状态配置可以生效，连接与音频参数需要重启。
func (l *Loader) Watch(onChange func(*Config)) bool {
	l.mu.RLock()
	v := l.v
	l.mu.RUnlock()
	if v == nil || v.ConfigFileUsed() == "" {
		return false
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			return
		}
		if err := cfg.Validate(); err != nil {
			return
		}
		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
	return true
}

// setDefaultValues 设置默认配置值
func setDefaultValues(v *viper.Viper) {
	v.SetDefault("endpoint.url", DefaultEndpoint)
	v.SetDefault("endpoint.user_agent", "GoVoiceStream/1.0")

	v.SetDefault("network.handshake_timeout", "10s")
	v.SetDefault("network.write_timeout", "5s")
	v.SetDefault("network.close_timeout", "3s")
	v.SetDefault("network.send_queue_size", 64)
	v.SetDefault("network.read_limit", 16<<20)
	v.SetDefault("network.enable_compression", false)
	v.SetDefault("network.tls.policy", "compatible")
	v.SetDefault("network.tls.ca_file", "")
	v.SetDefault("network.tls.server_name", "")
	v.SetDefault("network.tls.insecure_skip_verify", false)

	v.SetDefault("audio.backend", "portaudio")
	v.SetDefault("audio.input_file", "")
	v.SetDefault("audio.loop", false)
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.frames_per_buffer", 1024)
	v.SetDefault("audio.format", "float32")
	v.SetDefault("audio.pool_size", 32)

	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.extension", ".wav")
	v.SetDefault("storage.queue_size", 32)
	v.SetDefault("storage.max_retries", 3)
	v.SetDefault("storage.postgres_dsn", "")

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.addr", "127.0.0.1:9090")
	v.SetDefault("status.allowed_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("session.timeline_dir", "")
	v.SetDefault("session.quit_timeout", "5s")
}

// Validate 校验配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint.APIKey) == "" {
		return invalid("endpoint.api_key", "missing credential (set API_KEY)")
	}

	u, err := url.Parse(c.Endpoint.URL)
	if err != nil {
		return invalid("endpoint.url", "%v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return invalid("endpoint.url", "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return invalid("endpoint.url", "missing host")
	}

	switch strings.ToLower(c.Network.TLS.Policy) {
	case "", "compatible", "modern":
	default:
		return invalid("network.tls.policy", "unknown policy %q", c.Network.TLS.Policy)
	}
	if c.Network.HandshakeTimeout <= 0 {
		return invalid("network.handshake_timeout", "must be positive")
	}
	if c.Network.SendQueueSize < 1 {
		return invalid("network.send_queue_size", "must be at least 1")
	}

	switch c.Audio.Backend {
	case "portaudio":
	case "file":
		if c.Audio.InputFile == "" {
			return invalid("audio.input_file", "required when audio.backend is file")
		}
	default:
		return invalid("audio.backend", "unknown backend %q", c.Audio.Backend)
	}
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 || c.Audio.FramesPerBuffer <= 0 {
		return invalid("audio", "sample_rate, channels and frames_per_buffer must be positive")
	}
	if _, err := protocol.ParseSampleFormat(c.Audio.Format); err != nil {
		return invalid("audio.format", "%v", err)
	}

	if c.Storage.OutputDir == "" {
		return invalid("storage.output_dir", "must not be empty")
	}
	if c.Status.Enabled && c.Status.Addr == "" {
		return invalid("status.addr", "required when status.enabled")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("logging.level", "unknown level %q", c.Logging.Level)
	}
	return nil
}

// Summary 不含凭证的配置摘要
func (c *Config) Summary() map[string]interface{} {
	return map[string]interface{}{
		"endpoint":          c.Endpoint.URL,
		"api_key_set":       c.Endpoint.APIKey != "",
		"tls_policy":        c.Network.TLS.Policy,
		"audio_backend":     c.Audio.Backend,
		"sample_rate":       c.Audio.SampleRate,
		"frames_per_buffer": c.Audio.FramesPerBuffer,
		"format":            c.Audio.Format,
		"output_dir":        c.Storage.OutputDir,
		"postgres":          c.Storage.PostgresDSN != "",
		"log_level":         c.Logging.Level,
	}
}

// String 便于日志输出
func (c *Config) String() string {
	return fmt.Sprintf("endpoint=%s backend=%s format=%s", c.Endpoint.URL, c.Audio.Backend, c.Audio.Format)
}
