package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"GoVoiceStream/internal/capture"
	"GoVoiceStream/internal/config"
	"GoVoiceStream/internal/controller"
	"GoVoiceStream/internal/dispatch"
	"GoVoiceStream/internal/httpserver"
	"GoVoiceStream/internal/logger"
	"GoVoiceStream/internal/observability"
	"GoVoiceStream/internal/protocol"
	"GoVoiceStream/internal/session"
	"GoVoiceStream/internal/storage"
	"GoVoiceStream/internal/wsclient"
)

var connectionStates = []string{
	wsclient.StateDisconnected.String(),
	wsclient.StateConnecting.String(),
	wsclient.StateOpen.String(),
	wsclient.StateClosing.String(),
	wsclient.StateClosed.String(),
	wsclient.StateFailed.String(),
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "连接语音对话服务并进入交互命令循环",
		RunE: func(cmd *cobra.Command, args []string) error {
			// 凭证等配置错误在任何网络活动之前返回
			loader, cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runSession(ctx, loader, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// app 一次运行所装配的组件
type app struct {
	cfg      *config.Config
	hub      *logger.EventHub
	metrics  *observability.Metrics
	timeline *session.SessionRecorder

	conn     *wsclient.Session
	engine   *capture.Engine
	writer   *storage.AsyncWriter
	postgres *storage.PostgresSink
	pgWriter *storage.AsyncWriter
	dispatch *dispatch.Dispatcher
	ctrl     *controller.Controller
	status   *httpserver.StatusServer
}

func runSession(ctx context.Context, loader *config.Loader, cfg *config.Config, stdin io.Reader, stdout, stderr io.Writer) error {
	hub := logger.NewEventHub()
	var extra []slog.Handler
	if cfg.Status.Enabled {
		extra = append(extra, hub.Handler(slog.LevelInfo))
	}
	if _, err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format, stderr, extra...); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.Info("configuration loaded", "config", cfg.String(), "file", loader.ConfigFileUsed())

	a, err := buildApp(ctx, cfg, hub, stdout)
	if err != nil {
		return err
	}
	defer a.close()

	if loader.Watch(func(c *config.Config) {
		if err := logger.SetLevel(c.Logging.Level); err == nil {
			slog.Info("log level reloaded", "level", c.Logging.Level)
		}
	}) {
		slog.Debug("watching config file", "file", loader.ConfigFileUsed())
	}

	if a.status != nil {
		if err := a.status.Listen(); err != nil {
			return fmt.Errorf("status server: %w", err)
		}
	}

	// 网络协程只随退出流程关闭，信号先经控制器停止录音
	netCtx, cancelNet := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelNet()
	if err := a.ctrl.Start(netCtx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	if a.status != nil {
		g.Go(func() error { return a.status.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return a.ctrl.Run(gctx, stdin)
	})

	return g.Wait()
}

func buildApp(ctx context.Context, cfg *config.Config, hub *logger.EventHub, stdout io.Writer) (*app, error) {
	// 文本回复与控制器提示共用一把锁
	stdout = controller.NewSyncWriter(stdout)

	a := &app{
		cfg:      cfg,
		hub:      hub,
		metrics:  observability.NewMetrics("voicestream"),
		timeline: session.NewSessionRecorder(uuid.NewString(), cfg.Endpoint.URL),
	}

	// 网络会话
	tlsConfig, err := wsclient.NewTLSConfig(wsclient.TLSOptions{
		Policy:             wsclient.SecurityPolicy(cfg.Network.TLS.Policy),
		CAFile:             cfg.Network.TLS.CAFile,
		ServerName:         cfg.Network.TLS.ServerName,
		InsecureSkipVerify: cfg.Network.TLS.InsecureSkipVerify,
	})
	if err != nil {
		return nil, err
	}
	wsConfig := wsclient.DefaultConfig(cfg.Endpoint.URL, cfg.Endpoint.APIKey)
	wsConfig.UserAgent = cfg.Endpoint.UserAgent
	wsConfig.HandshakeTimeout = cfg.Network.HandshakeTimeout
	wsConfig.WriteTimeout = cfg.Network.WriteTimeout
	wsConfig.CloseTimeout = cfg.Network.CloseTimeout
	wsConfig.SendQueueSize = cfg.Network.SendQueueSize
	wsConfig.ReadLimit = cfg.Network.ReadLimit
	wsConfig.EnableCompression = cfg.Network.EnableCompression
	wsConfig.TLSConfig = tlsConfig
	a.conn = wsclient.New(wsConfig)

	// 采集
	device, err := openDevice(cfg.Audio)
	if err != nil {
		// 没有设备时仍可连接，开始录音会被拒绝
		slog.Warn("audio device unavailable", "backend", cfg.Audio.Backend, "error", err)
		device = unavailableDevice{err: err}
	}
	a.engine = capture.NewEngine(&capture.Config{
		Params: capture.StreamParams{
			SampleRate:      cfg.Audio.SampleRate,
			Channels:        cfg.Audio.Channels,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
			Format:          cfg.Audio.SampleFormat(),
		},
		PoolSize: cfg.Audio.PoolSize,
	}, device)
	a.engine.SetObserver(a.metrics)

	// 入站消息落地
	fileSink, err := storage.NewFileSink(cfg.Storage.OutputDir, cfg.Storage.Extension)
	if err != nil {
		return nil, err
	}
	asyncConfig := storage.DefaultAsyncConfig()
	asyncConfig.QueueSize = cfg.Storage.QueueSize
	asyncConfig.MaxRetries = cfg.Storage.MaxRetries
	a.writer = storage.NewAsyncWriter(fileSink, asyncConfig)
	a.writer.SetResultHandler(func(id string, err error) {
		if err != nil {
			a.metrics.StorageErrors.Inc()
			a.timeline.RecordError(err, map[string]interface{}{"artifact_id": id})
			return
		}
		slog.Info("audio artifact saved", "path", fileSink.Path(id))
	})

	console := storage.NewConsolePrinter(stdout)
	audioSinks := storage.MultiAudio{a.writer}
	controlSinks := storage.MultiControl{console}
	if cfg.Storage.PostgresDSN != "" {
		pgConfig := storage.DefaultPostgresConfig(cfg.Storage.PostgresDSN)
		pgConfig.SessionID = a.timeline.ID()
		a.postgres, err = storage.NewPostgresSink(ctx, pgConfig)
		if err != nil {
			a.writer.Close(context.Background())
			return nil, err
		}
		// 数据库写入同样经队列，网络协程不等待 Exec
		pgAsync := *asyncConfig
		a.pgWriter = storage.NewAsyncWriter(a.postgres, &pgAsync)
		a.pgWriter.SetResultHandler(func(id string, err error) {
			if err != nil {
				a.metrics.StorageErrors.Inc()
				a.timeline.RecordError(err, map[string]interface{}{"artifact_id": id, "sink": "postgres"})
			}
		})
		audioSinks = append(audioSinks, a.pgWriter)
		controlSinks = append(controlSinks, a.pgWriter)
	}

	a.dispatch = dispatch.New(audioSinks, controlSinks)
	a.dispatch.SetHook(func(msg protocol.InboundMessage, id string, err error) {
		a.metrics.ObserveInbound(msg.Kind.String(), len(msg.Payload), err != nil)
		a.timeline.RecordInbound(msg.Kind == protocol.KindBinary, id, len(msg.Payload), err)
	})

	a.conn.SetMessageHandler(a.dispatch.Handle)
	a.conn.SetStateChangeHandler(func(oldState, newState wsclient.ConnectionState) {
		a.metrics.SetConnectionState(newState.String(), connectionStates)
		a.timeline.RecordStateChange(oldState.String(), newState.String())
		a.hub.Info("state", fmt.Sprintf("%s -> %s", oldState, newState), nil)
	})
	a.conn.SetCloseHandler(func(code int, reason string) {
		a.timeline.RecordClose(code, reason)
	})
	a.conn.SetFailHandler(func(err error) {
		a.timeline.RecordError(err, nil)
		a.hub.Error("connection", err.Error(), nil)
	})

	// 控制器
	a.ctrl = controller.New(a.conn, a.engine, stdout)
	a.ctrl.SetQuitTimeout(cfg.Session.QuitTimeout)
	a.ctrl.SetRecordingHook(func(started bool, rec *capture.Recording) {
		a.metrics.SetRecording(started)
		a.timeline.RecordRecording(started, rec.ID, rec.Device, rec.Frames())
		a.hub.Info("recording", rec.Device, map[string]interface{}{
			"recording_id": rec.ID,
			"started":      started,
			"frames":       rec.Frames(),
		})
	})
	a.ctrl.SetCommandHook(func(cmd controller.Command) {
		a.timeline.RecordEvent(session.EventCommand, map[string]interface{}{"command": cmd.String()})
	})

	if cfg.Status.Enabled {
		a.status = httpserver.New(httpserver.Options{
			Addr:           cfg.Status.Addr,
			AllowedOrigins: cfg.Status.AllowedOrigins,
			Status:         a.snapshot,
			Timeline: func() interface{} {
				return session.NewTimelineAnalyzer(a.timeline.GetSession()).Summarize()
			},
			Metrics: a.metrics.Handler(),
			Events:  a.hub.HandleWebSocket,
		})
	}
	return a, nil
}

// snapshot /api/v1/status 的内容
func (a *app) snapshot() map[string]interface{} {
	data := map[string]interface{}{
		"session_id": a.timeline.ID(),
		"state":      a.conn.State().String(),
		"recording":  a.engine.Active(),
		"connection": a.conn.GetStats(),
		"capture":    a.engine.GetStats(),
		"dispatch":   a.dispatch.GetStats(),
		"storage":    a.writer.GetStats(),
		"config":     a.cfg.Summary(),
	}
	if rec := a.engine.Current(); rec != nil {
		data["recording_id"] = rec.ID
		data["device"] = rec.Device
	}
	if a.postgres != nil {
		data["postgres"] = a.postgres.GetStats()
		data["postgres_queue"] = a.pgWriter.GetStats()
	}
	return data
}

// close 在命令循环结束后释放资源并导出时间线
func (a *app) close() {
	if err := a.engine.Close(); err != nil && !errors.Is(err, capture.ErrDeviceUnavailable) {
		slog.Warn("close capture engine", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.writer.Close(ctx); err != nil {
		slog.Warn("flush audio artifacts", "error", err)
	}
	if a.postgres != nil {
		if err := a.pgWriter.Close(ctx); err != nil {
			slog.Warn("flush postgres queue", "error", err)
		}
		a.postgres.Close()
	}

	a.timeline.Stop()
	if dir := a.cfg.Session.TimelineDir; dir != "" {
		path, err := a.timeline.ExportToDir(dir)
		if err != nil {
			slog.Warn("export session timeline", "error", err)
			return
		}
		slog.Info("session timeline exported", "path", path)
	}
}

// unavailableDevice 采集后端初始化失败时的占位设备
type unavailableDevice struct {
	err error
}

func (d unavailableDevice) DefaultInput() (*capture.DeviceInfo, error) { return nil, d.err }

func (d unavailableDevice) OpenInput(*capture.DeviceInfo, capture.StreamParams, capture.InputCallback) (capture.Stream, error) {
	return nil, d.err
}

func (d unavailableDevice) Devices() ([]capture.DeviceInfo, error) { return nil, d.err }

func (d unavailableDevice) Close() error { return nil }
