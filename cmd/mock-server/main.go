// mock-server 本地回环语音端点，用于无外网环境联调客户端
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"GoVoiceStream/internal/logger"
	"GoVoiceStream/internal/testserver"
)

func main() {
	var (
		addr     string
		path     string
		apiKey   string
		ackEvery int
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:          "mock-server",
		Short:        "启动回环语音对话端点",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := logger.InitLogger(logLevel, "text", os.Stderr); err != nil {
				return err
			}

			config := testserver.DefaultServerConfig(addr)
			config.Path = path
			config.APIKey = apiKey
			config.AckEvery = ackEvery

			server := testserver.New(config)
			if err := server.Start(); err != nil {
				return fmt.Errorf("启动服务器失败: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ 服务器已启动，监听地址: %s\n", server.Addr())
			fmt.Fprintf(out, "📊 统计信息: http://%s/stats\n", server.Addr())
			fmt.Fprintf(out, "🎙️  语音端点: %s\n", server.URL())

			// 优雅关闭
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			fmt.Fprintln(out, "\n🔄 正在关闭服务器...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&addr, "addr", "127.0.0.1:18090", "监听地址")
	flags.StringVar(&path, "path", "/ai/chat_ws_v2", "WebSocket路径")
	flags.StringVar(&apiKey, "api-key", "", "要求的 X-API-KEY，为空时不校验")
	flags.IntVar(&ackEvery, "ack-every", 16, "每收到N帧音频回复一次，0表示不回复")
	flags.StringVar(&logLevel, "log-level", "info", "日志级别")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
