package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"GoVoiceStream/internal/config"
)

// 进程退出码
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

// globalOptions 所有子命令共享的参数
type globalOptions struct {
	configFile string
	envFile    string
	logLevel   string
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "voicestream",
		Short:         "GoVoiceStream - 实时语音对话客户端",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `GoVoiceStream 采集麦克风音频，经安全 WebSocket 实时发送到语音对话服务，
并把服务端返回的音频保存到本地、文本回复打印到终端。

交互命令: s 开始录音, e 停止录音, status 查看状态, q 退出。`,
	}
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "配置文件路径 (默认查找 ./configs/voicestream.yaml)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "启动前加载的 .env 文件，空字符串表示不加载")
	flags.StringVar(&opts.logLevel, "log-level", "", "覆盖 logging.level")

	rootCmd.AddCommand(newRunCmd(opts), newDevicesCmd(opts))
	return rootCmd
}

// loadConfig 按全局参数加载配置
func (o *globalOptions) loadConfig() (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(o.configFile)
	loader.SetEnvFile(o.envFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return loader, cfg, nil
}

// execute 运行命令并返回退出码
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdin, stdout, stderr)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}

	fmt.Fprintf(stderr, "错误: %v\n", err)
	if errors.Is(err, config.ErrConfiguration) {
		return exitConfigError
	}
	return exitFailure
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
