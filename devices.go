package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"GoVoiceStream/internal/capture"
	"GoVoiceStream/internal/config"
)

func newDevicesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "列出可用的输入设备",
		RunE: func(cmd *cobra.Command, args []string) error {
			// 列设备不需要凭证，只读取音频部分
			loader := config.NewLoader(opts.configFile)
			loader.SetEnvFile(opts.envFile)
			cfg, err := loader.Load()
			if err != nil && !isCredentialError(err) {
				return err
			}
			audio := config.AudioConfig{Backend: "portaudio"}
			if cfg != nil {
				audio = cfg.Audio
			}

			device, err := openDevice(audio)
			if err != nil {
				return err
			}
			defer device.Close()

			infos, err := device.Devices()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, info := range infos {
				mark := " "
				if info.IsDefault {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %2d  %-40s %-12s 输入通道:%d 默认采样率:%.0f\n",
					mark, i, info.Name, info.HostAPI, info.MaxInputChannels, info.DefaultSampleRate)
			}
			if len(infos) == 0 {
				fmt.Fprintln(out, "没有可用的输入设备")
			}
			return nil
		},
	}
}

func isCredentialError(err error) bool {
	var cfgErr *config.ConfigurationError
	return errors.As(err, &cfgErr) && cfgErr.Field == "endpoint.api_key"
}

// openDevice 按配置选择采集后端
func openDevice(audio config.AudioConfig) (capture.Device, error) {
	if audio.Backend == "file" {
		return capture.NewFileDevice(audio.InputFile, audio.Loop), nil
	}
	device, err := capture.NewPortAudioDevice()
	if err != nil {
		return nil, err
	}
	return device, nil
}
