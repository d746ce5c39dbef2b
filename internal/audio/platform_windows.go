//go:build windows

package audio

import (
	"regexp"
	"strings"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:    "ffmpeg",
		UsesFFmpeg: true,
		BuildArgs:  buildWindowsArgs,
	}
}

func buildWindowsArgs(device string, sampleRate int) []string {
	return buildFFmpegCaptureArgs("dshow", device, sampleRate)
}

func (cfg *CaptureConfig) Devices() []Device {
	return parseDeviceList(DeviceListConfig{
		Command: []string{cfg.Command, "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
		// FFmpeg versions differ in section headers, so match "(audio)" lines instead.
		DevicePattern: regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`),
		ParseDevice: func(matches []string) *Device {
			if len(matches) < 2 {
				return nil
			}
			name := strings.TrimSpace(matches[1])
			return &Device{
				ID:   "audio=" + name,
				Name: name,
			}
		},
	})
}
