package audio

import (
	"context"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// deviceListTimeout bounds how long a device listing command may run.
const deviceListTimeout = 5 * time.Second

// Devices returns available audio input devices for the current platform.
func Devices() []Device {
	cfg := getPlatformConfig()
	return cfg.Devices()
}

// DeviceListConfig defines how to list audio devices for a platform.
type DeviceListConfig struct {
	// Command and args to list devices.
	Command []string

	// AudioStartMarker indicates the start of audio devices section.
	AudioStartMarker string

	// AudioStopMarker indicates the end of audio devices section (optional).
	AudioStopMarker string

	// DevicePattern is the regex to extract device info.
	DevicePattern *regexp.Regexp

	// ParseDevice converts regex matches to a Device.
	ParseDevice func(matches []string) *Device

	// FallbackDevices are returned if detection fails.
	FallbackDevices []Device
}

// parseDeviceList runs the listing command and parses its output.
//
//nolint:gocritic // hugeParam: called once per listing
func parseDeviceList(cfg DeviceListConfig) []Device {
	if len(cfg.Command) == 0 {
		return cfg.FallbackDevices
	}

	ctx, cancel := context.WithTimeout(context.Background(), deviceListTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...).CombinedOutput()
	if err != nil && len(output) == 0 {
		slog.Error("failed to list audio devices", "error", err)
		return cfg.FallbackDevices
	}

	devices := parseDeviceOutput(string(output), &cfg)
	if len(devices) == 0 {
		return cfg.FallbackDevices
	}
	return devices
}

// parseDeviceOutput extracts devices from listing output.
func parseDeviceOutput(output string, cfg *DeviceListConfig) []Device {
	if cfg.DevicePattern == nil || cfg.ParseDevice == nil {
		return nil
	}

	var devices []Device
	inAudioSection := cfg.AudioStartMarker == ""

	for line := range strings.SplitSeq(output, "\n") {
		if cfg.AudioStartMarker != "" && strings.Contains(line, cfg.AudioStartMarker) {
			inAudioSection = true
			continue
		}
		if cfg.AudioStopMarker != "" && strings.Contains(line, cfg.AudioStopMarker) {
			inAudioSection = false
			continue
		}
		if !inAudioSection || strings.Contains(line, "Alternative name") {
			continue
		}

		matches := cfg.DevicePattern.FindStringSubmatch(line)
		if len(matches) == 0 {
			continue
		}
		if dev := cfg.ParseDevice(matches); dev != nil {
			devices = append(devices, *dev)
		}
	}
	return devices
}
