//go:build linux

package audio

import (
	"regexp"
	"strconv"
)

// arecordCardPattern matches lines like "card 1: Device [USB Audio Device], device 0: ...".
var arecordCardPattern = regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "arecord",
		DefaultDevice: "default",
		BuildArgs:     buildLinuxArgs,
	}
}

func buildLinuxArgs(device string, sampleRate int) []string {
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(sampleRate),
		"-c", "1",
		"-t", "raw",
		"-q",
		"-",
	}
}

func (cfg *CaptureConfig) Devices() []Device {
	return parseDeviceList(DeviceListConfig{
		Command:       []string{"arecord", "-l"},
		DevicePattern: arecordCardPattern,
		ParseDevice:   parseArecordDevice,
		FallbackDevices: []Device{
			{ID: "default", Name: "System default"},
		},
	})
}

// parseArecordDevice converts an arecord card match to a Device.
func parseArecordDevice(matches []string) *Device {
	if len(matches) < 4 {
		return nil
	}
	return &Device{
		ID:   "default:CARD=" + matches[2],
		Name: matches[3],
	}
}
