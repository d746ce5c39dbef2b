package util

import "os/exec"

// ResolveFFmpegPath returns the FFmpeg binary used for capture on platforms
// without arecord. A customPath must resolve; otherwise "ffmpeg" is looked up
// in PATH. It returns "" when no binary is found.
func ResolveFFmpegPath(customPath string) string {
	name := "ffmpeg"
	if customPath != "" {
		name = customPath
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	if customPath != "" {
		return customPath
	}
	return path
}
