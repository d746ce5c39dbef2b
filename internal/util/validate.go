package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IsConfigured reports whether all provided values are non-empty.
func IsConfigured(values ...string) bool {
	for _, v := range values {
		if v == "" {
			return false
		}
	}
	return true
}

// ValidatePath rejects empty paths and paths containing "..".
func ValidatePath(field, path string) error {
	if path == "" {
		return fmt.Errorf("%s: is required", field)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s: path cannot contain '..'", field)
	}
	if strings.Contains(filepath.Clean(path), "..") {
		return fmt.Errorf("%s: invalid path", field)
	}
	return nil
}

// EnsureParentDir creates the directory that will hold path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapError("create directory "+dir, err)
	}
	return nil
}
