package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}
