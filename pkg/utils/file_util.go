package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath turns a --config_dir style argument into an absolute path,
// expanding a leading ~ and $VARS. It returns path unchanged when it is empty
// or the working directory cannot be determined.
func ResolvePath(path string) string {
	if path == "" {
		return ""
	}
	if home, err := os.UserHomeDir(); err == nil {
		switch {
		case path == "~":
			path = home
		case strings.HasPrefix(path, "~/"):
			path = filepath.Join(home, path[2:])
		}
	}
	path = os.ExpandEnv(path)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
