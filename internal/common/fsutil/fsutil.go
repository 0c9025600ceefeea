// Package fsutil resolves the directory settings sessiond reads from config
// and flags (models_dir, lib_dir).
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands $VAR and ${VAR} references, then a leading '~', and
// cleans the result. Unset variables expand to "" as in a shell, so
// "$SESSIOND_MODELS" with the variable unset yields an empty path.
func ExpandPath(path string) (string, error) {
	path = os.ExpandEnv(path)
	if path == "" {
		return "", nil
	}
	if path[0] == '~' {
		if len(path) > 1 && path[1] != '/' && path[1] != filepath.Separator {
			return "", fmt.Errorf("unsupported home reference %q", path)
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("home dir: %w", err)
		}
		path = home + strings.TrimPrefix(path, "~")
	}
	return filepath.Clean(path), nil
}

// PathExists reports whether path exists. Errors other than not-exist count
// as present, so permission problems surface when the file is opened.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
