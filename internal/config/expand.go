package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands $VAR and ${VAR} references, then resolves a leading
// ~ to the current user's home directory. ~user is left alone.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	path = os.ExpandEnv(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
