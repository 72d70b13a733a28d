package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/n0rdy/tableq/common"
)

const (
	dataDirName    = "tableq"
	dataFileName   = "tableq.db"
	dataDirPerm    = 0o755
	fallbackDbPath = dataFileName
)

// GetOrCreateDefaultDBPath resolves the SQLite file used when no DSN is configured.
// An existing file wins over the preferred location, since the environment may have changed since it was created.
// The parent directory of a new file is created.
func GetOrCreateDefaultDBPath() (string, error) {
	candidates := candidateDBPaths(runtime.GOOS, os.Getenv, os.UserHomeDir)
	if len(candidates) == 0 {
		return fallbackDbPath, nil
	}

	existing, err := existingPaths(candidates)
	if err != nil {
		return "", err
	}
	switch len(existing) {
	case 0:
	case 1:
		return existing[0], nil
	default:
		return "", common.NewConfigurationError("multiple database files found at %v, remove the duplicates", existing)
	}

	preferred := candidates[0]
	if err := os.MkdirAll(filepath.Dir(preferred), dataDirPerm); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", preferred, err)
	}
	return preferred, nil
}

// candidateDBPaths lists the database locations of an OS, the preferred one first.
func candidateDBPaths(goos string, getenv func(string) string, homeDir func() (string, error)) []string {
	var dirs []string
	home, _ := homeDir()

	switch goos {
	case common.WindowsOS:
		dirs = append(dirs, getenv("APPDATA"), getenv("LOCALAPPDATA"), home)
	case common.MacOS:
		if home != "" {
			dirs = append(dirs, filepath.Join(home, "Library", "Application Support"), home)
		}
	case common.LinuxOS:
		dirs = append(dirs, getenv("XDG_DATA_HOME"))
		if home != "" {
			dirs = append(dirs, filepath.Join(home, ".local", "share"), home)
		}
	}

	paths := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if dir != "" {
			paths = append(paths, toDbFilePath(dir))
		}
	}
	return paths
}

func existingPaths(paths []string) ([]string, error) {
	var existing []string
	for _, path := range paths {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			existing = append(existing, path)
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to check %s: %w", path, err)
		}
	}
	return existing, nil
}

func toDbFilePath(dataDir string) string {
	return filepath.Join(dataDir, dataDirName, dataFileName)
}
