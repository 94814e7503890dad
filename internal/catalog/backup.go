package catalog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BackupTimeFormat is the timestamp embedded in backup file names.
const BackupTimeFormat = "20060102150405"

// BackupHook returns a PreLoadHook that copies the catalog file into dir as
// <name>_<timestamp><ext> before every load. A missing source file is not an error.
func BackupHook(dir string) PreLoadHook {
	return func(path string) error {
		_, err := BackupFile(dir, path, time.Now())
		return err
	}
}

// BackupFile copies path into dir and returns the backup path. It returns "" and no error
// when path does not exist.
func BackupFile(dir, path string, now time.Time) (string, error) {
	src, err := os.Open(path)
	if os.IsNotExist(err) {
		slog.Warn("Cannot back up non-existent catalog", "path", path)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open %s for backup: %w", path, err)
	}
	defer src.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	backupPath := filepath.Join(dir, fmt.Sprintf("%s_%s%s", name, now.Format(BackupTimeFormat), ext))

	dst, err := os.Create(backupPath)
	if err != nil {
		return "", fmt.Errorf("failed to create backup %s: %w", backupPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("failed to copy %s to %s: %w", path, backupPath, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("failed to close backup %s: %w", backupPath, err)
	}

	slog.Info("Created catalog backup", "path", path, "backup", backupPath)
	return backupPath, nil
}

// LatestBackup returns the most recently modified backup of original in dir, or "" when
// there is none.
func LatestBackup(dir, original string) (string, error) {
	base := filepath.Base(original)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to list backups in %s: %w", dir, err)
	}

	var latest string
	var latestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), name+"_") || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = filepath.Join(dir, e.Name())
			latestMod = info.ModTime()
		}
	}
	return latest, nil
}
