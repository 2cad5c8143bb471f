package repository

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"PatternDesk/internal/domain/models"
)

// Hooks replaced in tests to simulate failures halfway through a write.
var (
	syncFile  = func(f *os.File) error { return f.Sync() }
	linkFile  = os.Link
	writeFile = func(f *os.File, b []byte) (int, error) { return f.Write(b) }
)

// publishFile materializes data under dir/name without ever exposing a
// partial file: it writes and fsyncs a hidden temp file in the same
// directory, then hard-links it into place. The link fails when name already
// exists, so published files are never replaced. On filesystems without hard
// links it falls back to rename after an existence check.
func publishFile(dir, name string, data []byte, perm os.FileMode) (string, error) {
	final := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &models.FileWriteError{Op: "mkdir", Path: final, Err: err}
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", &models.FileWriteError{Op: "create", Path: final, Err: err}
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		_ = os.Remove(tmpName)
	}()

	if _, err := writeFile(tmp, data); err != nil {
		return "", &models.FileWriteError{Op: "write", Path: final, Err: err}
	}
	if err := tmp.Chmod(perm); err != nil {
		return "", &models.FileWriteError{Op: "chmod", Path: final, Err: err}
	}
	if err := syncFile(tmp); err != nil {
		return "", &models.FileWriteError{Op: "sync", Path: final, Err: err}
	}
	closed = true
	if err := tmp.Close(); err != nil {
		return "", &models.FileWriteError{Op: "close", Path: final, Err: err}
	}

	if err := linkFile(tmpName, final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", &models.FileWriteError{Op: "publish", Path: final, Err: err}
		}
		if _, statErr := os.Lstat(final); statErr == nil {
			return "", &models.FileWriteError{Op: "publish", Path: final, Err: fs.ErrExist}
		}
		if err := os.Rename(tmpName, final); err != nil {
			return "", &models.FileWriteError{Op: "publish", Path: final, Err: err}
		}
	}

	// best effort; the entry is already visible
	_ = syncDir(dir)
	return final, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
