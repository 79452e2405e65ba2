// Package atomicfile replaces files so readers never observe a partial write.
package atomicfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Write streams content into a temporary file next to path, syncs it and renames it
// over path. On any failure the temporary file is removed and path is left untouched.
func Write(path string, perm os.FileMode, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := file.Name()

	fail := func(step string, err error) error {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to %s: %w", step, err)
	}

	if err := write(file); err != nil {
		return fail("write temporary file", err)
	}
	if err := file.Sync(); err != nil {
		return fail("sync temporary file", err)
	}
	if err := file.Chmod(perm); err != nil {
		return fail("set file permissions", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Backup copies path to dst. A missing source is not an error.
func Backup(path, dst string) error {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open %s for backup: %w", path, err)
	}
	defer src.Close()

	return Write(dst, 0644, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
}
