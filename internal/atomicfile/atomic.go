// Package atomicfile writes and renames files so that readers observe either
// the previous content or the new content, and the change survives a crash
// once the call returns.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// TempFilePrefix names the staging files of WriteFile. A file with this
// prefix left in a directory belongs to an interrupted write.
const TempFilePrefix = "crystal-tmp-"

// WriteFile stages data in a temp file next to filename, syncs it, renames it
// over filename and syncs the directory. Parent directories are created.
func WriteFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, TempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	staged := tmp.Name()
	defer os.Remove(staged)

	if err := writeAndSync(tmp, data); err != nil {
		return err
	}
	if err := os.Chmod(staged, perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(staged, filename); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", filename, err)
	}
	return syncDir(dir)
}

// Rename moves from to to, creating the target directory, and syncs the
// directories involved.
func Rename(from, to string) error {
	dir := filepath.Dir(to)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return err
	}
	if err := syncDir(dir); err != nil {
		return err
	}
	if src := filepath.Dir(from); src != dir {
		return syncDir(src)
	}
	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	_, err := f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	return nil
}

// syncDir flushes the directory entry of a rename. Windows cannot open
// directories for syncing.
func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory %s: %w", dir, err)
	}
	return nil
}
