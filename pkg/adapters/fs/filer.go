// Package fs implements the filesystem adapters: a Filer rooted at a
// directory and a fan-out blob Storage with an optional backup mirror.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/archi-Doc/CrystalData-sub001/internal/atomicfile"
	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
)

// Filer reads and writes files below a root directory.
type Filer struct {
	root   string
	logger *slog.Logger
}

// NewFiler creates a filer rooted at root.
func NewFiler(root string, logger *slog.Logger) *Filer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Filer{root: root, logger: logger}
}

// Root returns the root directory.
func (f *Filer) Root() string {
	return f.root
}

// resolve maps a slash-separated relative path to a host path, refusing
// paths that leave the root.
func (f *Filer) resolve(p string) (string, error) {
	clean := path.Clean(filepath.ToSlash(p))
	if clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid path %q: %w", p, core.ErrNoAccess)
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

func (f *Filer) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, mapError(p, err)
	}
	return data, nil
}

func (f *Filer) Write(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := f.resolve(p)
	if err != nil {
		return err
	}
	if err := atomicfile.WriteFile(full, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w: %w", p, core.ErrFileOperation, err)
	}
	return nil
}

func (f *Filer) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := f.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return mapError(p, err)
	}
	return nil
}

func (f *Filer) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := f.resolve(from)
	if err != nil {
		return err
	}
	dst, err := f.resolve(to)
	if err != nil {
		return err
	}
	if err := atomicfile.Rename(src, dst); err != nil {
		return mapError(from, err)
	}
	return nil
}

// Size returns the size in bytes of the file at p.
func (f *Filer) Size(ctx context.Context, p string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	full, err := f.resolve(p)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return 0, mapError(p, err)
	}
	return info.Size(), nil
}

// List returns the slash-separated paths below the root matching pattern.
// A missing root yields no matches.
func (f *Filer) List(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(f.root); os.IsNotExist(err) {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(f.root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", pattern, err)
	}
	return matches, nil
}

// CleanTemp removes temp files left behind by interrupted atomic writes.
func (f *Filer) CleanTemp(ctx context.Context) (int, error) {
	matches, err := f.List(ctx, "**/"+atomicfile.TempFilePrefix+"*")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := f.Delete(ctx, m); err != nil {
			f.logger.Warn("failed to remove stale temp file", "path", m, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		f.logger.Debug("removed stale temp files", "root", f.root, "count", removed)
	}
	return removed, nil
}

func mapError(p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", p, core.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w: %w", p, core.ErrNoAccess, err)
	default:
		return fmt.Errorf("%s: %w: %w", p, core.ErrFileOperation, err)
	}
}

var _ core.Filer = (*Filer)(nil)
