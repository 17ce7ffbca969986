package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"sublarr/models"
)

// writeAtomic lands content at path without ever exposing a partial file:
// sibling temp file, fsync, rename last. On any failure the temp file is
// removed.
func writeAtomic(fs afero.Fs, path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp-"+uuid.NewString()[:8])

	f, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() { _ = fs.Remove(tmp) }

	if _, err := f.Write(content); err != nil {
		f.Close()
		cleanup()
		if strings.Contains(err.Error(), "no space") {
			return &models.FileError{Kind: models.DiskFull, Path: path, Err: err}
		}
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := fs.Rename(tmp, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into place: %w", err)
	}
	syncDir(fs, dir)
	return nil
}

// syncDir fsyncs the directory so the rename is durable. Best effort; only
// the real filesystem supports it.
func syncDir(fs afero.Fs, dir string) {
	if _, ok := fs.(*afero.OsFs); !ok {
		return
	}
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// ensureUnderRoots rejects paths outside the configured media roots. With no
// roots configured every path is allowed.
func ensureUnderRoots(path string, roots []string) error {
	if len(roots) == 0 {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	for _, root := range roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return &models.FileError{Kind: models.PathOutsideMedia, Path: path}
}
