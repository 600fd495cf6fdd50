// Package report writes the artefacts of a pipeline run: a scree plot of
// the explained variance, an HTML summary and ASC exports of the balanced
// point sets.
package report

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/meshpca/internal/fsutil"
	"github.com/banshee-data/meshpca/internal/monitoring"
	"github.com/banshee-data/meshpca/internal/security"
)

// Writer places report files under a single directory of FS.
type Writer struct {
	FS  fsutil.FileSystem
	Dir string
}

// NewWriter returns a Writer rooted at dir.
func NewWriter(fsys fsutil.FileSystem, dir string) *Writer {
	return &Writer{FS: fsys, Dir: dir}
}

// path builds the destination for name. Only the sanitized base name is
// used, so callers cannot write outside Dir.
func (w *Writer) path(name string) (string, error) {
	if w.Dir == "" {
		return "", fmt.Errorf("report directory not configured")
	}
	base := security.SanitizeFilename(filepath.Base(name))
	if base == "." || base == ".." {
		return "", fmt.Errorf("invalid report filename %q", name)
	}
	if err := w.FS.MkdirAll(w.Dir, 0755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	p := filepath.Join(w.Dir, base)
	// Symlinks only exist on disk.
	if _, onDisk := w.FS.(fsutil.OSFileSystem); onDisk {
		if err := security.ValidatePathWithinDirectory(p, w.Dir); err != nil {
			monitoring.Logf("Security: rejected report path %s: %v", p, err)
			return "", fmt.Errorf("invalid report path: %w", err)
		}
	}
	return p, nil
}
