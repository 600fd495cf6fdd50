package report

import (
	"bufio"
	"fmt"

	"github.com/banshee-data/meshpca/internal/monitoring"
	"github.com/banshee-data/meshpca/internal/points"
)

// ASCFile returns the export file name for an entity's balanced set.
func ASCFile(entity string) string {
	return entity + "_balanced.asc"
}

// ExportPointsToASC writes pts as a CloudCompare-compatible .asc file named
// after entity and returns its path.
func (w *Writer) ExportPointsToASC(entity string, pts points.Set) (string, error) {
	if len(pts) == 0 {
		return "", fmt.Errorf("no points to export")
	}

	path, err := w.path(ASCFile(entity))
	if err != nil {
		return "", err
	}

	f, err := w.FS.Create(path)
	if err != nil {
		return "", err
	}
	bw := bufio.NewWriter(f)
	fmt.Fprintf(bw, "# Exported points\n")
	fmt.Fprintf(bw, "# Entity: %s\n", entity)
	fmt.Fprintf(bw, "# Format: X Y Z\n")
	for _, p := range pts {
		fmt.Fprintln(bw, p.String())
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	monitoring.Debugf("Exported %d points to %s", len(pts), path)
	return path, nil
}
