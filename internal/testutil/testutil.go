// Package testutil provides shared test helpers and point-file fixtures.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/banshee-data/meshpca/internal/fsutil"
	"github.com/banshee-data/meshpca/internal/points"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Line returns n distinct points along the x axis starting at offset.
func Line(n int, offset float64) points.Set {
	s := make(points.Set, n)
	for i := range s {
		s[i] = points.Point{X: offset + float64(i), Y: float64(i) * 0.5, Z: float64(i * i)}
	}
	return s
}

// ASCBytes renders pts as an ASCII point cloud.
func ASCBytes(pts points.Set) []byte {
	var b strings.Builder
	b.WriteString("# fixture\n")
	for _, p := range pts {
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// STLBytes renders pts as an ASCII STL with one facet per three points.
// len(pts) must be a multiple of three; every point must be distinct so the
// reader's de-duplication keeps them all.
func STLBytes(pts points.Set) []byte {
	var b strings.Builder
	b.WriteString("solid fixture\n")
	for i := 0; i+2 < len(pts); i += 3 {
		b.WriteString("  facet normal 0 0 1\n    outer loop\n")
		for _, p := range pts[i : i+3] {
			fmt.Fprintf(&b, "      vertex %s\n", p)
		}
		b.WriteString("    endloop\n  endfacet\n")
	}
	b.WriteString("endsolid fixture\n")
	return []byte(b.String())
}

// INPBytes renders pts as an Abaqus input deck node section.
func INPBytes(pts points.Set) []byte {
	var b strings.Builder
	b.WriteString("*HEADING\nfixture\n*NODE\n")
	for i, p := range pts {
		fmt.Fprintf(&b, "%d, %g, %g, %g\n", i+1, p.X, p.Y, p.Z)
	}
	b.WriteString("*ELEMENT, TYPE=C3D4\n")
	return []byte(b.String())
}

// WriteFixture writes data to path in fsys, failing the test on error.
func WriteFixture(t testing.TB, fsys fsutil.FileSystem, path string, data []byte) {
	t.Helper()
	if err := fsys.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
}
