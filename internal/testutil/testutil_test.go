package testutil

import (
	"testing"

	"github.com/banshee-data/meshpca/internal/fsutil"
	"github.com/banshee-data/meshpca/internal/mesh/reader"
)

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestLineIsDistinct(t *testing.T) {
	t.Parallel()
	pts := Line(6, 10)
	if len(pts) != 6 {
		t.Fatalf("len = %d, want 6", len(pts))
	}
	for i := 1; i < len(pts); i++ {
		if pts[:i].Contains(pts[i]) {
			t.Errorf("point %d duplicates an earlier point", i)
		}
	}
	if pts[0].X != 10 {
		t.Errorf("offset not applied: %v", pts[0])
	}
}

func TestFixturesRoundTripThroughReaders(t *testing.T) {
	t.Parallel()
	want := Line(6, 1)
	fsys := fsutil.NewMemoryFileSystem()

	fixtures := map[string][]byte{
		"in/a.asc": ASCBytes(want),
		"in/a.stl": STLBytes(want),
		"in/a.inp": INPBytes(want),
	}
	for path, data := range fixtures {
		WriteFixture(t, fsys, path, data)

		got, err := reader.ReadFile(fsys, path)
		AssertNoError(t, err)
		if len(got) != len(want) {
			t.Fatalf("%s: read %d points, want %d", path, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s: point %d = %v, want %v", path, i, got[i], want[i])
			}
		}
	}
}
