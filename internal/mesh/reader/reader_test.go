package reader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/fs"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/meshpca/internal/fsutil"
	"github.com/banshee-data/meshpca/internal/points"
)

// binarySTL encodes triangles the way the engine writes them: 80-byte header,
// little-endian triangle count, 50-byte records.
func binarySTL(tris [][3]points.Point) []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, stlHeaderSize))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(tris)))
	for _, tri := range tris {
		rec := make([]byte, stlRecordSize)
		for v, p := range tri {
			off := 12 + v*12
			binary.LittleEndian.PutUint32(rec[off:], math.Float32bits(float32(p.X)))
			binary.LittleEndian.PutUint32(rec[off+4:], math.Float32bits(float32(p.Y)))
			binary.LittleEndian.PutUint32(rec[off+8:], math.Float32bits(float32(p.Z)))
		}
		buf.Write(rec)
	}
	return buf.Bytes()
}

func TestParseSTL_Binary(t *testing.T) {
	a, b, c, d := points.Point{X: 0, Y: 0, Z: 0}, points.Point{X: 1, Y: 0, Z: 0}, points.Point{X: 0, Y: 1, Z: 0}, points.Point{X: 0, Y: 0, Z: 1}
	data := binarySTL([][3]points.Point{{a, b, c}, {a, c, d}})

	got, err := Read(bytes.NewReader(data), "stl")
	require.NoError(t, err)
	want := points.Set{a, b, c, d}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("binary STL mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSTL_BinaryHeaderStartingWithSolid(t *testing.T) {
	data := binarySTL([][3]points.Point{{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}}})
	copy(data, "solid exported-by-a-cad-tool")

	got, err := Read(bytes.NewReader(data), "stl")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestParseSTL_ASCII(t *testing.T) {
	const src = `solid beam
  facet normal 0 0 1
    outer loop
      vertex 0 0 0
      vertex 1 0 0
      vertex 0 1 0
    endloop
  endfacet
  facet normal 0 0 1
    outer loop
      vertex 1 0 0
      vertex 1 1 0
      vertex 0 1 0
    endloop
  endfacet
endsolid beam
`
	got, err := Read(strings.NewReader(src), "stl")
	require.NoError(t, err)
	want := points.Set{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 1, Y: 1, Z: 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ASCII STL mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSTL_Garbage(t *testing.T) {
	_, err := Read(strings.NewReader("not an stl"), "stl")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseMSH_V2(t *testing.T) {
	const src = `$MeshFormat
2.2 0 8
$EndMeshFormat
$Nodes
3
1 0 0 0
2 1.5 0 0
3 0 2.5 -1
$EndNodes
$Elements
0
$EndElements
`
	got, err := Read(strings.NewReader(src), "msh")
	require.NoError(t, err)
	want := points.Set{{X: 0, Y: 0, Z: 0}, {X: 1.5, Y: 0, Z: 0}, {X: 0, Y: 2.5, Z: -1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("msh v2 mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMSH_V4(t *testing.T) {
	const src = `$MeshFormat
4.1 0 8
$EndMeshFormat
$Nodes
2 3 1 3
0 1 0 1
1
0 0 0
1 1 0 2
2
3
1 0 0
0 1 0
$EndNodes
`
	got, err := Read(strings.NewReader(src), "msh")
	require.NoError(t, err)
	want := points.Set{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("msh v4 mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMSH_V40(t *testing.T) {
	const src = `$MeshFormat
4 0 8
$EndMeshFormat
$Nodes
2 3
1 0 0 1
1 0 0 0
2 2 0 2
2 1 0 0
3 0 1 0
$EndNodes
`
	got, err := Read(strings.NewReader(src), "msh")
	require.NoError(t, err)
	want := points.Set{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("msh v4.0 mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMSH_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr error
	}{
		{"binary", "$MeshFormat\n4.1 1 8\n$EndMeshFormat\n", ErrUnsupportedFormat},
		{"no nodes", "$MeshFormat\n2.2 0 8\n$EndMeshFormat\n", ErrMalformed},
		{"short", "$Nodes\n3\n1 0 0 0\n", ErrMalformed},
		{"bad coord", "$Nodes\n1\n1 x 0 0\n", ErrMalformed},
		{"v2 huge count", "$MeshFormat\n2.2 0 8\n$EndMeshFormat\n$Nodes\n999999999999\n1 0 0 0\n$EndNodes\n", ErrMalformed},
		{"v4 huge count", "$MeshFormat\n4.1 0 8\n$EndMeshFormat\n$Nodes\n1 999999999999 1 999999999999\n0 1 0 1\n1\n0 0 0\n$EndNodes\n", ErrMalformed},
		{"v4.0 short block", "$MeshFormat\n4 0 8\n$EndMeshFormat\n$Nodes\n1 2\n1 0 0 2\n1 0 0 0\n", ErrMalformed},
		{"v4 count mismatch", "$MeshFormat\n4.1 0 8\n$EndMeshFormat\n$Nodes\n1 5 1 5\n0 1 0 1\n1\n0 0 0\n", ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.src), "msh")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseINP(t *testing.T) {
	const src = `*Heading
** generated by gmsh
*NODE
1, 0.0, 0.0, 0.0
2, 10.0, 0.0, 0.0
3, 10.0, 10.0, 5.0
******* E L E M E N T S *************
*ELEMENT, type=C3D4, ELSET=Volume1
1, 1, 2, 3, 4
*Node, NSET=extra
4, 1.0, 2.0
`
	got, err := Read(strings.NewReader(src), "inp")
	require.NoError(t, err)
	want := points.Set{{X: 0, Y: 0, Z: 0}, {X: 10, Y: 0, Z: 0}, {X: 10, Y: 10, Z: 5}, {X: 1, Y: 2, Z: 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("inp mismatch (-want +got):\n%s", diff)
	}
}

func TestParseINP_NoNodes(t *testing.T) {
	_, err := Read(strings.NewReader("*Heading\n*ELEMENT\n1, 2, 3\n"), "inp")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseASC(t *testing.T) {
	const src = `# Exported points
# Format: X Y Z Intensity
1.000000 2.000000 3.000000 7
4,5,6

-1 -2 -3 0 extra
`
	got, err := Read(strings.NewReader(src), "asc")
	require.NoError(t, err)
	want := points.Set{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}, {X: -1, Y: -2, Z: -3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("asc mismatch (-want +got):\n%s", diff)
	}

	_, err = Read(strings.NewReader("1 2\n"), "xyz")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseOBJ(t *testing.T) {
	const src = `# cube corner
o corner
v 0 0 0
vn 0 0 1
vt 0.5 0.5
v 1 0 0 1.0
f 1 2 1
`
	got, err := Read(strings.NewReader(src), "obj")
	require.NoError(t, err)
	want := points.Set{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("obj mismatch (-want +got):\n%s", diff)
	}
}

func TestRead_UnsupportedFormat(t *testing.T) {
	_, err := Read(strings.NewReader(""), "step")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestReadFile(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/data/beam.ASC", []byte("1 2 3\n4 5 6\n"), 0644))

	got, err := ReadFile(mfs, "/data/beam.ASC")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())

	_, err = ReadFile(mfs, "/data/missing.asc")
	assert.True(t, errors.Is(err, fs.ErrNotExist), "expected ErrNotExist, got %v", err)

	_, err = ReadFile(mfs, "/data/beam.step")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFormats(t *testing.T) {
	assert.Equal(t, []string{"asc", "inp", "msh", "obj", "stl", "xyz"}, Formats())
	assert.Equal(t, "stl", FormatOf("/a/b/beam.STL"))
	assert.True(t, Supported("INP"))
	assert.False(t, Supported("vtk"))
}
