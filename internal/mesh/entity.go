// Package mesh describes one geometry or mesh on disk and the two operations
// on it: generating a mesh with the external engine and reading its points.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/banshee-data/meshpca/internal/fsutil"
	"github.com/banshee-data/meshpca/internal/mesh/reader"
	"github.com/banshee-data/meshpca/internal/mesher"
	"github.com/banshee-data/meshpca/internal/monitoring"
	"github.com/banshee-data/meshpca/internal/points"
	"github.com/banshee-data/meshpca/internal/security"
)

// Defaults applied by NewEntity.
const (
	DefaultGeoFormat  = "stl"
	DefaultMeshFormat = "inp"
)

var (
	// ErrFileNotFound is returned by ReadPoints when the backing file is
	// absent. It also matches fs.ErrNotExist.
	ErrFileNotFound = fmt.Errorf("point file not found: %w", fs.ErrNotExist)

	// ErrGenerationOutputMissing is returned by Generate with VerifyOutput set
	// when the engine reported success but the mesh file does not exist.
	ErrGenerationOutputMissing = errors.New("mesh generation produced no output file")
)

// Kind selects which file of an entity ReadPoints parses.
type Kind int

const (
	// KindGeometry reads <out_path>/<name>.<geo_format>.
	KindGeometry Kind = iota
	// KindMesh reads <out_path>/<name>.<mesh_format>.
	KindMesh
)

func (k Kind) String() string {
	switch k {
	case KindGeometry:
		return "geometry"
	case KindMesh:
		return "mesh"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps "geometry" or "mesh" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "geometry", "geo":
		return KindGeometry, nil
	case "mesh":
		return KindMesh, nil
	}
	return 0, fmt.Errorf("unknown source kind %q (want geometry or mesh)", s)
}

// Options are the optional identity fields of an Entity.
type Options struct {
	OutPath    string // defaults to the input directory
	GeoFormat  string // defaults to DefaultGeoFormat
	MeshFormat string // defaults to DefaultMeshFormat
	Kind       Kind
}

// Entity identifies one geometry or mesh. It is immutable after NewEntity.
type Entity struct {
	name       string
	inPath     string
	outPath    string
	geoFormat  string
	meshFormat string
	kind       Kind
}

// NewEntity validates the name and applies defaults.
func NewEntity(name, inPath string, opts Options) (Entity, error) {
	if err := security.ValidateEntityName(name); err != nil {
		return Entity{}, err
	}
	if opts.Kind != KindGeometry && opts.Kind != KindMesh {
		return Entity{}, fmt.Errorf("entity %q: invalid kind %v", name, opts.Kind)
	}
	e := Entity{
		name:       name,
		inPath:     inPath,
		outPath:    opts.OutPath,
		geoFormat:  normalizeFormat(opts.GeoFormat, DefaultGeoFormat),
		meshFormat: normalizeFormat(opts.MeshFormat, DefaultMeshFormat),
		kind:       opts.Kind,
	}
	if e.outPath == "" {
		e.outPath = inPath
	}
	return e, nil
}

// NewCollection builds one entity per name, all sharing inPath and opts.
func NewCollection(names []string, inPath string, opts Options) ([]Entity, error) {
	out := make([]Entity, 0, len(names))
	for _, name := range names {
		e, err := NewEntity(name, inPath, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func normalizeFormat(f, def string) string {
	f = strings.TrimPrefix(strings.TrimSpace(f), ".")
	if f == "" {
		return def
	}
	return strings.ToLower(f)
}

func (e Entity) Name() string       { return e.name }
func (e Entity) InPath() string     { return e.inPath }
func (e Entity) OutPath() string    { return e.outPath }
func (e Entity) GeoFormat() string  { return e.geoFormat }
func (e Entity) MeshFormat() string { return e.meshFormat }
func (e Entity) Kind() Kind         { return e.kind }

func (e Entity) String() string {
	return fmt.Sprintf("%s %s", e.kind, e.name)
}

// GeometryFile is the mesher input, <in_path>/<name>.<geo_format>.
func (e Entity) GeometryFile() string {
	return filepath.Join(e.inPath, e.name+"."+e.geoFormat)
}

// MeshFile is the mesher output, <out_path>/<name>.<mesh_format>.
func (e Entity) MeshFile() string {
	return filepath.Join(e.outPath, e.name+"."+e.meshFormat)
}

// PointFile is the file ReadPoints parses. Geometry points are read from the
// output directory, which equals the input directory unless overridden.
func (e Entity) PointFile() string {
	if e.kind == KindMesh {
		return e.MeshFile()
	}
	return filepath.Join(e.outPath, e.name+"."+e.geoFormat)
}

// ReadPoints parses the point file afresh. A missing file yields an error
// matching ErrFileNotFound and nothing else; format errors from the reader
// are returned unchanged.
func (e Entity) ReadPoints(fsys fsutil.FileSystem) (points.Set, error) {
	path := e.PointFile()
	if !fsys.Exists(path) {
		return nil, fmt.Errorf("%s: %w: %s (check file format)", e, ErrFileNotFound, path)
	}
	pts, err := reader.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	monitoring.Debugf("mesh: read %d points from %s", len(pts), path)
	return pts, nil
}

// GenerateOptions are the mesher parameters for Generate.
type GenerateOptions struct {
	MinSize   float64
	MaxSize   float64
	Visualize bool
	// VerifyOutput checks that the mesh file exists once the engine returns.
	VerifyOutput bool
}

// Generate meshes GeometryFile into MeshFile through a scoped engine session.
func (e Entity) Generate(ctx context.Context, engine mesher.Engine, fsys fsutil.FileSystem, opts GenerateOptions) error {
	job := mesher.Job{
		Model:     e.name,
		Input:     e.GeometryFile(),
		Output:    e.MeshFile(),
		MinSize:   opts.MinSize,
		MaxSize:   opts.MaxSize,
		Dim:       3,
		Visualize: opts.Visualize,
	}
	if err := mesher.Run(ctx, engine, job); err != nil {
		return fmt.Errorf("%s: %w", e, err)
	}
	if opts.VerifyOutput && !fsys.Exists(job.Output) {
		return fmt.Errorf("%s: %w: %s", e, ErrGenerationOutputMissing, job.Output)
	}
	return nil
}
