package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/meshpca/internal/balance"
	"github.com/banshee-data/meshpca/internal/config"
	"github.com/banshee-data/meshpca/internal/db"
	"github.com/banshee-data/meshpca/internal/fsutil"
	"github.com/banshee-data/meshpca/internal/mesh"
	"github.com/banshee-data/meshpca/internal/mesher"
	"github.com/banshee-data/meshpca/internal/monitoring"
	"github.com/banshee-data/meshpca/internal/pca"
	"github.com/banshee-data/meshpca/internal/testutil"
	"github.com/banshee-data/meshpca/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type fakeStore struct {
	runs []*db.Run
	err  error
}

func (s *fakeStore) InsertRun(run *db.Run) error {
	if s.err != nil {
		return s.err
	}
	s.runs = append(s.runs, run)
	return nil
}

var counts = map[string]int{"a": 3, "b": 5, "c": 4}

// ascFixture writes a.asc, b.asc and c.asc with 3, 5 and 4 points.
func ascFixture(t *testing.T) *fsutil.MemoryFileSystem {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	for i, name := range []string{"a", "b", "c"} {
		pts := testutil.Line(counts[name], float64(10*i))
		testutil.WriteFixture(t, fsys, filepath.Join("in", name+".asc"), testutil.ASCBytes(pts))
	}
	return fsys
}

func baseConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		Names:     []string{"a", "b", "c"},
		InPath:    config.PtrString("in"),
		GeoFormat: config.PtrString("asc"),
	}
}

func newPipeline(t *testing.T, cfg *config.PipelineConfig, fsys fsutil.FileSystem) (*Pipeline, *fakeStore, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	clock.SetStep(time.Second)
	store := &fakeStore{}
	return &Pipeline{Config: cfg, FS: fsys, Store: store, Clock: clock}, store, clock
}

func TestRunBalancesAndFits(t *testing.T) {
	p, store, _ := newPipeline(t, baseConfig(), ascFixture(t))

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, res.Names())
	assert.Equal(t, []int{3, 5, 4}, res.OriginalCounts)
	assert.Equal(t, []int{5, 5, 5}, res.BalancedCounts)
	assert.Equal(t, balance.PolicyDuplicateLast, res.Policy)

	rows, cols := res.Matrix.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 15, cols)

	// Row 0 is a's three points followed by its last point twice.
	row := mat.Row(nil, 0, res.Matrix)
	last := testutil.Line(3, 0).Last()
	for k := 3; k < 5; k++ {
		assert.Equal(t, []float64{last.X, last.Y, last.Z}, row[3*k:3*k+3])
	}

	require.NotNil(t, res.PCA)
	assert.Equal(t, 2, res.PCA.Components)
	assert.Len(t, res.PCA.ExplainedVarianceRatio, 2)
	assert.LessOrEqual(t, floats.Sum(res.PCA.ExplainedVarianceRatio), 1+1e-9)

	// Scores are centred projections: one row per entity, columns sum to zero.
	require.NotNil(t, res.Scores)
	srows, scols := res.Scores.Dims()
	assert.Equal(t, 3, srows)
	assert.Equal(t, 2, scols)
	for j := 0; j < scols; j++ {
		assert.InDelta(t, 0, floats.Sum(mat.Col(nil, j, res.Scores)), 1e-6)
	}
	assert.Equal(t, time.Duration(time.Second), res.Duration())

	require.Len(t, store.runs, 1)
	run := store.runs[0]
	assert.Equal(t, res.RunID, run.RunID)
	assert.Equal(t, "geometry", run.Source)
	assert.Equal(t, res.StartedAt.UnixNano(), run.StartedAtNs)
	require.Len(t, run.Entities, 3)
	assert.Equal(t, db.RunEntity{Name: "c", PointFile: filepath.Join("in", "c.asc"), OriginalCount: 4, BalancedCount: 5}, run.Entities[2])
	assert.Contains(t, string(run.ConfigJSON), `"geo_format":"asc"`)
	assert.Empty(t, res.Reports)
}

func TestRunLogsBoundsWhenVerbose(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	monitoring.SetVerbose(true)
	t.Cleanup(func() {
		monitoring.SetVerbose(false)
		monitoring.SetLogger(nil)
	})

	p, _, _ := newPipeline(t, baseConfig(), ascFixture(t))
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	first := testutil.Line(3, 0)
	lo, hi, _ := first.Bounds()
	assert.Contains(t, lines, fmt.Sprintf("pipeline: a bounds %s .. %s", lo, hi))
}

func TestRunMissingPointFile(t *testing.T) {
	cfg := baseConfig()
	cfg.Names = append(cfg.Names, "missing")
	p, store, _ := newPipeline(t, cfg, ascFixture(t))

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, mesh.ErrFileNotFound))
	assert.Empty(t, store.runs)
}

func TestRunEmptyNames(t *testing.T) {
	cfg := baseConfig()
	cfg.Names = nil
	p, _, _ := newPipeline(t, cfg, ascFixture(t))

	_, err := p.Run(context.Background())
	assert.True(t, errors.Is(err, balance.ErrEmptyCollection))
}

func TestRunNilConfig(t *testing.T) {
	p := &Pipeline{FS: fsutil.NewMemoryFileSystem()}
	_, err := p.Run(context.Background())
	assert.Error(t, err)
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Padding = config.PtrString("zero-fill")
	p, _, _ := newPipeline(t, cfg, ascFixture(t))

	_, err := p.Run(context.Background())
	assert.ErrorContains(t, err, "padding must be")
}

func TestRunGeneratesMeshes(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	rec := mesher.NewRecorder()
	written := map[string]int{"a": 4, "b": 6}
	rec.OnWrite = func(path string) error {
		name := filepath.Base(path)
		name = name[:len(name)-len(filepath.Ext(name))]
		return fsys.WriteFile(path, testutil.INPBytes(testutil.Line(written[name], 0)), 0644)
	}

	cfg := &config.PipelineConfig{
		Names:        []string{"a", "b"},
		InPath:       config.PtrString("geo"),
		OutPath:      config.PtrString("meshes"),
		Source:       config.PtrString("mesh"),
		Generate:     config.PtrBool(true),
		VerifyOutput: config.PtrBool(true),
		MinSize:      config.PtrFloat64(2),
		MaxSize:      config.PtrFloat64(4),
		Components:   config.PtrInt(1),
	}
	p, _, _ := newPipeline(t, cfg, fsys)
	p.Engine = rec

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{4, 6}, res.OriginalCounts)
	assert.Equal(t, []int{6, 6}, res.BalancedCounts)

	assert.Equal(t, 2, rec.Count("Initialize"))
	assert.Equal(t, 2, rec.Count("Finalize"))
	assert.Equal(t, 0, rec.Count("RunGUI"))
	assert.Contains(t, rec.Calls(), "ImportShapes "+filepath.Join("geo", "a.stl"))
	assert.Contains(t, rec.Calls(), "Write "+filepath.Join("meshes", "b.inp"))
	assert.Contains(t, rec.Calls(), "SetNumber "+mesher.OptionMeshSizeMax+"=4")
	assert.False(t, rec.Initialized())
}

func TestRunGenerationStopsAtFirstFailure(t *testing.T) {
	rec := mesher.NewRecorder()
	boom := errors.New("engine exploded")
	rec.FailOn["Generate"] = boom

	cfg := baseConfig()
	cfg.Generate = config.PtrBool(true)
	p, store, _ := newPipeline(t, cfg, ascFixture(t))
	p.Engine = rec

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, rec.Count("Initialize"), "later entities must not be generated")
	assert.Equal(t, 1, rec.Count("Finalize"))
	assert.Empty(t, store.runs)
}

func TestRunGenerationVerifiesOutput(t *testing.T) {
	cfg := baseConfig()
	cfg.Generate = config.PtrBool(true)
	cfg.VerifyOutput = config.PtrBool(true)
	p, _, _ := newPipeline(t, cfg, ascFixture(t))
	p.Engine = mesher.NewRecorder()

	_, err := p.Run(context.Background())
	assert.True(t, errors.Is(err, mesh.ErrGenerationOutputMissing))
}

func TestRunGenerateWithoutEngine(t *testing.T) {
	cfg := baseConfig()
	cfg.Generate = config.PtrBool(true)
	p, _, _ := newPipeline(t, cfg, ascFixture(t))

	_, err := p.Run(context.Background())
	assert.True(t, errors.Is(err, ErrNoEngine))
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := baseConfig()
	cfg.Generate = config.PtrBool(true)
	rec := mesher.NewRecorder()
	p, _, _ := newPipeline(t, cfg, ascFixture(t))
	p.Engine = rec

	_, err := p.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, rec.Count("Initialize"))
}

func TestRunRandomResampleIsSeeded(t *testing.T) {
	cfg := baseConfig()
	cfg.Padding = config.PtrString(balance.PolicyRandomResample)
	cfg.Seed = config.PtrInt64(7)

	first, _, _ := newPipeline(t, cfg, ascFixture(t))
	second, _, _ := newPipeline(t, cfg, ascFixture(t))

	r1, err := first.Run(context.Background())
	require.NoError(t, err)
	r2, err := second.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, balance.PolicyRandomResample, r1.Policy)
	assert.True(t, mat.Equal(r1.Matrix, r2.Matrix), "same seed must give the same padding")
}

func TestRunReshape(t *testing.T) {
	cfg := baseConfig()
	cfg.ReshapeRows = config.PtrInt(5)
	p, _, _ := newPipeline(t, cfg, ascFixture(t))

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.PCA.Samples)
	assert.Equal(t, 9, res.PCA.Features)
}

func TestRunReshapeMismatch(t *testing.T) {
	cfg := baseConfig()
	cfg.ReshapeRows = config.PtrInt(7)
	p, _, _ := newPipeline(t, cfg, ascFixture(t))

	_, err := p.Run(context.Background())
	assert.True(t, errors.Is(err, pca.ErrShapeMismatch))
}

func TestRunTooManyComponents(t *testing.T) {
	cfg := baseConfig()
	cfg.Components = config.PtrInt(4)
	p, _, _ := newPipeline(t, cfg, ascFixture(t))

	_, err := p.Run(context.Background())
	assert.ErrorContains(t, err, "components must be in [1, 3]")
}

func TestRunStoreFailure(t *testing.T) {
	p, store, _ := newPipeline(t, baseConfig(), ascFixture(t))
	store.err = errors.New("disk full")

	_, err := p.Run(context.Background())
	assert.ErrorContains(t, err, "persist run: disk full")
}

func TestRunWithoutStore(t *testing.T) {
	p, _, _ := newPipeline(t, baseConfig(), ascFixture(t))
	p.Store = nil

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
}

func TestRunWritesReports(t *testing.T) {
	fsys := ascFixture(t)
	cfg := baseConfig()
	cfg.ReportDir = config.PtrString("reports")
	cfg.ExportBalanced = config.PtrBool(true)
	p, _, _ := newPipeline(t, cfg, fsys)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Reports, 5)
	for _, path := range res.Reports {
		assert.True(t, fsys.Exists(path), "missing report %s", path)
		assert.Equal(t, "reports", filepath.Dir(path))
	}
	assert.Contains(t, res.Reports, filepath.Join("reports", "a_balanced.asc"))
}

func TestRunWithSQLiteStore(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer database.Close()

	p, _, _ := newPipeline(t, baseConfig(), ascFixture(t))
	store := db.NewRunStore(database)
	p.Store = store

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	run, err := store.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.PCA.ExplainedVarianceRatio, run.ExplainedVarianceRatio)
	assert.Equal(t, []int{3, 5, 4}, []int{run.Entities[0].OriginalCount, run.Entities[1].OriginalCount, run.Entities[2].OriginalCount})
}
