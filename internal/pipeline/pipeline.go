// Package pipeline wires entity generation, balancing, stacking and the PCA
// fit into one sequential run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/meshpca/internal/balance"
	"github.com/banshee-data/meshpca/internal/config"
	"github.com/banshee-data/meshpca/internal/db"
	"github.com/banshee-data/meshpca/internal/fsutil"
	"github.com/banshee-data/meshpca/internal/mesh"
	"github.com/banshee-data/meshpca/internal/mesher"
	"github.com/banshee-data/meshpca/internal/monitoring"
	"github.com/banshee-data/meshpca/internal/pca"
	"github.com/banshee-data/meshpca/internal/report"
	"github.com/banshee-data/meshpca/internal/timeutil"
)

// ErrNoEngine is returned when generation is enabled without an Engine.
var ErrNoEngine = errors.New("pipeline: mesh generation requested but no engine configured")

// RunStore persists finished runs.
type RunStore interface {
	InsertRun(run *db.Run) error
}

// Pipeline holds the collaborators of a run. Engine is only used when the
// config enables generation; Store and the report directory are optional.
type Pipeline struct {
	Config *config.PipelineConfig
	FS     fsutil.FileSystem
	Engine mesher.Engine
	Store  RunStore
	Clock  timeutil.Clock
}

// RunResult summarises a completed run.
type RunResult struct {
	RunID          string
	Entities       []mesh.Entity
	Policy         string
	OriginalCounts []int
	BalancedCounts []int
	Matrix         *mat.Dense
	PCA            *pca.Result
	// Scores holds each matrix row projected onto the fitted components.
	Scores         *mat.Dense
	StartedAt      time.Time
	FinishedAt     time.Time
	// Reports lists the files written under the report directory.
	Reports        []string
}

// Names returns the entity names in collection order.
func (r *RunResult) Names() []string {
	out := make([]string, len(r.Entities))
	for i, e := range r.Entities {
		out[i] = e.Name()
	}
	return out
}

// Duration is the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (p *Pipeline) clock() timeutil.Clock {
	if p.Clock == nil {
		return timeutil.RealClock{}
	}
	return p.Clock
}

func (p *Pipeline) fs() fsutil.FileSystem {
	if p.FS == nil {
		return fsutil.OSFileSystem{}
	}
	return p.FS
}

// Entities builds the configured collection without touching the filesystem.
func (p *Pipeline) Entities() ([]mesh.Entity, error) {
	cfg := p.Config
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if len(cfg.Names) == 0 {
		return nil, fmt.Errorf("%w: no entity names configured", balance.ErrEmptyCollection)
	}
	kind, err := mesh.ParseKind(cfg.GetSource())
	if err != nil {
		return nil, err
	}
	return mesh.NewCollection(cfg.Names, cfg.GetInPath(), mesh.Options{
		OutPath:    cfg.GetOutPath(),
		GeoFormat:  cfg.GetGeoFormat(),
		MeshFormat: cfg.GetMeshFormat(),
		Kind:       kind,
	})
}

// Generate meshes every entity in order and stops at the first failure.
func (p *Pipeline) Generate(ctx context.Context, entities []mesh.Entity) error {
	if p.Engine == nil {
		return ErrNoEngine
	}
	opts := mesh.GenerateOptions{
		MinSize:      p.Config.GetMinSize(),
		MaxSize:      p.Config.GetMaxSize(),
		Visualize:    p.Config.GetVisualize(),
		VerifyOutput: p.Config.GetVerifyOutput(),
	}
	for i, e := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		monitoring.Logf("pipeline: generating mesh %d/%d for %s", i+1, len(entities), e.Name())
		if err := e.Generate(ctx, p.Engine, p.fs(), opts); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the pipeline once.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	clock := p.clock()
	started := clock.Now()

	entities, err := p.Entities()
	if err != nil {
		return nil, err
	}
	cfg := p.Config

	if cfg.GetGenerate() {
		if err := p.Generate(ctx, entities); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	padder, err := balance.PolicyByName(cfg.GetPadding(), cfg.GetSeed())
	if err != nil {
		return nil, err
	}
	coll, err := balance.BalanceEntities(entities, p.fs(), padder)
	if err != nil {
		return nil, err
	}
	for i, set := range coll.Original {
		if lo, hi, ok := set.Bounds(); ok {
			monitoring.Debugf("pipeline: %s bounds %s .. %s", entities[i].Name(), lo, hi)
		}
	}

	x, err := pca.Stack(coll.Balanced)
	if err != nil {
		return nil, err
	}
	if rows := cfg.GetReshapeRows(); rows > 0 {
		r, c := x.Dims()
		if x, err = pca.Reshape(x, rows, r*c/rows); err != nil {
			return nil, err
		}
	}

	res, err := pca.Fit(x, cfg.GetComponents())
	if err != nil {
		return nil, err
	}
	monitoring.Logf("pca: explained variance ratio %v", res.ExplainedVarianceRatio)
	monitoring.Logf("pca: singular values %v", res.SingularValues)
	scores, err := res.Transform(x)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:          uuid.New().String(),
		Entities:       entities,
		Policy:         coll.Policy,
		OriginalCounts: coll.OriginalCounts(),
		BalancedCounts: coll.BalancedCounts(),
		Matrix:         x,
		PCA:            res,
		Scores:         scores,
		StartedAt:      started,
		FinishedAt:     clock.Now(),
	}

	run, err := p.record(result)
	if err != nil {
		return nil, err
	}
	if p.Store != nil {
		if err := p.Store.InsertRun(run); err != nil {
			return nil, fmt.Errorf("persist run: %w", err)
		}
		monitoring.Logf("pipeline: stored run %s", run.RunID)
	}

	if dir := cfg.GetReportDir(); dir != "" {
		if result.Reports, err = p.writeReports(dir, run, res, coll); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// record converts a result into its persisted form.
func (p *Pipeline) record(r *RunResult) (*db.Run, error) {
	cfgJSON, err := json.Marshal(p.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	run := &db.Run{
		RunID:                  r.RunID,
		Source:                 p.Config.GetSource(),
		Policy:                 r.Policy,
		Seed:                   p.Config.GetSeed(),
		Components:             r.PCA.Components,
		Samples:                r.PCA.Samples,
		Features:               r.PCA.Features,
		ConfigJSON:             cfgJSON,
		ExplainedVariance:      r.PCA.ExplainedVariance,
		ExplainedVarianceRatio: r.PCA.ExplainedVarianceRatio,
		SingularValues:         r.PCA.SingularValues,
		StartedAtNs:            r.StartedAt.UnixNano(),
		FinishedAtNs:           r.FinishedAt.UnixNano(),
		Entities:               make([]db.RunEntity, len(r.Entities)),
	}
	for i, e := range r.Entities {
		run.Entities[i] = db.RunEntity{
			Name:          e.Name(),
			PointFile:     e.PointFile(),
			OriginalCount: r.OriginalCounts[i],
			BalancedCount: r.BalancedCounts[i],
		}
	}
	return run, nil
}

func (p *Pipeline) writeReports(dir string, run *db.Run, res *pca.Result, coll *balance.Collection) ([]string, error) {
	w := report.NewWriter(p.fs(), dir)
	var written []string

	path, err := w.WriteScreePlot(res)
	if err != nil {
		return nil, err
	}
	written = append(written, path)

	if path, err = w.WriteHTMLReport(run); err != nil {
		return nil, err
	}
	written = append(written, path)

	if p.Config.GetExportBalanced() {
		for i, e := range coll.Entities {
			path, err := w.ExportPointsToASC(e.Name(), coll.Balanced[i])
			if err != nil {
				return nil, err
			}
			written = append(written, path)
		}
	}
	return written, nil
}
