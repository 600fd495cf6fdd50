package mesher

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/meshpca/internal/monitoring"
)

// Session is a scoped acquisition of an Engine. Open initializes the engine
// and Close finalizes it exactly once, so callers should always
// `defer s.Close()` straight after a successful Open.
type Session struct {
	engine    Engine
	closed    bool
	model     string
	imported  bool
	synced    bool
	generated bool
	written   string
}

// Open initializes e and returns a session that owns it. If initialization
// fails the engine is still finalized before returning.
func Open(ctx context.Context, e Engine) (*Session, error) {
	if err := e.Initialize(ctx); err != nil {
		if ferr := e.Finalize(); ferr != nil {
			err = errors.Join(err, fmt.Errorf("finalize after failed initialize: %w", ferr))
		}
		return nil, fmt.Errorf("initialize mesher: %w", err)
	}
	return &Session{engine: e}, nil
}

// AddModel starts a new named model.
func (s *Session) AddModel(name string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.engine.AddModel(name); err != nil {
		return fmt.Errorf("add model %q: %w", name, err)
	}
	s.model = name
	return nil
}

// ImportShapes loads geometry from path into the current model.
func (s *Session) ImportShapes(path string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.model == "" {
		return fmt.Errorf("%w: import shapes before add model", ErrOutOfOrder)
	}
	if err := s.engine.ImportShapes(path); err != nil {
		return fmt.Errorf("import shapes from %s: %w", path, err)
	}
	s.imported = true
	s.synced = false
	return nil
}

// Synchronize pushes imported geometry into the model.
func (s *Session) Synchronize() error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.imported {
		return fmt.Errorf("%w: synchronize before import shapes", ErrOutOfOrder)
	}
	if err := s.engine.Synchronize(); err != nil {
		return fmt.Errorf("synchronize: %w", err)
	}
	s.synced = true
	return nil
}

// SetNumber sets a numeric engine option.
func (s *Session) SetNumber(option string, value float64) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.engine.SetNumber(option, value); err != nil {
		return fmt.Errorf("set %s=%g: %w", option, value, err)
	}
	return nil
}

// Generate meshes the model in dim dimensions.
func (s *Session) Generate(ctx context.Context, dim int) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.synced {
		return ErrNotSynchronized
	}
	if dim < 1 || dim > 3 {
		return fmt.Errorf("generate: dimension %d out of range [1,3]", dim)
	}
	if err := s.engine.Generate(ctx, dim); err != nil {
		return fmt.Errorf("generate %dD mesh: %w", dim, err)
	}
	s.generated = true
	return nil
}

// Write saves the generated mesh to path; the extension selects the format.
func (s *Session) Write(ctx context.Context, path string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.generated {
		return fmt.Errorf("%w: write before generate", ErrOutOfOrder)
	}
	if err := s.engine.Write(ctx, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	s.written = path
	return nil
}

// Output returns the path of the last successful Write.
func (s *Session) Output() string { return s.written }

// RunGUI opens the engine viewer and blocks until it is closed.
func (s *Session) RunGUI(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.engine.RunGUI(ctx); err != nil {
		return fmt.Errorf("run gui: %w", err)
	}
	return nil
}

// Close finalizes the engine. It is safe to call more than once; only the
// first call reaches the engine.
func (s *Session) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	if err := s.engine.Finalize(); err != nil {
		return fmt.Errorf("finalize mesher: %w", err)
	}
	monitoring.Debugf("mesher: session for model %q finalized", s.model)
	return nil
}

// Job describes one geometry-to-mesh run.
type Job struct {
	Model     string
	Input     string
	Output    string
	MinSize   float64
	MaxSize   float64
	Dim       int
	Visualize bool
}

// Validate checks the size bounds and paths before the engine is touched.
func (j Job) Validate() error {
	switch {
	case j.Model == "":
		return fmt.Errorf("mesh job: empty model name")
	case j.Input == "" || j.Output == "":
		return fmt.Errorf("mesh job %q: input and output paths are required", j.Model)
	case j.MinSize <= 0 || j.MaxSize <= 0:
		return fmt.Errorf("mesh job %q: element sizes must be positive (min=%g max=%g)", j.Model, j.MinSize, j.MaxSize)
	case j.MinSize > j.MaxSize:
		return fmt.Errorf("mesh job %q: min element size %g exceeds max %g", j.Model, j.MinSize, j.MaxSize)
	}
	return nil
}

// Run executes initialize, add model, import, synchronize, size options,
// generate, write, optional GUI and finalize, in that order. Finalize runs on
// every exit path, including panics further up the sequence.
func Run(ctx context.Context, e Engine, job Job) (err error) {
	if err := job.Validate(); err != nil {
		return err
	}
	dim := job.Dim
	if dim == 0 {
		dim = 3
	}

	s, err := Open(ctx, e)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := s.AddModel(job.Model); err != nil {
		return err
	}
	if err := s.ImportShapes(job.Input); err != nil {
		return err
	}
	if err := s.Synchronize(); err != nil {
		return err
	}
	if err := s.SetNumber(OptionMeshSizeMin, job.MinSize); err != nil {
		return err
	}
	if err := s.SetNumber(OptionMeshSizeMax, job.MaxSize); err != nil {
		return err
	}
	if err := s.Generate(ctx, dim); err != nil {
		return err
	}
	if err := s.Write(ctx, job.Output); err != nil {
		return err
	}
	monitoring.Logf("mesher: wrote %s (model=%s min=%g max=%g)", job.Output, job.Model, job.MinSize, job.MaxSize)

	if job.Visualize {
		if err := s.RunGUI(ctx); err != nil {
			return err
		}
	}
	return nil
}
