package mesher

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Recorder is an in-memory Engine that records the command sequence. It is
// used by tests and by dry runs, where no gmsh binary is available.
type Recorder struct {
	mu    sync.Mutex
	calls []string

	// FailOn makes the named command ("Initialize", "Write", ...) return the
	// given error.
	FailOn map[string]error

	// OnWrite, when set, is called by Write so a caller can materialise the
	// output file (for example in an in-memory filesystem).
	OnWrite func(path string) error

	// PanicOn makes the named command panic, to exercise cleanup paths.
	PanicOn string

	initialized bool
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{FailOn: map[string]error{}}
}

// Calls returns a copy of the recorded commands.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many times cmd was recorded.
func (r *Recorder) Count(cmd string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == cmd || strings.HasPrefix(c, cmd+" ") {
			n++
		}
	}
	return n
}

// Initialized reports whether the engine is between Initialize and Finalize.
func (r *Recorder) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

func (r *Recorder) record(cmd, detail string) error {
	r.mu.Lock()
	entry := cmd
	if detail != "" {
		entry = cmd + " " + detail
	}
	r.calls = append(r.calls, entry)
	err := r.FailOn[cmd]
	doPanic := r.PanicOn == cmd
	r.mu.Unlock()

	if doPanic {
		panic(fmt.Sprintf("recorder: injected panic in %s", cmd))
	}
	return err
}

func (r *Recorder) Initialize(ctx context.Context) error {
	if err := r.record("Initialize", ""); err != nil {
		return err
	}
	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()
	return nil
}

func (r *Recorder) AddModel(name string) error { return r.record("AddModel", name) }

func (r *Recorder) ImportShapes(path string) error { return r.record("ImportShapes", path) }

func (r *Recorder) Synchronize() error { return r.record("Synchronize", "") }

func (r *Recorder) SetNumber(option string, value float64) error {
	return r.record("SetNumber", fmt.Sprintf("%s=%g", option, value))
}

func (r *Recorder) Generate(ctx context.Context, dim int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.record("Generate", fmt.Sprintf("%d", dim))
}

func (r *Recorder) Write(ctx context.Context, path string) error {
	if err := r.record("Write", path); err != nil {
		return err
	}
	if r.OnWrite != nil {
		return r.OnWrite(path)
	}
	return nil
}

func (r *Recorder) RunGUI(ctx context.Context) error { return r.record("RunGUI", "") }

func (r *Recorder) Finalize() error {
	r.mu.Lock()
	r.initialized = false
	r.mu.Unlock()
	return r.record("Finalize", "")
}
