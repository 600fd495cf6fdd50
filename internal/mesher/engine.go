// Package mesher drives an external mesh-generation engine (gmsh) through a
// scoped session. The engine is process-wide state: it must be initialized
// before use and finalized afterwards, and its commands must be issued in
// order.
package mesher

import (
	"context"
	"errors"
)

// Option names understood by Engine.SetNumber.
const (
	OptionMeshSizeMin = "Mesh.MeshSizeMin"
	OptionMeshSizeMax = "Mesh.MeshSizeMax"
)

var (
	// ErrSessionClosed is returned by every Session call after Close.
	ErrSessionClosed = errors.New("mesher session closed")

	// ErrNotSynchronized is returned when Generate is called before Synchronize.
	ErrNotSynchronized = errors.New("mesher: generate called before synchronize")

	// ErrOutOfOrder is returned when a command is issued before its prerequisite.
	ErrOutOfOrder = errors.New("mesher: command issued out of order")
)

// Engine is the command surface of the external mesher. Implementations are
// not safe for concurrent use; the engine is a singleton resource.
type Engine interface {
	Initialize(ctx context.Context) error
	AddModel(name string) error
	ImportShapes(path string) error
	Synchronize() error
	SetNumber(option string, value float64) error
	Generate(ctx context.Context, dim int) error
	Write(ctx context.Context, path string) error
	// RunGUI blocks until the user closes the viewer.
	RunGUI(ctx context.Context) error
	Finalize() error
}
