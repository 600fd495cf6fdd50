package mesher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/banshee-data/meshpca/internal/monitoring"
)

// DefaultGmshBinary is looked up on PATH when GmshCLI.Binary is empty.
const DefaultGmshBinary = "gmsh"

// CommandRunner runs an external program and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// cadExtensions are imported through the OpenCASCADE kernel; everything else
// (STL and other discrete formats) is merged and reclassified.
var cadExtensions = map[string]bool{
	"step": true, "stp": true, "iges": true, "igs": true, "brep": true,
}

// GmshCLI is an Engine backed by the gmsh command-line program. Commands are
// accumulated into a .geo script; Write runs gmsh once on that script, and
// RunGUI opens the written mesh in the gmsh viewer.
type GmshCLI struct {
	// Binary is the gmsh executable. Defaults to DefaultGmshBinary.
	Binary string
	// Run executes commands. Defaults to os/exec.
	Run CommandRunner

	workDir string
	script  []string
	dim     int
	output  string
}

// NewGmshCLI returns a GmshCLI using binary ("" for the default).
func NewGmshCLI(binary string) *GmshCLI {
	return &GmshCLI{Binary: binary}
}

func (g *GmshCLI) binary() string {
	if g.Binary == "" {
		return DefaultGmshBinary
	}
	return g.Binary
}

func (g *GmshCLI) runner() CommandRunner {
	if g.Run == nil {
		return execRunner
	}
	return g.Run
}

// Initialize creates a scratch directory for the script.
func (g *GmshCLI) Initialize(ctx context.Context) error {
	if g.workDir != "" {
		return fmt.Errorf("gmsh: already initialized")
	}
	dir, err := os.MkdirTemp("", "meshpca-gmsh-")
	if err != nil {
		return fmt.Errorf("gmsh: create work dir: %w", err)
	}
	g.workDir = dir
	g.script = []string{"// generated by meshpca"}
	g.dim = 0
	g.output = ""
	return nil
}

func (g *GmshCLI) requireInit() error {
	if g.workDir == "" {
		return fmt.Errorf("gmsh: %w: engine not initialized", ErrOutOfOrder)
	}
	return nil
}

func (g *GmshCLI) AddModel(name string) error {
	if err := g.requireInit(); err != nil {
		return err
	}
	g.script = append(g.script, fmt.Sprintf("// model %s", name))
	return nil
}

func (g *GmshCLI) ImportShapes(path string) error {
	if err := g.requireInit(); err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	quoted := quoteGeo(abs)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if cadExtensions[ext] {
		g.script = append(g.script,
			`SetFactory("OpenCASCADE");`,
			fmt.Sprintf("v() = ShapeFromFile(%s);", quoted),
		)
		return nil
	}
	g.script = append(g.script,
		fmt.Sprintf("Merge %s;", quoted),
		"ClassifySurfaces{40*Pi/180, 1, 1, Pi};",
		"CreateGeometry;",
		"Surface Loop(1) = Surface{:};",
		"Volume(1) = {1};",
	)
	return nil
}

// Synchronize is implicit in .geo scripts; it only checks state.
func (g *GmshCLI) Synchronize() error {
	return g.requireInit()
}

func (g *GmshCLI) SetNumber(option string, value float64) error {
	if err := g.requireInit(); err != nil {
		return err
	}
	g.script = append(g.script, fmt.Sprintf("%s = %g;", option, value))
	return nil
}

// Generate records the dimension; gmsh meshes when Write runs the script.
func (g *GmshCLI) Generate(ctx context.Context, dim int) error {
	if err := g.requireInit(); err != nil {
		return err
	}
	g.dim = dim
	return nil
}

// Script returns the .geo script built so far.
func (g *GmshCLI) Script() string {
	if len(g.script) == 0 {
		return ""
	}
	return strings.Join(g.script, "\n") + "\n"
}

func (g *GmshCLI) Write(ctx context.Context, path string) error {
	if err := g.requireInit(); err != nil {
		return err
	}
	if g.dim == 0 {
		return fmt.Errorf("gmsh: %w: write before generate", ErrOutOfOrder)
	}
	scriptPath := filepath.Join(g.workDir, "model.geo")
	if err := os.WriteFile(scriptPath, []byte(g.Script()), 0644); err != nil {
		return fmt.Errorf("gmsh: write script: %w", err)
	}

	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	args := []string{scriptPath, fmt.Sprintf("-%d", g.dim), "-o", path, "-nopopup"}
	if format != "" {
		args = append(args, "-format", format)
	}
	monitoring.Debugf("gmsh: %s %s", g.binary(), strings.Join(args, " "))
	out, err := g.runner()(ctx, g.binary(), args...)
	if err != nil {
		monitoring.Logf("gmsh: failed on %s: %v\n%s", scriptPath, err, out)
		return fmt.Errorf("gmsh: %w", err)
	}
	g.output = path
	return nil
}

// RunGUI opens the last written mesh and blocks until the window is closed.
func (g *GmshCLI) RunGUI(ctx context.Context) error {
	if err := g.requireInit(); err != nil {
		return err
	}
	if g.output == "" {
		return fmt.Errorf("gmsh: %w: gui before write", ErrOutOfOrder)
	}
	if _, err := g.runner()(ctx, g.binary(), g.output); err != nil {
		return fmt.Errorf("gmsh gui: %w", err)
	}
	return nil
}

// Finalize removes the scratch directory and resets the engine.
func (g *GmshCLI) Finalize() error {
	if g.workDir == "" {
		return nil
	}
	err := os.RemoveAll(g.workDir)
	g.workDir = ""
	g.script = nil
	g.dim = 0
	g.output = ""
	return err
}

// quoteGeo quotes a path for a .geo string literal.
func quoteGeo(s string) string {
	s = strings.ReplaceAll(s, `\`, `/`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
