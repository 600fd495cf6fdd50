// Package reader parses node and vertex coordinates out of geometry and mesh
// files. The parser is chosen from the file extension.
package reader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/meshpca/internal/fsutil"
	"github.com/banshee-data/meshpca/internal/points"
)

var (
	// ErrUnsupportedFormat is returned when no parser handles an extension.
	ErrUnsupportedFormat = errors.New("unsupported point-cloud format")

	// ErrMalformed is returned when a file of a supported format cannot be parsed.
	ErrMalformed = errors.New("malformed point-cloud file")
)

// maxLineBytes bounds a single text line. Abaqus and gmsh node lines are
// short; this only protects against binary data fed to a text parser.
const maxLineBytes = 1 << 20

// ParseFunc decodes every point in r.
type ParseFunc func(r io.Reader) (points.Set, error)

var parsers = map[string]ParseFunc{
	"stl": parseSTL,
	"msh": parseMSH,
	"inp": parseINP,
	"asc": parseASC,
	"xyz": parseASC,
	"obj": parseOBJ,
}

// Formats returns the supported extensions, sorted.
func Formats() []string {
	out := make([]string, 0, len(parsers))
	for ext := range parsers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// FormatOf returns the lower-cased extension of path without the dot.
func FormatOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Supported reports whether format has a parser.
func Supported(format string) bool {
	_, ok := parsers[strings.ToLower(format)]
	return ok
}

// Read parses r as the given format.
func Read(r io.Reader, format string) (points.Set, error) {
	parse, ok := parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, format, strings.Join(Formats(), ", "))
	}
	return parse(r)
}

// ReadFile opens path on fsys and parses it according to its extension.
func ReadFile(fsys fsutil.FileSystem, path string) (points.Set, error) {
	format := FormatOf(path)
	if !Supported(format) {
		return nil, fmt.Errorf("read %s: %w: %q", path, ErrUnsupportedFormat, format)
	}

	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	pts, err := Read(bufio.NewReader(f), format)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return pts, nil
}

// lineScanner wraps bufio.Scanner with a line counter for error messages.
type lineScanner struct {
	*bufio.Scanner
	line int
}

func newLineScanner(r io.Reader) *lineScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &lineScanner{Scanner: s}
}

// next advances to the next line and returns it trimmed.
func (s *lineScanner) next() (string, bool) {
	if !s.Scan() {
		return "", false
	}
	s.line++
	return strings.TrimSpace(s.Text()), true
}

func (s *lineScanner) errorf(format string, v ...interface{}) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformed, s.line, fmt.Sprintf(format, v...))
}

// parseXYZ reads three float fields. A missing third field is taken as 0 so
// planar meshes still yield points.
func parseXYZ(fields []string) (points.Point, error) {
	if len(fields) < 2 {
		return points.Point{}, fmt.Errorf("expected at least 2 coordinates, got %d", len(fields))
	}
	var c [3]float64
	for i := 0; i < 3 && i < len(fields); i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return points.Point{}, fmt.Errorf("coordinate %d: %v", i, err)
		}
		c[i] = v
	}
	return points.Point{X: c[0], Y: c[1], Z: c[2]}, nil
}

// splitFields splits on whitespace and commas.
func splitFields(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}
