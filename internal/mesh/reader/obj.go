package reader

import (
	"io"
	"strings"

	"github.com/banshee-data/meshpca/internal/points"
)

// parseOBJ reads the geometric vertices ("v x y z [w]") of a Wavefront file.
func parseOBJ(r io.Reader) (points.Set, error) {
	s := newLineScanner(r)
	var out points.Set
	for {
		line, ok := s.next()
		if !ok {
			break
		}
		f := strings.Fields(line)
		if len(f) == 0 || f[0] != "v" {
			continue
		}
		if len(f) < 4 {
			return nil, s.errorf("obj: vertex %q", line)
		}
		p, err := parseXYZ(f[1:4])
		if err != nil {
			return nil, s.errorf("obj: %v", err)
		}
		out = append(out, p)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
