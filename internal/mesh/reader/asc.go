package reader

import (
	"io"
	"strings"

	"github.com/banshee-data/meshpca/internal/points"
)

// parseASC reads CloudCompare-style "X Y Z [extra...]" lines. Lines starting
// with '#' or '//' are comments; extra columns are ignored.
func parseASC(r io.Reader) (points.Set, error) {
	s := newLineScanner(r)
	var out points.Set
	for {
		line, ok := s.next()
		if !ok {
			break
		}
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		f := splitFields(line)
		if len(f) < 3 {
			return nil, s.errorf("asc: expected X Y Z, got %q", line)
		}
		p, err := parseXYZ(f[:3])
		if err != nil {
			return nil, s.errorf("asc: %v", err)
		}
		out = append(out, p)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
