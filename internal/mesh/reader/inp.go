package reader

import (
	"io"
	"strings"

	"github.com/banshee-data/meshpca/internal/points"
)

// parseINP collects the nodes of every *NODE section in an Abaqus input file.
// Data lines are "id, x, y[, z]"; "**" lines are comments.
func parseINP(r io.Reader) (points.Set, error) {
	s := newLineScanner(r)
	var out points.Set
	inNodes := false
	sawSection := false

	for {
		line, ok := s.next()
		if !ok {
			break
		}
		if line == "" || strings.HasPrefix(line, "**") {
			continue
		}
		if strings.HasPrefix(line, "*") {
			keyword := strings.ToUpper(strings.TrimSpace(strings.SplitN(line[1:], ",", 2)[0]))
			inNodes = keyword == "NODE"
			sawSection = sawSection || inNodes
			continue
		}
		if !inNodes {
			continue
		}
		f := splitFields(line)
		if len(f) < 3 {
			return nil, s.errorf("inp: node line %q", line)
		}
		p, err := parseXYZ(f[1:])
		if err != nil {
			return nil, s.errorf("inp: %v", err)
		}
		out = append(out, p)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if !sawSection {
		return nil, s.errorf("inp: no *NODE section")
	}
	return out, nil
}
