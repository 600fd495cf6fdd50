package reader

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/meshpca/internal/points"
)

// maxPrealloc bounds the capacity taken from a header node count.
const maxPrealloc = 1 << 16

// parseMSH reads the $Nodes section of an ASCII gmsh file, format 2.2, 4.0
// or 4.1. Nodes are returned in file order; node tags are not kept.
func parseMSH(r io.Reader) (points.Set, error) {
	s := newLineScanner(r)
	version := 2.2

	for {
		line, ok := s.next()
		if !ok {
			break
		}
		switch line {
		case "$MeshFormat":
			hdr, ok := s.next()
			if !ok {
				return nil, s.errorf("msh: truncated $MeshFormat")
			}
			f := strings.Fields(hdr)
			if len(f) < 2 {
				return nil, s.errorf("msh: bad format line %q", hdr)
			}
			v, err := strconv.ParseFloat(f[0], 64)
			if err != nil {
				return nil, s.errorf("msh: version %q: %v", f[0], err)
			}
			if f[1] != "0" {
				return nil, fmt.Errorf("%w: binary gmsh files are not supported", ErrUnsupportedFormat)
			}
			version = v
		case "$Nodes":
			switch {
			case version >= 4.1:
				return readNodesV4(s, false)
			case version >= 4:
				return readNodesV4(s, true)
			}
			return readNodesV2(s)
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return nil, s.errorf("msh: no $Nodes section")
}

func readNodesV2(s *lineScanner) (points.Set, error) {
	hdr, ok := s.next()
	if !ok {
		return nil, s.errorf("msh: truncated $Nodes")
	}
	n, err := strconv.Atoi(hdr)
	if err != nil || n < 0 {
		return nil, s.errorf("msh: node count %q", hdr)
	}

	out := make(points.Set, 0, min(n, maxPrealloc))
	for i := 0; i < n; i++ {
		line, ok := s.next()
		if !ok {
			return nil, s.errorf("msh: expected %d nodes, got %d", n, i)
		}
		f := strings.Fields(line)
		if len(f) < 4 {
			return nil, s.errorf("msh: node line %q", line)
		}
		p, err := parseXYZ(f[1:4])
		if err != nil {
			return nil, s.errorf("msh: %v", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// readNodesV4 reads 4.x node blocks. Format 4.0 writes "tag x y z" per
// line; 4.1 lists all tags of a block before its coordinates.
func readNodesV4(s *lineScanner, inline bool) (points.Set, error) {
	hdr, ok := s.next()
	if !ok {
		return nil, s.errorf("msh: truncated $Nodes")
	}
	h := strings.Fields(hdr)
	if len(h) < 2 {
		return nil, s.errorf("msh: nodes header %q", hdr)
	}
	blocks, err1 := strconv.Atoi(h[0])
	total, err2 := strconv.Atoi(h[1])
	if err1 != nil || err2 != nil || blocks < 0 || total < 0 {
		return nil, s.errorf("msh: nodes header %q", hdr)
	}

	out := make(points.Set, 0, min(total, maxPrealloc))
	for b := 0; b < blocks; b++ {
		line, ok := s.next()
		if !ok {
			return nil, s.errorf("msh: expected %d node blocks, got %d", blocks, b)
		}
		f := strings.Fields(line)
		if len(f) < 4 {
			return nil, s.errorf("msh: block header %q", line)
		}
		count, err := strconv.Atoi(f[3])
		if err != nil || count < 0 {
			return nil, s.errorf("msh: block node count %q", f[3])
		}
		if inline {
			for i := 0; i < count; i++ {
				line, ok := s.next()
				if !ok {
					return nil, s.errorf("msh: truncated node lines")
				}
				f := strings.Fields(line)
				if len(f) < 4 {
					return nil, s.errorf("msh: node line %q", line)
				}
				p, err := parseXYZ(f[1:4])
				if err != nil {
					return nil, s.errorf("msh: %v", err)
				}
				out = append(out, p)
			}
			continue
		}
		for i := 0; i < count; i++ {
			if _, ok := s.next(); !ok {
				return nil, s.errorf("msh: truncated node tags")
			}
		}
		for i := 0; i < count; i++ {
			line, ok := s.next()
			if !ok {
				return nil, s.errorf("msh: truncated node coordinates")
			}
			p, err := parseXYZ(strings.Fields(line))
			if err != nil {
				return nil, s.errorf("msh: %v", err)
			}
			out = append(out, p)
		}
	}
	if len(out) != total {
		return nil, s.errorf("msh: header declares %d nodes, blocks hold %d", total, len(out))
	}
	return out, nil
}
