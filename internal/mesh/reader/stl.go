package reader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/banshee-data/meshpca/internal/points"
)

const (
	stlHeaderSize = 80
	stlRecordSize = 50 // normal + 3 vertices (12 float32) + uint16 attribute
)

// parseSTL reads binary or ASCII STL. Facets share vertices, so the result is
// the list of distinct vertices in first-seen order.
func parseSTL(r io.Reader) (points.Set, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if isBinarySTL(data) {
		return decodeBinarySTL(data)
	}
	if bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("solid")) {
		return decodeASCIISTL(bytes.NewReader(data))
	}
	return nil, fmt.Errorf("%w: stl: neither binary nor ASCII (%d bytes)", ErrMalformed, len(data))
}

// isBinarySTL checks the triangle count against the payload size. ASCII files
// also start with "solid", so the header text alone cannot decide.
func isBinarySTL(data []byte) bool {
	if len(data) < stlHeaderSize+4 {
		return false
	}
	n := binary.LittleEndian.Uint32(data[stlHeaderSize : stlHeaderSize+4])
	return uint64(len(data)) == uint64(stlHeaderSize+4)+uint64(n)*stlRecordSize
}

func decodeBinarySTL(data []byte) (points.Set, error) {
	count := binary.LittleEndian.Uint32(data[stlHeaderSize : stlHeaderSize+4])
	body := data[stlHeaderSize+4:]

	d := newDedup(int(count) * 3)
	for i := 0; i < int(count); i++ {
		rec := body[i*stlRecordSize : (i+1)*stlRecordSize]
		// first 12 bytes are the facet normal
		for v := 0; v < 3; v++ {
			off := 12 + v*12
			d.add(points.Point{
				X: float64(toFloat32(rec[off : off+4])),
				Y: float64(toFloat32(rec[off+4 : off+8])),
				Z: float64(toFloat32(rec[off+8 : off+12])),
			})
		}
	}
	return d.set, nil
}

func decodeASCIISTL(r io.Reader) (points.Set, error) {
	s := newLineScanner(r)
	d := newDedup(0)
	for {
		line, ok := s.next()
		if !ok {
			break
		}
		if !strings.HasPrefix(line, "vertex") {
			continue
		}
		p, err := parseXYZ(strings.Fields(line)[1:])
		if err != nil {
			return nil, s.errorf("stl vertex: %v", err)
		}
		d.add(p)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return d.set, nil
}

func toFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

type dedup struct {
	seen map[points.Point]struct{}
	set  points.Set
}

func newDedup(capacity int) *dedup {
	return &dedup{
		seen: make(map[points.Point]struct{}, capacity),
		set:  make(points.Set, 0, capacity),
	}
}

func (d *dedup) add(p points.Point) {
	if _, ok := d.seen[p]; ok {
		return
	}
	d.seen[p] = struct{}{}
	d.set = append(d.set, p)
}
