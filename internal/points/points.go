// Package points holds the point-cloud types shared by the readers, the
// balancer and the PCA stage.
package points

import "fmt"

// Point is a cartesian node or vertex coordinate.
type Point struct {
	X, Y, Z float64
}

// String formats the point the way the ASC export writes it.
func (p Point) String() string {
	return fmt.Sprintf("%.6f %.6f %.6f", p.X, p.Y, p.Z)
}

// Set is an ordered list of points read from one geometry or mesh file.
// A Set is produced fresh by every read; nothing caches it.
type Set []Point

// Len returns the number of points.
func (s Set) Len() int { return len(s) }

// Last returns the final point. It panics on an empty set.
func (s Set) Last() Point { return s[len(s)-1] }

// Clone returns a copy that does not share backing storage with s.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	copy(out, s)
	return out
}

// Contains reports whether p appears in s with exactly equal coordinates.
func (s Set) Contains(p Point) bool {
	for _, q := range s {
		if q == p {
			return true
		}
	}
	return false
}

// Flatten returns x0 y0 z0 x1 y1 z1 ... as a single row.
func (s Set) Flatten() []float64 {
	out := make([]float64, 0, 3*len(s))
	for _, p := range s {
		out = append(out, p.X, p.Y, p.Z)
	}
	return out
}

// Bounds returns the axis-aligned min and max corners. ok is false for an
// empty set.
func (s Set) Bounds() (min, max Point, ok bool) {
	if len(s) == 0 {
		return Point{}, Point{}, false
	}
	min, max = s[0], s[0]
	for _, p := range s[1:] {
		if p.X < min.X {
			min.X = p.X
		}
		if p.Y < min.Y {
			min.Y = p.Y
		}
		if p.Z < min.Z {
			min.Z = p.Z
		}
		if p.X > max.X {
			max.X = p.X
		}
		if p.Y > max.Y {
			max.Y = p.Y
		}
		if p.Z > max.Z {
			max.Z = p.Z
		}
	}
	return min, max, true
}
