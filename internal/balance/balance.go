// Package balance pads point sets so every member of a collection has the
// same number of points and the collection can be stacked into a matrix.
package balance

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/banshee-data/meshpca/internal/fsutil"
	"github.com/banshee-data/meshpca/internal/mesh"
	"github.com/banshee-data/meshpca/internal/monitoring"
	"github.com/banshee-data/meshpca/internal/points"
)

// Policy names accepted by PolicyByName.
const (
	PolicyDuplicateLast  = "duplicate-last"
	PolicyRandomResample = "random-resample"
)

var (
	// ErrEmptyCollection is returned when there is nothing to balance; the
	// maximum of zero counts is undefined.
	ErrEmptyCollection = errors.New("balance: empty collection")

	// ErrEmptyPointSet is returned when a set needs padding but has no points
	// to pad from.
	ErrEmptyPointSet = errors.New("balance: cannot pad an empty point set")
)

// Padder produces the synthetic tail appended to a short point set. Pad must
// not modify pts and must return exactly missing points.
type Padder interface {
	Pad(pts points.Set, missing int) points.Set
	Name() string
}

// DuplicateLast repeats the final point.
type DuplicateLast struct{}

func (DuplicateLast) Name() string { return PolicyDuplicateLast }

func (DuplicateLast) Pad(pts points.Set, missing int) points.Set {
	last := pts.Last()
	tail := make(points.Set, missing)
	for i := range tail {
		tail[i] = last
	}
	return tail
}

// RandomResample draws uniformly, with replacement, from the set's own points.
type RandomResample struct {
	Rand *rand.Rand
}

// NewRandomResample returns a RandomResample seeded with seed.
func NewRandomResample(seed int64) *RandomResample {
	return &RandomResample{Rand: rand.New(rand.NewSource(seed))}
}

func (*RandomResample) Name() string { return PolicyRandomResample }

func (r *RandomResample) Pad(pts points.Set, missing int) points.Set {
	if r.Rand == nil {
		r.Rand = rand.New(rand.NewSource(1))
	}
	tail := make(points.Set, missing)
	for i := range tail {
		tail[i] = pts[r.Rand.Intn(len(pts))]
	}
	return tail
}

// PolicyByName returns the padder for name. seed only affects random-resample.
func PolicyByName(name string, seed int64) (Padder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyDuplicateLast:
		return DuplicateLast{}, nil
	case PolicyRandomResample:
		return NewRandomResample(seed), nil
	}
	return nil, fmt.Errorf("unknown padding policy %q (want %s or %s)", name, PolicyDuplicateLast, PolicyRandomResample)
}

// Counts returns len of each set.
func Counts(sets []points.Set) []int {
	out := make([]int, len(sets))
	for i, s := range sets {
		out[i] = len(s)
	}
	return out
}

// MaxCount returns the largest count. It fails on an empty collection.
func MaxCount(sets []points.Set) (int, error) {
	if len(sets) == 0 {
		return 0, ErrEmptyCollection
	}
	m := len(sets[0])
	for _, s := range sets[1:] {
		if len(s) > m {
			m = len(s)
		}
	}
	return m, nil
}

// Balance pads every set shorter than the collection maximum. Sets already at
// the maximum are returned as-is; padded sets are new slices whose prefix is
// the original points.
func Balance(sets []points.Set, p Padder) ([]points.Set, error) {
	if p == nil {
		p = DuplicateLast{}
	}
	target, err := MaxCount(sets)
	if err != nil {
		return nil, err
	}

	out := make([]points.Set, len(sets))
	for i, s := range sets {
		missing := target - len(s)
		if missing == 0 {
			out[i] = s
			continue
		}
		if len(s) == 0 {
			return nil, fmt.Errorf("%w: set %d needs %d points", ErrEmptyPointSet, i, missing)
		}
		tail := p.Pad(s, missing)
		if len(tail) != missing {
			return nil, fmt.Errorf("balance: %s returned %d points for set %d, want %d", p.Name(), len(tail), i, missing)
		}
		padded := make(points.Set, 0, target)
		padded = append(padded, s...)
		padded = append(padded, tail...)
		out[i] = padded
		monitoring.Debugf("balance: set %d padded %d -> %d (%s)", i, len(s), target, p.Name())
	}
	return out, nil
}

// Collection is a read and balanced group of entities.
type Collection struct {
	Entities []mesh.Entity
	Original []points.Set
	Balanced []points.Set
	Policy   string
}

// OriginalCounts returns the point count of each entity before padding.
func (c *Collection) OriginalCounts() []int { return Counts(c.Original) }

// BalancedCounts returns the point count of each entity after padding.
func (c *Collection) BalancedCounts() []int { return Counts(c.Balanced) }

// BalanceEntities reads every entity in order and balances the result. The
// first read failure stops the collection and is returned unchanged.
func BalanceEntities(entities []mesh.Entity, fsys fsutil.FileSystem, p Padder) (*Collection, error) {
	if len(entities) == 0 {
		return nil, ErrEmptyCollection
	}
	if p == nil {
		p = DuplicateLast{}
	}

	original := make([]points.Set, len(entities))
	for i, e := range entities {
		pts, err := e.ReadPoints(fsys)
		if err != nil {
			return nil, err
		}
		original[i] = pts
	}

	balanced, err := Balance(original, p)
	if err != nil {
		return nil, err
	}
	target, _ := MaxCount(original)
	monitoring.Logf("balance: %d entities, counts %v -> %d each (%s)", len(entities), Counts(original), target, p.Name())

	return &Collection{
		Entities: entities,
		Original: original,
		Balanced: balanced,
		Policy:   p.Name(),
	}, nil
}
