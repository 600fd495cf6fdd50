// Package pca stacks balanced point sets into a samples-by-features matrix
// and fits a principal component analysis with gonum.
package pca

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/meshpca/internal/points"
)

var (
	// ErrShapeMismatch is returned when the data cannot form the requested
	// rectangular matrix.
	ErrShapeMismatch = errors.New("pca: shape mismatch")

	// ErrTooFewSamples is returned when fewer than two rows are supplied.
	ErrTooFewSamples = errors.New("pca: need at least two samples")

	// ErrDecomposition is returned when the SVD fails to converge.
	ErrDecomposition = errors.New("pca: decomposition failed")
)

// Stack returns one row per set, each row the flattened x0 y0 z0 x1 ...
// coordinates. All sets must have the same, non-zero length.
func Stack(sets []points.Set) (*mat.Dense, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: no point sets to stack", ErrShapeMismatch)
	}
	n := len(sets[0])
	if n == 0 {
		return nil, fmt.Errorf("%w: point sets are empty", ErrShapeMismatch)
	}
	cols := 3 * n
	data := make([]float64, 0, len(sets)*cols)
	for i, s := range sets {
		if len(s) != n {
			return nil, fmt.Errorf("%w: set %d has %d points, set 0 has %d (balance first)", ErrShapeMismatch, i, len(s), n)
		}
		data = append(data, s.Flatten()...)
	}
	return mat.NewDense(len(sets), cols, data), nil
}

// Reshape returns the row-major elements of m laid out as rows×cols.
func Reshape(m mat.Matrix, rows, cols int) (*mat.Dense, error) {
	r, c := m.Dims()
	if rows <= 0 || cols <= 0 || rows*cols != r*c {
		return nil, fmt.Errorf("%w: cannot reshape %dx%d into %dx%d", ErrShapeMismatch, r, c, rows, cols)
	}
	src := mat.DenseCopyOf(m)
	return mat.NewDense(rows, cols, src.RawMatrix().Data), nil
}

// Result holds a fitted PCA. Variances use the n-1 divisor; ratios are
// relative to the total variance over all components, not just the kept ones.
type Result struct {
	Samples                int
	Features               int
	Components             int
	Mean                   []float64
	ExplainedVariance      []float64
	ExplainedVarianceRatio []float64
	SingularValues         []float64
	// Vectors is features×components; column j is the j-th principal axis.
	Vectors *mat.Dense
}

// Fit computes the first components principal components of x, whose rows
// are samples.
func Fit(x mat.Matrix, components int) (*Result, error) {
	n, d := x.Dims()
	if n < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewSamples, n)
	}
	limit := n
	if d < limit {
		limit = d
	}
	if components < 1 || components > limit {
		return nil, fmt.Errorf("pca: components must be in [1, %d], got %d", limit, components)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, ErrDecomposition
	}
	vars := pc.VarsTo(nil)
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	total := floats.Sum(vars)
	res := &Result{
		Samples:                n,
		Features:               d,
		Components:             components,
		Mean:                   columnMeans(x),
		ExplainedVariance:      make([]float64, components),
		ExplainedVarianceRatio: make([]float64, components),
		SingularValues:         make([]float64, components),
		Vectors:                mat.DenseCopyOf(vecs.Slice(0, d, 0, components)),
	}
	for i := 0; i < components; i++ {
		v := vars[i]
		if v < 0 {
			v = 0 // rounding on rank-deficient data
		}
		res.ExplainedVariance[i] = v
		if total > 0 {
			res.ExplainedVarianceRatio[i] = v / total
		}
		res.SingularValues[i] = math.Sqrt(v * float64(n-1))
	}
	return res, nil
}

// CumulativeRatio returns the running sum of ExplainedVarianceRatio.
func (r *Result) CumulativeRatio() []float64 {
	out := make([]float64, len(r.ExplainedVarianceRatio))
	floats.CumSum(out, r.ExplainedVarianceRatio)
	return out
}

// Transform projects the rows of x onto the principal axes.
func (r *Result) Transform(x mat.Matrix) (*mat.Dense, error) {
	n, d := x.Dims()
	if d != r.Features {
		return nil, fmt.Errorf("%w: model has %d features, input has %d", ErrShapeMismatch, r.Features, d)
	}
	centered := mat.DenseCopyOf(x)
	for i := 0; i < n; i++ {
		row := centered.RawRowView(i)
		floats.Sub(row, r.Mean)
	}
	var out mat.Dense
	out.Mul(centered, r.Vectors)
	return &out, nil
}

func columnMeans(x mat.Matrix) []float64 {
	_, d := x.Dims()
	means := make([]float64, d)
	for j := range means {
		means[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}
	return means
}
