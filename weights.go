package rbpf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// logMeanExp returns log( (1/n) * sum_i exp(logw[i]) )
func logMeanExp(logw []float64) float64 {
	return floats.LogSumExp(logw) - math.Log(float64(len(logw)))
}

// allZero reports whether every weight in logw carries zero probability mass
func allZero(logw []float64) bool {
	return math.IsInf(floats.Max(logw), -1)
}

// checkVec validates a vector returned by a model callback. The expected
// dimension is latched on first use and enforced afterwards; NaN entries are
// fatal model errors.
func checkVec(v mat.Vector, dim *int, what string) error {
	if v == nil || v.Len() == 0 {
		return fmt.Errorf("%s: invalid vector: %v", what, v)
	}

	if *dim == 0 {
		*dim = v.Len()
	} else if v.Len() != *dim {
		return fmt.Errorf("%s: invalid dimension: %d, want %d", what, v.Len(), *dim)
	}

	for i := 0; i < v.Len(); i++ {
		if math.IsNaN(v.AtVec(i)) {
			return fmt.Errorf("%s: NaN at index %d", what, i)
		}
	}

	return nil
}

// expectations averages each functional against the weighted ensemble. The
// belief argument resolves particle i to the sufficient statistic of its
// inner filter. Weights are exponentiated only after subtracting their
// maximum, so any common shift of logw leaves the result unchanged.
func expectations(fs []Functional, belief func(i int) mat.Vector, samples []*mat.VecDense, logw []float64) ([]*mat.Dense, error) {
	if len(fs) == 0 {
		return nil, nil
	}

	m := floats.Max(logw)
	if math.IsInf(m, -1) {
		return nil, ErrDegenerate
	}

	w := make([]float64, len(logw))
	var denom float64
	for i, lw := range logw {
		w[i] = math.Exp(lw - m)
		denom += w[i]
	}

	out := make([]*mat.Dense, len(fs))
	for k, h := range fs {
		var numer *mat.Dense
		var rows, cols int
		tmp := &mat.Dense{}

		for i := range samples {
			if w[i] == 0 {
				continue
			}

			hv := h(belief(i), samples[i])
			r, c := hv.Dims()
			if numer == nil {
				rows, cols = r, c
				numer = mat.NewDense(r, c, nil)
			} else if r != rows || c != cols {
				return nil, fmt.Errorf("functional %d: output shape changed from [%d x %d] to [%d x %d]", k, rows, cols, r, c)
			}

			tmp.Scale(w[i], hv)
			numer.Add(numer, tmp)
		}

		numer.Scale(1.0/denom, numer)
		if hasNaN(numer) {
			return nil, fmt.Errorf("functional %d produced NaN", k)
		}
		out[k] = numer
	}

	return out, nil
}

// normWeights returns the normalized weights exp(logw - logsumexp(logw)).
// A degenerate slice yields all zeros.
func normWeights(logw []float64) mat.Vector {
	w := mat.NewVecDense(len(logw), nil)

	total := floats.LogSumExp(logw)
	if math.IsInf(total, -1) {
		return w
	}

	for i, lw := range logw {
		w.SetVec(i, math.Exp(lw-total))
	}

	return w
}

// hasNaN reports whether m contains a NaN entry
func hasNaN(m mat.Matrix) bool {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if math.IsNaN(m.At(i, j)) {
				return true
			}
		}
	}

	return false
}
