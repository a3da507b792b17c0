// Package hmm implements the closed-form discrete forward filter tracked
// inside each particle of a Rao-Blackwellized particle filter. The filter
// maintains the conditional belief over a finite latent state together with
// the log conditional likelihood of the most recent observation.
package hmm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrZeroEvidence is returned by Advance when the observation is impossible
// under every latent state. The filter belief is left unchanged and the log
// conditional likelihood is pinned at -Inf.
var ErrZeroEvidence = errors.New("zero evidence: observation impossible under every state")

// probTol is the tolerance used when validating probability sums
const probTol = 1e-9

// Filter is a discrete forward filter over a finite latent state
type Filter struct {
	// pi is the filtered belief over the latent states
	pi *mat.VecDense
	// trans is the row-stochastic transition matrix
	trans *mat.Dense
	// logCondLike is the log conditional likelihood of the latest observation
	logCondLike float64
}

// New creates new HMM Filter with initial belief pi0 and transition matrix trans.
// Element (i,j) of trans is the probability of transitioning from state i to state j.
// It returns error if either of the following conditions is met:
//   - pi0 is empty, contains negative entries or does not sum to 1
//   - trans is not a square row-stochastic matrix matching the belief dimension
func New(pi0 mat.Vector, trans mat.Matrix) (*Filter, error) {
	if pi0 == nil || pi0.Len() == 0 {
		return nil, fmt.Errorf("invalid initial belief: %v", pi0)
	}
	n := pi0.Len()

	rows, cols := trans.Dims()
	if rows != n || cols != n {
		return nil, fmt.Errorf("invalid transition matrix dimensions: [%d x %d], want [%d x %d]", rows, cols, n, n)
	}

	var sum float64
	for i := 0; i < n; i++ {
		v := pi0.AtVec(i)
		if v < 0 {
			return nil, fmt.Errorf("negative entry in initial belief: %v", v)
		}
		sum += v
	}
	if math.Abs(sum-1.0) > probTol {
		return nil, fmt.Errorf("initial belief sums to %v, want 1", sum)
	}

	for i := 0; i < rows; i++ {
		var rowSum float64
		for j := 0; j < cols; j++ {
			v := trans.At(i, j)
			if v < 0 {
				return nil, fmt.Errorf("negative entry in transition matrix row %d: %v", i, v)
			}
			rowSum += v
		}
		if math.Abs(rowSum-1.0) > probTol {
			return nil, fmt.Errorf("transition matrix row %d sums to %v, want 1", i, rowSum)
		}
	}

	pi := &mat.VecDense{}
	pi.CloneFromVec(pi0)

	t := &mat.Dense{}
	t.CloneFrom(trans)

	return &Filter{
		pi:    pi,
		trans: t,
	}, nil
}

// Advance runs one forward step of the filter given the emission log
// likelihoods of the latest observation: logEmission[k] = log p(y_t | state k).
// The predicted belief is combined with the emission terms in log domain and
// renormalized; the normalizing constant becomes the log conditional likelihood.
// It returns ErrZeroEvidence if the total evidence is zero.
func (f *Filter) Advance(logEmission []float64) error {
	n := f.pi.Len()
	if len(logEmission) != n {
		return fmt.Errorf("invalid emission vector length: %d, want %d", len(logEmission), n)
	}

	// predicted belief: trans' * pi
	pred := mat.NewVecDense(n, nil)
	pred.MulVec(f.trans.T(), f.pi)

	logU := make([]float64, n)
	for k := 0; k < n; k++ {
		if math.IsNaN(logEmission[k]) {
			return fmt.Errorf("NaN emission log likelihood for state %d", k)
		}
		logU[k] = math.Log(pred.AtVec(k)) + logEmission[k]
	}

	logC := floats.LogSumExp(logU)
	if math.IsInf(logC, -1) {
		f.logCondLike = math.Inf(-1)
		return ErrZeroEvidence
	}

	for k := 0; k < n; k++ {
		f.pi.SetVec(k, math.Exp(logU[k]-logC))
	}
	f.logCondLike = logC

	return nil
}

// Belief returns the filtered belief over the latent states
func (f *Filter) Belief() mat.Vector {
	pi := &mat.VecDense{}
	pi.CloneFromVec(f.pi)

	return pi
}

// TransMat returns the state transition matrix
func (f *Filter) TransMat() mat.Matrix {
	t := &mat.Dense{}
	t.CloneFrom(f.trans)

	return t
}

// LogCondLike returns the log conditional likelihood of the latest observation
func (f *Filter) LogCondLike() float64 {
	return f.logCondLike
}

// Dim returns the number of latent states
func (f *Filter) Dim() int {
	return f.pi.Len()
}

// Clone returns a deep copy of the filter which shares no state with f
func (f *Filter) Clone() *Filter {
	pi := &mat.VecDense{}
	pi.CloneFromVec(f.pi)

	t := &mat.Dense{}
	t.CloneFrom(f.trans)

	return &Filter{
		pi:          pi,
		trans:       t,
		logCondLike: f.logCondLike,
	}
}
