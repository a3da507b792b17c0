// Package kalman implements the closed-form linear-Gaussian filter tracked
// inside each particle of a Rao-Blackwellized particle filter. One Advance
// call performs a full predict-update cycle and records the log conditional
// likelihood of the observation under the predictive distribution.
package kalman

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveDefinite is returned by Advance when the innovation
// covariance cannot be factorized. The mean and covariance are left
// unchanged and the log conditional likelihood is pinned at -Inf.
var ErrNotPositiveDefinite = errors.New("innovation covariance is not positive definite")

var log2Pi = math.Log(2.0 * math.Pi)

// Filter is a linear-Gaussian conditional filter
type Filter struct {
	// mean is the filtered state mean
	mean *mat.VecDense
	// cov is the filtered state covariance
	cov *mat.SymDense
	// logCondLike is the log conditional likelihood of the latest observation
	logCondLike float64
}

// New creates new Kalman Filter with initial mean and covariance.
// It returns error if mean is empty or the covariance dimension does not
// match the mean dimension.
func New(mean mat.Vector, cov mat.Symmetric) (*Filter, error) {
	if mean == nil || mean.Len() == 0 {
		return nil, fmt.Errorf("invalid initial mean: %v", mean)
	}

	if cov.SymmetricDim() != mean.Len() {
		return nil, fmt.Errorf("invalid initial covariance dimension: %d, want %d", cov.SymmetricDim(), mean.Len())
	}

	m := &mat.VecDense{}
	m.CloneFromVec(mean)

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	return &Filter{
		mean: m,
		cov:  c,
	}, nil
}

// Advance performs one predict-update cycle for observation y under the step
// matrices f (state transition), q (process noise covariance), h (observation
// matrix) and r (observation noise covariance). The innovation covariance is
// factorized by Cholesky decomposition; neither an explicit inverse nor a
// determinant is ever formed. It returns ErrNotPositiveDefinite if the
// factorization fails.
func (k *Filter) Advance(y mat.Vector, f mat.Matrix, q mat.Symmetric, h mat.Matrix, r mat.Symmetric) error {
	n := k.mean.Len()
	ny := y.Len()

	if rows, cols := f.Dims(); rows != n || cols != n {
		return fmt.Errorf("invalid transition matrix dimensions: [%d x %d], want [%d x %d]", rows, cols, n, n)
	}
	if q.SymmetricDim() != n {
		return fmt.Errorf("invalid process noise dimension: %d, want %d", q.SymmetricDim(), n)
	}
	if rows, cols := h.Dims(); rows != ny || cols != n {
		return fmt.Errorf("invalid observation matrix dimensions: [%d x %d], want [%d x %d]", rows, cols, ny, n)
	}
	if r.SymmetricDim() != ny {
		return fmt.Errorf("invalid observation noise dimension: %d, want %d", r.SymmetricDim(), ny)
	}

	// predicted mean: f * mean
	predMean := mat.NewVecDense(n, nil)
	predMean.MulVec(f, k.mean)

	// predicted covariance: f * cov * f' + q
	fp := &mat.Dense{}
	fp.Mul(f, k.cov)
	predCov := &mat.Dense{}
	predCov.Mul(fp, f.T())
	predCov.Add(predCov, q)

	// innovation: y - h * predMean
	innov := mat.NewVecDense(ny, nil)
	innov.MulVec(h, predMean)
	innov.SubVec(y, innov)

	// innovation covariance: h * predCov * h' + r, symmetrized
	pht := &mat.Dense{}
	pht.Mul(predCov, h.T())
	sd := &mat.Dense{}
	sd.Mul(h, pht)
	sd.Add(sd, r)
	s := mat.NewSymDense(ny, nil)
	for i := 0; i < ny; i++ {
		for j := i; j < ny; j++ {
			s.SetSym(i, j, 0.5*(sd.At(i, j)+sd.At(j, i)))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(s); !ok {
		k.logCondLike = math.Inf(-1)
		return ErrNotPositiveDefinite
	}

	// gain: kg = predCov * h' * s^-1, solved as kg' = s^-1 * (predCov * h')'
	kgt := &mat.Dense{}
	if err := chol.SolveTo(kgt, pht.T()); err != nil {
		k.logCondLike = math.Inf(-1)
		return ErrNotPositiveDefinite
	}

	// log N(innov; 0, s) via the factorization
	alpha := mat.NewVecDense(ny, nil)
	if err := chol.SolveVecTo(alpha, innov); err != nil {
		k.logCondLike = math.Inf(-1)
		return ErrNotPositiveDefinite
	}
	k.logCondLike = -0.5 * (float64(ny)*log2Pi + chol.LogDet() + mat.Dot(innov, alpha))

	// corrected mean: predMean + kg * innov
	corr := mat.NewVecDense(n, nil)
	corr.MulVec(kgt.T(), innov)
	k.mean.AddVec(predMean, corr)

	// corrected covariance: (I - kg * h) * predCov, symmetrized
	kh := &mat.Dense{}
	kh.Mul(kgt.T(), h)
	ikh := &mat.Dense{}
	ikh.Sub(eye(n), kh)
	newCov := &mat.Dense{}
	newCov.Mul(ikh, predCov)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			k.cov.SetSym(i, j, 0.5*(newCov.At(i, j)+newCov.At(j, i)))
		}
	}

	return nil
}

// Mean returns the filtered state mean
func (k *Filter) Mean() mat.Vector {
	m := &mat.VecDense{}
	m.CloneFromVec(k.mean)

	return m
}

// Cov returns the filtered state covariance
func (k *Filter) Cov() mat.Symmetric {
	c := mat.NewSymDense(k.cov.SymmetricDim(), nil)
	c.CopySym(k.cov)

	return c
}

// LogCondLike returns the log conditional likelihood of the latest observation
func (k *Filter) LogCondLike() float64 {
	return k.logCondLike
}

// Dim returns the state dimension
func (k *Filter) Dim() int {
	return k.mean.Len()
}

// Clone returns a deep copy of the filter which shares no state with k
func (k *Filter) Clone() *Filter {
	m := &mat.VecDense{}
	m.CloneFromVec(k.mean)

	c := mat.NewSymDense(k.cov.SymmetricDim(), nil)
	c.CopySym(k.cov)

	return &Filter{
		mean:        m,
		cov:         c,
		logCondLike: k.logCondLike,
	}
}

// eye returns the n x n identity matrix
func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1.0)
	}

	return m
}
