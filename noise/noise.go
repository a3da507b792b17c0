// Package noise provides random noise sources for state-space models. The
// sources double as density evaluators so the same object can drive both a
// proposal sampler and its importance weight.
package noise

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Gaussian is multivariate Gaussian noise
type Gaussian struct {
	// mean is the noise mean
	mean []float64
	// cov is the noise covariance matrix
	cov *mat.SymDense
	// dist samples and evaluates the distribution
	dist *distmv.Normal
}

// NewGaussian creates new Gaussian noise with given mean and covariance,
// drawing from src. It returns error if the dimensions of mean and cov do
// not match or if cov is not positive definite.
func NewGaussian(mean []float64, cov mat.Symmetric, src rand.Source) (*Gaussian, error) {
	if len(mean) != cov.SymmetricDim() {
		return nil, fmt.Errorf("invalid noise dimensions: mean %d, cov %d", len(mean), cov.SymmetricDim())
	}

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	m := make([]float64, len(mean))
	copy(m, mean)

	dist, ok := distmv.NewNormal(m, c, src)
	if !ok {
		return nil, fmt.Errorf("covariance matrix is not positive definite")
	}

	return &Gaussian{
		mean: m,
		cov:  c,
		dist: dist,
	}, nil
}

// Sample returns a random draw from the noise distribution
func (g *Gaussian) Sample() mat.Vector {
	x := g.dist.Rand(nil)

	return mat.NewVecDense(len(x), x)
}

// LogProb evaluates the log density of the noise distribution at x
func (g *Gaussian) LogProb(x mat.Vector) float64 {
	v := make([]float64, x.Len())
	for i := range v {
		v[i] = x.AtVec(i)
	}

	return g.dist.LogProb(v)
}

// Mean returns the noise mean
func (g *Gaussian) Mean() []float64 {
	m := make([]float64, len(g.mean))
	copy(m, g.mean)

	return m
}

// Cov returns the noise covariance matrix
func (g *Gaussian) Cov() mat.Symmetric {
	c := mat.NewSymDense(g.cov.SymmetricDim(), nil)
	c.CopySym(g.cov)

	return c
}

// Reset re-seeds the noise source so the sample stream restarts from src.
// The stored covariance was validated at construction, so re-factorization
// cannot fail; the prior distribution is kept if it ever does.
func (g *Gaussian) Reset(src rand.Source) {
	if dist, ok := distmv.NewNormal(g.mean, g.cov, src); ok {
		g.dist = dist
	}
}
