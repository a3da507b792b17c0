package particle

import (
	rbpf "github.com/marco-hrlic/go-rbpf"
	"gonum.org/v1/gonum/mat"
)

// Filter is the common interface of the Rao-Blackwellized particle filter
// variants. Both the HMM and the Kalman variant satisfy it.
type Filter interface {
	// Filter advances the ensemble by one observation and caches the
	// Rao-Blackwellized expectations of the functionals
	Filter(y mat.Vector, fs []rbpf.Functional) error
	// LogCondLike returns the latest marginal likelihood increment
	LogCondLike() float64
	// Expectations returns the expectations cached by the latest step
	Expectations() []mat.Matrix
	// Weights returns the normalized particle weights
	Weights() mat.Vector
	// State returns the ensemble lifecycle state
	State() rbpf.State
	// Time returns the number of observations processed so far
	Time() int
	// Reset reinitializes the filter for a new run
	Reset()
}
