// Package rbpf implements Rao-Blackwellized (marginal) particle filters for
// partially-tractable state-space models. The state is split into a sampled
// component, approximated by a weighted particle ensemble, and a marginalized
// component whose conditional posterior is tracked in closed form by one
// inner filter per particle: a discrete HMM (cf/hmm) or a linear-Gaussian
// Kalman filter (cf/kalman).
//
// The user supplies the model as a capability set of callbacks covering the
// proposal, transition and prior densities of the sampled component plus the
// construction and per-step update of the inner filters. All densities are
// exchanged in natural-log domain; -Inf denotes impossibility.
package rbpf

import (
	"errors"
	"fmt"
	"math"

	"github.com/marco-hrlic/go-rbpf/cf/hmm"
	"github.com/marco-hrlic/go-rbpf/cf/kalman"
	"github.com/pion/logging"
	"gonum.org/v1/gonum/mat"
)

// NeverResample disables the resampling schedule when used as Config.ResamplePeriod
const NeverResample = math.MaxInt

// ErrDegenerate is returned by Filter once every particle weight has
// collapsed to zero. The condition is terminal until Reset is called.
var ErrDegenerate = errors.New("degenerate ensemble: all particle weights are zero")

// State is the lifecycle state of a filter ensemble
type State uint8

const (
	// Fresh means the ensemble has not processed an observation yet
	Fresh State = iota
	// Active means the ensemble is initialized and filtering
	Active
	// Degenerate means every particle weight has collapsed to zero
	Degenerate
)

// String implements the Stringer interface
func (s State) String() string {
	switch s {
	case Fresh:
		return "Fresh"
	case Active:
		return "Active"
	case Degenerate:
		return "Degenerate"
	}

	return "Unknown"
}

// Functional computes h(x1 belief, x2) for one particle. The belief argument
// is the sufficient statistic of the particle's inner filter: the filtered
// probability vector for the HMM variant, the filtered mean for the Kalman
// variant. The output shape must be the same for every particle and every
// call; the filter averages the outputs against the normalized weights to
// yield the Rao-Blackwellized expectation E[h(x1, x2) | y_1:t].
type Functional func(belief, x2 mat.Vector) mat.Matrix

// Resampler selects ancestor indices for a particle ensemble
type Resampler interface {
	// Indices fills idx with ancestor indices drawn with probability
	// proportional to exp(logw). The scale of logw carries no meaning.
	Indices(logw []float64, idx []int) error
}

// HMMModel is the capability set a Rao-Blackwellized particle filter with
// inner HMM filters requires from the user model. Densities are returned in
// natural-log domain; NaN is treated as a fatal model error.
type HMMModel interface {
	// Q1Sample samples the sampled state component at time 1 from the initial proposal
	Q1Sample(y1 mat.Vector) mat.Vector
	// LogMu evaluates the log prior density of the sampled component at time 1
	LogMu(x21 mat.Vector) float64
	// LogQ1 evaluates the log density of the initial proposal
	LogQ1(x21, y1 mat.Vector) float64
	// QSample proposes the sampled state component at time t
	QSample(x2prev, yt mat.Vector) mat.Vector
	// LogF evaluates the log transition density of the sampled component
	LogF(x2, x2prev mat.Vector) float64
	// LogQ evaluates the log density of the proposal at time t
	LogQ(x2, x2prev, yt mat.Vector) float64
	// InitFilter builds the inner HMM filter conditioned on the first sampled component
	InitFilter(x21 mat.Vector) (*hmm.Filter, error)
	// UpdateFilter advances the inner HMM filter given the latest observation
	// and sampled component. Zero-evidence errors from the inner filter must
	// be passed through unmodified so the engine can classify them.
	UpdateFilter(f *hmm.Filter, yt, x2 mat.Vector) error
}

// KalmanModel is the capability set a Rao-Blackwellized particle filter with
// inner Kalman filters requires from the user model. Densities are returned
// in natural-log domain; NaN is treated as a fatal model error.
type KalmanModel interface {
	// Q1Sample samples the sampled state component at time 1 from the initial proposal
	Q1Sample(y1 mat.Vector) mat.Vector
	// LogMu evaluates the log prior density of the sampled component at time 1
	LogMu(x21 mat.Vector) float64
	// LogQ1 evaluates the log density of the initial proposal
	LogQ1(x21, y1 mat.Vector) float64
	// QSample proposes the sampled state component at time t
	QSample(x2prev, yt mat.Vector) mat.Vector
	// LogF evaluates the log transition density of the sampled component
	LogF(x2, x2prev mat.Vector) float64
	// LogQ evaluates the log density of the proposal at time t
	LogQ(x2, x2prev, yt mat.Vector) float64
	// InitFilter builds the inner Kalman filter conditioned on the first sampled component
	InitFilter(x21 mat.Vector) (*kalman.Filter, error)
	// UpdateFilter advances the inner Kalman filter given the latest
	// observation and sampled component. Factorization errors from the inner
	// filter must be passed through unmodified so the engine can classify them.
	UpdateFilter(f *kalman.Filter, yt, x2 mat.Vector) error
}

// Config is particle filter configuration
type Config struct {
	// Particles is the ensemble size
	Particles int
	// ResamplePeriod triggers resampling once every ResamplePeriod
	// observations; NeverResample disables resampling altogether
	ResamplePeriod int
	// Resampler selects ancestor indices during resampling
	Resampler Resampler
	// Log overrides the default filter logger
	Log logging.LeveledLogger
}

// validate checks the configuration for structural faults
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("nil config")
	}

	if c.Particles <= 0 {
		return fmt.Errorf("invalid particle count: %d", c.Particles)
	}

	if c.ResamplePeriod < 1 {
		return fmt.Errorf("invalid resampling period: %d", c.ResamplePeriod)
	}

	if c.Resampler == nil {
		return fmt.Errorf("nil resampler")
	}

	return nil
}

// logger returns the configured logger or the package default
func (c *Config) logger() logging.LeveledLogger {
	if c.Log != nil {
		return c.Log
	}

	return logging.NewDefaultLoggerFactory().NewLogger("rbpf")
}
