package rbpf

import (
	"errors"
	"fmt"
	"math"

	"github.com/pion/logging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// innerFilter is the contract the engine needs from a closed-form filter
type innerFilter[F any] interface {
	// LogCondLike returns the log conditional likelihood of the latest observation
	LogCondLike() float64
	// Clone returns a deep copy sharing no state with the receiver
	Clone() F
}

// filterModel is the capability set shared by both filter variants,
// parameterized over the inner filter type. HMMModel and KalmanModel are its
// two instantiations.
type filterModel[F any] interface {
	Q1Sample(y1 mat.Vector) mat.Vector
	LogMu(x21 mat.Vector) float64
	LogQ1(x21, y1 mat.Vector) float64
	QSample(x2prev, yt mat.Vector) mat.Vector
	LogF(x2, x2prev mat.Vector) float64
	LogQ(x2, x2prev, yt mat.Vector) float64
	InitFilter(x21 mat.Vector) (F, error)
	UpdateFilter(f F, yt, x2 mat.Vector) error
}

// engine drives a particle ensemble whose marginalized state component is
// tracked by one closed-form filter per particle. The HMM and Kalman
// variants differ only in the inner filter type, the sufficient statistic
// fed to functionals and the inner filter error treated as a dropped
// particle.
type engine[F innerFilter[F]] struct {
	// model supplies the proposal, transition and prior densities
	model filterModel[F]
	// resampler selects ancestor indices
	resampler Resampler
	// rs is the resampling period
	rs int
	// now is the current time period
	now int
	// lastLogCondLike is log p(y_t | y_1:t-1), or log p(y1) after the first step
	lastLogCondLike float64
	// state is the ensemble lifecycle state
	state State
	// inner holds the per-particle closed-form filters
	inner []F
	// samples holds the per-particle sampled state components
	samples []*mat.VecDense
	// logW holds the unnormalized log importance weights
	logW []float64
	// exps caches the expectations computed by the latest Filter call
	exps []*mat.Dense
	// ancestors is scratch space for resampling
	ancestors []int
	// dimS is the sampled component dimension, latched on the first step
	dimS int
	// dimY is the observation dimension, latched on the first step
	dimY int
	// numFns is the functional count, latched on the first step
	numFns int
	// belief extracts the expectation sufficient statistic from an inner filter
	belief func(F) mat.Vector
	// dropped is the inner filter error downgraded to a -Inf particle weight
	dropped error

	log logging.LeveledLogger
}

// newEngine assembles an engine from a validated configuration
func newEngine[F innerFilter[F]](model filterModel[F], c *Config, belief func(F) mat.Vector, dropped error) engine[F] {
	n := c.Particles

	return engine[F]{
		model:     model,
		resampler: c.Resampler,
		rs:        c.ResamplePeriod,
		inner:     make([]F, n),
		samples:   make([]*mat.VecDense, n),
		logW:      make([]float64, n),
		ancestors: make([]int, n),
		numFns:    -1,
		belief:    belief,
		dropped:   dropped,
		log:       c.logger(),
	}
}

// Filter advances the ensemble by one observation y and caches the
// Rao-Blackwellized expectations of the functionals fs. The step order is:
// propagate, update weights, compute the marginal likelihood increment,
// compute expectations, resample if the schedule fires, advance time.
// It returns ErrDegenerate if the ensemble had already degenerated, and a
// fatal error on NaN callback output or shape drift. The step on which the
// ensemble degenerates itself returns nil; the condition is visible through
// State and LogCondLike.
func (e *engine[F]) Filter(y mat.Vector, fs []Functional) error {
	if e.state == Degenerate {
		return ErrDegenerate
	}

	if err := checkVec(y, &e.dimY, "observation"); err != nil {
		return err
	}
	if e.numFns < 0 {
		e.numFns = len(fs)
	} else if len(fs) != e.numFns {
		return fmt.Errorf("invalid functional count: %d, want %d", len(fs), e.numFns)
	}

	var err error
	if e.state == Fresh {
		err = e.first(y)
	} else {
		err = e.step(y)
	}
	if err != nil {
		return err
	}

	if e.state == Degenerate {
		e.exps = nil
		e.now++
		e.log.Errorf("ensemble degenerated at step %d", e.now)
		return nil
	}

	e.exps, err = expectations(fs, func(i int) mat.Vector { return e.belief(e.inner[i]) }, e.samples, e.logW)
	if err != nil {
		return err
	}

	if e.rs != NeverResample && (e.now+1)%e.rs == 0 {
		if err := e.resample(); err != nil {
			return err
		}
	}
	e.now++

	return nil
}

// first initializes the ensemble from the first observation
func (e *engine[F]) first(y mat.Vector) error {
	for i := range e.samples {
		x2 := e.model.Q1Sample(y)
		if err := checkVec(x2, &e.dimS, "sampled component"); err != nil {
			return err
		}

		s := &mat.VecDense{}
		s.CloneFromVec(x2)
		e.samples[i] = s

		cf, err := e.model.InitFilter(x2)
		if err != nil {
			return fmt.Errorf("failed to init inner filter for particle %d: %v", i, err)
		}
		e.inner[i] = cf

		if err := e.model.UpdateFilter(cf, y, x2); err != nil {
			if errors.Is(err, e.dropped) {
				e.logW[i] = math.Inf(-1)
				e.log.Warnf("particle %d dropped: %v", i, err)
				continue
			}
			return fmt.Errorf("failed to update inner filter for particle %d: %v", i, err)
		}

		lw := cf.LogCondLike() + e.model.LogMu(x2) - e.model.LogQ1(x2, y)
		if math.IsNaN(lw) {
			return fmt.Errorf("NaN log weight for particle %d", i)
		}
		e.logW[i] = lw
	}

	e.lastLogCondLike = logMeanExp(e.logW)
	e.state = Active
	if allZero(e.logW) {
		e.state = Degenerate
	}

	return nil
}

// step advances an active ensemble by one observation
func (e *engine[F]) step(y mat.Vector) error {
	// denominator of the likelihood increment, captured before the update
	denom := floats.LogSumExp(e.logW)

	for i := range e.samples {
		x2 := e.model.QSample(e.samples[i], y)
		if err := checkVec(x2, &e.dimS, "sampled component"); err != nil {
			return err
		}

		if err := e.model.UpdateFilter(e.inner[i], y, x2); err != nil {
			if errors.Is(err, e.dropped) {
				e.logW[i] = math.Inf(-1)
				e.samples[i].CloneFromVec(x2)
				e.log.Warnf("particle %d dropped: %v", i, err)
				continue
			}
			return fmt.Errorf("failed to update inner filter for particle %d: %v", i, err)
		}

		lw := e.logW[i] + e.inner[i].LogCondLike() + e.model.LogF(x2, e.samples[i]) - e.model.LogQ(x2, e.samples[i], y)
		if math.IsNaN(lw) {
			return fmt.Errorf("NaN log weight for particle %d", i)
		}
		e.logW[i] = lw
		e.samples[i].CloneFromVec(x2)
	}

	e.lastLogCondLike = floats.LogSumExp(e.logW) - denom
	if allZero(e.logW) {
		e.state = Degenerate
		e.lastLogCondLike = math.Inf(-1)
	}

	return nil
}

// resample replaces the ensemble by deep copies of selected ancestors and
// levels the weights
func (e *engine[F]) resample() error {
	if err := e.resampler.Indices(e.logW, e.ancestors); err != nil {
		return fmt.Errorf("resampling failed: %v", err)
	}

	n := len(e.inner)
	inner := make([]F, n)
	samples := make([]*mat.VecDense, n)
	for i, a := range e.ancestors {
		if a < 0 || a >= n {
			return fmt.Errorf("resampler returned index %d, want [0, %d)", a, n)
		}
		inner[i] = e.inner[a].Clone()
		s := &mat.VecDense{}
		s.CloneFromVec(e.samples[a])
		samples[i] = s
	}
	copy(e.inner, inner)
	copy(e.samples, samples)

	lw := -math.Log(float64(n))
	for i := range e.logW {
		e.logW[i] = lw
	}
	e.log.Tracef("resampled %d particles at step %d", n, e.now+1)

	return nil
}

// LogCondLike returns the latest marginal likelihood increment
// log p(y_t | y_1:t-1); after the first step this is log p(y1). It returns
// -Inf once the ensemble has degenerated.
func (e *engine[F]) LogCondLike() float64 {
	if e.state == Degenerate {
		return math.Inf(-1)
	}

	return e.lastLogCondLike
}

// Expectations returns the Rao-Blackwellized posterior expectations cached
// by the latest Filter call, one matrix per functional
func (e *engine[F]) Expectations() []mat.Matrix {
	out := make([]mat.Matrix, len(e.exps))
	for i, x := range e.exps {
		c := &mat.Dense{}
		c.CloneFrom(x)
		out[i] = c
	}

	return out
}

// Weights returns the normalized particle weights
func (e *engine[F]) Weights() mat.Vector {
	return normWeights(e.logW)
}

// State returns the ensemble lifecycle state
func (e *engine[F]) State() State {
	return e.state
}

// Time returns the number of observations processed so far
func (e *engine[F]) Time() int {
	return e.now
}

// Reset reinitializes the filter to the Fresh state, discarding the
// ensemble. The next Filter call starts a new run.
func (e *engine[F]) Reset() {
	var zero F
	for i := range e.inner {
		e.inner[i] = zero
		e.samples[i] = nil
		e.logW[i] = 0
	}
	e.exps = nil
	e.now = 0
	e.lastLogCondLike = 0
	e.dimS, e.dimY = 0, 0
	e.numFns = -1
	e.state = Fresh
}
