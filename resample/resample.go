// Package resample implements ancestor selection strategies for particle
// ensembles carrying unnormalized log weights. All strategies operate in log
// domain: weights are exponentiated only after subtracting their maximum, so
// the scale of the input is irrelevant. Each strategy is unbiased in the sense
// that the expected number of copies of index k is proportional to exp(logw[k]).
package resample

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Multinomial selects ancestors by independent categorical draws
type Multinomial struct {
	// src is the random number source used for the draws
	src rand.Source
}

// NewMultinomial creates new Multinomial resampler drawing from src
func NewMultinomial(src rand.Source) *Multinomial {
	return &Multinomial{src: src}
}

// Indices fills idx with ancestor indices drawn independently with
// probability proportional to exp(logw). It returns error if the weights are
// invalid or sum to zero.
func (m *Multinomial) Indices(logw []float64, idx []int) error {
	w, err := shiftedWeights(logw)
	if err != nil {
		return err
	}

	cat := distuv.NewCategorical(w, m.src)
	for i := range idx {
		idx[i] = int(cat.Rand())
	}

	return nil
}

// Systematic selects ancestors with a single uniform offset comb. It has
// lower variance than Multinomial for the same weights.
type Systematic struct {
	rnd *rand.Rand
}

// NewSystematic creates new Systematic resampler drawing from src
func NewSystematic(src rand.Source) *Systematic {
	return &Systematic{rnd: rand.New(src)}
}

// Indices fills idx with ancestor indices selected by a comb of equally
// spaced points offset by a single uniform draw.
func (s *Systematic) Indices(logw []float64, idx []int) error {
	w, err := shiftedWeights(logw)
	if err != nil {
		return err
	}

	n := float64(len(idx))
	u := s.rnd.Float64() / n
	comb(w, idx, func(int) float64 { return u })

	return nil
}

// Stratified selects ancestors with one uniform draw per equally sized
// stratum of the unit interval.
type Stratified struct {
	rnd *rand.Rand
}

// NewStratified creates new Stratified resampler drawing from src
func NewStratified(src rand.Source) *Stratified {
	return &Stratified{rnd: rand.New(src)}
}

// Indices fills idx with ancestor indices selected by one uniform position
// per stratum [i/n, (i+1)/n).
func (s *Stratified) Indices(logw []float64, idx []int) error {
	w, err := shiftedWeights(logw)
	if err != nil {
		return err
	}

	n := float64(len(idx))
	comb(w, idx, func(int) float64 { return s.rnd.Float64() / n })

	return nil
}

// comb walks the cumulative distribution of w selecting the index covering
// position offset(i) + i/n for each i.
func comb(w []float64, idx []int, offset func(i int) float64) {
	total := floats.Sum(w)
	n := float64(len(idx))

	j := 0
	cum := w[0] / total
	for i := range idx {
		pos := offset(i) + float64(i)/n
		for cum < pos && j < len(w)-1 {
			j++
			cum += w[j] / total
		}
		idx[i] = j
	}
}

// shiftedWeights exponentiates log weights after subtracting their maximum.
// It returns error if the slice is empty, contains NaN or holds no positive
// probability mass.
func shiftedWeights(logw []float64) ([]float64, error) {
	if len(logw) == 0 {
		return nil, fmt.Errorf("empty log weight slice")
	}

	for i, lw := range logw {
		if math.IsNaN(lw) {
			return nil, fmt.Errorf("NaN log weight at index %d", i)
		}
	}

	m := floats.Max(logw)
	if math.IsInf(m, -1) {
		return nil, fmt.Errorf("all weights are zero")
	}

	w := make([]float64, len(logw))
	for i, lw := range logw {
		w[i] = math.Exp(lw - m)
	}

	return w, nil
}
