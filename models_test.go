package rbpf

import (
	"math"

	"github.com/marco-hrlic/go-rbpf/cf/hmm"
	"github.com/marco-hrlic/go-rbpf/cf/kalman"
	"github.com/marco-hrlic/go-rbpf/noise"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// chainModel is a two-state regime model with a fixed sampled component:
// every particle proposes the same point mass, so the ensemble collapses to
// the exact forward algorithm. Observations at or beyond poison have zero
// evidence under every regime.
type chainModel struct {
	pi0    *mat.VecDense
	trans  *mat.Dense
	means  []float64
	sigma  float64
	poison float64
}

func newChainModel() *chainModel {
	return &chainModel{
		pi0:    mat.NewVecDense(2, []float64{0.5, 0.5}),
		trans:  mat.NewDense(2, 2, []float64{0.9, 0.1, 0.2, 0.8}),
		means:  []float64{-1.0, 1.0},
		sigma:  0.8,
		poison: math.Inf(1),
	}
}

func (m *chainModel) Q1Sample(y1 mat.Vector) mat.Vector {
	return mat.NewVecDense(1, []float64{0.0})
}

func (m *chainModel) LogMu(x21 mat.Vector) float64 { return 0.0 }

func (m *chainModel) LogQ1(x21, y1 mat.Vector) float64 { return 0.0 }

func (m *chainModel) QSample(x2prev, yt mat.Vector) mat.Vector {
	return mat.NewVecDense(1, []float64{0.0})
}

func (m *chainModel) LogF(x2, x2prev mat.Vector) float64 { return 0.0 }

func (m *chainModel) LogQ(x2, x2prev, yt mat.Vector) float64 { return 0.0 }

func (m *chainModel) InitFilter(x21 mat.Vector) (*hmm.Filter, error) {
	return hmm.New(m.pi0, m.trans)
}

func (m *chainModel) UpdateFilter(f *hmm.Filter, yt, x2 mat.Vector) error {
	logEmission := make([]float64, len(m.means))
	for k, mu := range m.means {
		if math.Abs(yt.AtVec(0)) >= m.poison {
			logEmission[k] = math.Inf(-1)
			continue
		}
		d := distuv.Normal{Mu: mu, Sigma: m.sigma}
		logEmission[k] = d.LogProb(yt.AtVec(0))
	}

	return f.Advance(logEmission)
}

// forwardLogLike is an independent plain-float forward recursion over the
// same chain, used as the exact reference for the filter's marginal
// likelihood.
func (m *chainModel) forwardLogLike(obs []float64) float64 {
	pi := []float64{m.pi0.AtVec(0), m.pi0.AtVec(1)}

	var total float64
	for _, y := range obs {
		pred := []float64{
			m.trans.At(0, 0)*pi[0] + m.trans.At(1, 0)*pi[1],
			m.trans.At(0, 1)*pi[0] + m.trans.At(1, 1)*pi[1],
		}
		var c float64
		u := make([]float64, 2)
		for k := range u {
			d := distuv.Normal{Mu: m.means[k], Sigma: m.sigma}
			u[k] = pred[k] * math.Exp(d.LogProb(y))
			c += u[k]
		}
		for k := range u {
			pi[k] = u[k] / c
		}
		total += math.Log(c)
	}

	return total
}

// levelModel is a linear-Gaussian model with a fixed sampled component: the
// ensemble collapses to the exact Kalman filter. Observations at or beyond
// poison drive the innovation covariance negative.
type levelModel struct {
	fMat   *mat.Dense
	q      *mat.SymDense
	h      *mat.Dense
	r      *mat.SymDense
	mean0  *mat.VecDense
	cov0   *mat.SymDense
	poison float64
}

func newLevelModel() *levelModel {
	return &levelModel{
		fMat:   mat.NewDense(1, 1, []float64{1.0}),
		q:      mat.NewSymDense(1, []float64{0.1}),
		h:      mat.NewDense(1, 1, []float64{1.0}),
		r:      mat.NewSymDense(1, []float64{1.0}),
		mean0:  mat.NewVecDense(1, []float64{0.0}),
		cov0:   mat.NewSymDense(1, []float64{1.0}),
		poison: math.Inf(1),
	}
}

func (m *levelModel) Q1Sample(y1 mat.Vector) mat.Vector {
	return mat.NewVecDense(1, []float64{0.0})
}

func (m *levelModel) LogMu(x21 mat.Vector) float64 { return 0.0 }

func (m *levelModel) LogQ1(x21, y1 mat.Vector) float64 { return 0.0 }

func (m *levelModel) QSample(x2prev, yt mat.Vector) mat.Vector {
	return mat.NewVecDense(1, []float64{0.0})
}

func (m *levelModel) LogF(x2, x2prev mat.Vector) float64 { return 0.0 }

func (m *levelModel) LogQ(x2, x2prev, yt mat.Vector) float64 { return 0.0 }

func (m *levelModel) InitFilter(x21 mat.Vector) (*kalman.Filter, error) {
	return kalman.New(m.mean0, m.cov0)
}

func (m *levelModel) UpdateFilter(f *kalman.Filter, yt, x2 mat.Vector) error {
	r := m.r
	if math.Abs(yt.AtVec(0)) >= m.poison {
		r = mat.NewSymDense(1, []float64{-10.0})
	}

	return f.Advance(yt, m.fMat, m.q, m.h, r)
}

// scalarLogLike is an independent plain-float Kalman recursion used as the
// exact reference for the filter's marginal likelihood.
func (m *levelModel) scalarLogLike(obs []float64) float64 {
	mean := m.mean0.AtVec(0)
	v := m.cov0.At(0, 0)
	fv := m.fMat.At(0, 0)
	q := m.q.At(0, 0)
	h := m.h.At(0, 0)
	r := m.r.At(0, 0)

	var total float64
	for _, y := range obs {
		pm := fv * mean
		pv := fv*v*fv + q
		s := h*pv*h + r
		innov := y - h*pm
		total += -0.5 * (math.Log(2*math.Pi) + math.Log(s) + innov*innov/s)
		k := pv * h / s
		mean = pm + k*innov
		v = (1 - k*h) * pv
	}

	return total
}

// svModel is a stochastic volatility model with a genuinely sampled
// component: the log observation noise variance follows a Gaussian random
// walk. When rFixed > 0 the observation noise ignores the sampled component
// entirely, making the sampled component posterior symmetric around zero.
// The proposal is bootstrap: prior and transition densities.
type svModel struct {
	prior  *noise.Gaussian
	walk   *noise.Gaussian
	fMat   *mat.Dense
	q      *mat.SymDense
	h      *mat.Dense
	mean0  *mat.VecDense
	cov0   *mat.SymDense
	rFixed float64
}

func newSVModel(seed uint64, rFixed float64) *svModel {
	prior, err := noise.NewGaussian([]float64{0.0}, mat.NewSymDense(1, []float64{1.0}), rand.NewSource(seed))
	if err != nil {
		panic(err)
	}
	walk, err := noise.NewGaussian([]float64{0.0}, mat.NewSymDense(1, []float64{0.05}), rand.NewSource(seed+1))
	if err != nil {
		panic(err)
	}

	return &svModel{
		prior:  prior,
		walk:   walk,
		fMat:   mat.NewDense(1, 1, []float64{0.9}),
		q:      mat.NewSymDense(1, []float64{0.1}),
		h:      mat.NewDense(1, 1, []float64{1.0}),
		mean0:  mat.NewVecDense(1, []float64{0.0}),
		cov0:   mat.NewSymDense(1, []float64{1.0}),
		rFixed: rFixed,
	}
}

func (m *svModel) Q1Sample(y1 mat.Vector) mat.Vector {
	return m.prior.Sample()
}

func (m *svModel) LogMu(x21 mat.Vector) float64 {
	return m.prior.LogProb(x21)
}

func (m *svModel) LogQ1(x21, y1 mat.Vector) float64 {
	return m.prior.LogProb(x21)
}

func (m *svModel) QSample(x2prev, yt mat.Vector) mat.Vector {
	next := mat.NewVecDense(x2prev.Len(), nil)
	next.AddVec(x2prev, m.walk.Sample())

	return next
}

func (m *svModel) LogF(x2, x2prev mat.Vector) float64 {
	diff := mat.NewVecDense(x2.Len(), nil)
	diff.SubVec(x2, x2prev)

	return m.walk.LogProb(diff)
}

func (m *svModel) LogQ(x2, x2prev, yt mat.Vector) float64 {
	return m.LogF(x2, x2prev)
}

func (m *svModel) InitFilter(x21 mat.Vector) (*kalman.Filter, error) {
	return kalman.New(m.mean0, m.cov0)
}

func (m *svModel) UpdateFilter(f *kalman.Filter, yt, x2 mat.Vector) error {
	rv := m.rFixed
	if rv <= 0 {
		rv = math.Exp(x2.AtVec(0))
	}
	r := mat.NewSymDense(1, []float64{rv})

	return f.Advance(yt, m.fMat, m.q, m.h, r)
}

// volModel is a two-regime switching model with a genuinely sampled
// component: the log emission variance follows a Gaussian random walk, so
// particle weights differ and resampling matters. Bootstrap proposal.
type volModel struct {
	prior *noise.Gaussian
	walk  *noise.Gaussian
	pi0   *mat.VecDense
	trans *mat.Dense
	means []float64
}

func newVolModel(seed uint64) *volModel {
	prior, err := noise.NewGaussian([]float64{0.0}, mat.NewSymDense(1, []float64{0.3}), rand.NewSource(seed))
	if err != nil {
		panic(err)
	}
	walk, err := noise.NewGaussian([]float64{0.0}, mat.NewSymDense(1, []float64{0.02}), rand.NewSource(seed+1))
	if err != nil {
		panic(err)
	}

	return &volModel{
		prior: prior,
		walk:  walk,
		pi0:   mat.NewVecDense(2, []float64{0.5, 0.5}),
		trans: mat.NewDense(2, 2, []float64{0.9, 0.1, 0.2, 0.8}),
		means: []float64{-1.0, 1.0},
	}
}

func (m *volModel) Q1Sample(y1 mat.Vector) mat.Vector {
	return m.prior.Sample()
}

func (m *volModel) LogMu(x21 mat.Vector) float64 {
	return m.prior.LogProb(x21)
}

func (m *volModel) LogQ1(x21, y1 mat.Vector) float64 {
	return m.prior.LogProb(x21)
}

func (m *volModel) QSample(x2prev, yt mat.Vector) mat.Vector {
	next := mat.NewVecDense(x2prev.Len(), nil)
	next.AddVec(x2prev, m.walk.Sample())

	return next
}

func (m *volModel) LogF(x2, x2prev mat.Vector) float64 {
	diff := mat.NewVecDense(x2.Len(), nil)
	diff.SubVec(x2, x2prev)

	return m.walk.LogProb(diff)
}

func (m *volModel) LogQ(x2, x2prev, yt mat.Vector) float64 {
	return m.LogF(x2, x2prev)
}

func (m *volModel) InitFilter(x21 mat.Vector) (*hmm.Filter, error) {
	return hmm.New(m.pi0, m.trans)
}

func (m *volModel) UpdateFilter(f *hmm.Filter, yt, x2 mat.Vector) error {
	sigma := math.Sqrt(math.Exp(x2.AtVec(0)))

	logEmission := make([]float64, len(m.means))
	for k, mu := range m.means {
		d := distuv.Normal{Mu: mu, Sigma: sigma}
		logEmission[k] = d.LogProb(yt.AtVec(0))
	}

	return f.Advance(logEmission)
}

// identityX2 averages the sampled component itself
func identityX2(belief, x2 mat.Vector) mat.Matrix {
	return mat.NewDense(1, 1, []float64{x2.AtVec(0)})
}

// testObs wraps scalar observations into vectors
func testObs(vals []float64) []*mat.VecDense {
	obs := make([]*mat.VecDense, len(vals))
	for i, v := range vals {
		obs[i] = mat.NewVecDense(1, []float64{v})
	}

	return obs
}

// waveObs generates a deterministic observation sequence for reference tests
func waveObs(n int) []float64 {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = 1.2*math.Sin(0.3*float64(i)) + 0.4*math.Cos(1.1*float64(i))
	}

	return vals
}
