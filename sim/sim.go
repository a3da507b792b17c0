// Package sim provides helpers to simulate linear-Gaussian state-space
// models and to plot filter output.
package sim

import (
	"fmt"

	"github.com/marco-hrlic/go-rbpf/noise"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
)

// InitCond is initial state condition
type InitCond struct {
	state *mat.VecDense
	cov   *mat.SymDense
}

// NewInitCond creates new InitCond and returns it
func NewInitCond(state mat.Vector, cov mat.Symmetric) *InitCond {
	s := &mat.VecDense{}
	s.CloneFromVec(state)

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	return &InitCond{
		state: s,
		cov:   c,
	}
}

// State returns initial state
func (c *InitCond) State() mat.Vector {
	state := mat.NewVecDense(c.state.Len(), nil)
	state.CloneFromVec(c.state)

	return state
}

// Cov returns initial covariance
func (c *InitCond) Cov() mat.Symmetric {
	cov := mat.NewSymDense(c.cov.SymmetricDim(), nil)
	cov.CopySym(c.cov)

	return cov
}

// LinearModel is a discrete linear-Gaussian state-space simulator
type LinearModel struct {
	// f is the state transition matrix
	f *mat.Dense
	// h is the observation matrix
	h *mat.Dense
	// q is the process noise
	q *noise.Gaussian
	// r is the observation noise
	r *noise.Gaussian
}

// NewLinearModel creates new LinearModel with transition matrix f,
// observation matrix h, process noise q and observation noise r.
// It returns error if the matrix dimensions disagree.
func NewLinearModel(f, h mat.Matrix, q, r *noise.Gaussian) (*LinearModel, error) {
	fr, fc := f.Dims()
	if fr != fc {
		return nil, fmt.Errorf("invalid transition matrix dimensions: [%d x %d]", fr, fc)
	}

	hr, hc := h.Dims()
	if hc != fc {
		return nil, fmt.Errorf("invalid observation matrix dimensions: [%d x %d], want [%d x %d]", hr, hc, hr, fc)
	}

	if len(q.Mean()) != fr {
		return nil, fmt.Errorf("invalid process noise dimension: %d, want %d", len(q.Mean()), fr)
	}

	if len(r.Mean()) != hr {
		return nil, fmt.Errorf("invalid observation noise dimension: %d, want %d", len(r.Mean()), hr)
	}

	fd := &mat.Dense{}
	fd.CloneFrom(f)

	hd := &mat.Dense{}
	hd.CloneFrom(h)

	return &LinearModel{
		f: fd,
		h: hd,
		q: q,
		r: r,
	}, nil
}

// Propagate propagates state x to the next step: x' = F*x + w
func (m *LinearModel) Propagate(x mat.Vector) mat.Vector {
	rows, _ := m.f.Dims()

	next := mat.NewVecDense(rows, nil)
	next.MulVec(m.f, x)
	next.AddVec(next, m.q.Sample())

	return next
}

// Observe observes the output of state x: y = H*x + v
func (m *LinearModel) Observe(x mat.Vector) mat.Vector {
	rows, _ := m.h.Dims()

	y := mat.NewVecDense(rows, nil)
	y.MulVec(m.h, x)
	y.AddVec(y, m.r.Sample())

	return y
}

// Trajectory simulates steps time periods from x0 and returns the state and
// observation sequences. It returns error if steps is not positive.
func (m *LinearModel) Trajectory(x0 mat.Vector, steps int) ([]mat.Vector, []mat.Vector, error) {
	if steps <= 0 {
		return nil, nil, fmt.Errorf("invalid step count: %d", steps)
	}

	states := make([]mat.Vector, steps)
	obs := make([]mat.Vector, steps)

	x := x0
	for i := 0; i < steps; i++ {
		x = m.Propagate(x)
		states[i] = x
		obs[i] = m.Observe(x)
	}

	return states, obs, nil
}

// New2DPlot creates new plot of the system output, measurements and filter
// output. Each input matrix stores one (time, value) pair per row.
// It returns error if the plot lines fail to be added.
func New2DPlot(truth, meas, filtered *mat.Dense) (*plot.Plot, error) {
	p := plot.New()

	p.Title.Text = "Filtered output"
	p.X.Label.Text = "time"
	p.Y.Label.Text = "output"

	err := plotutil.AddLinePoints(p,
		"truth", rowXYs(truth),
		"measured", rowXYs(meas),
		"filtered", rowXYs(filtered),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add plot lines: %v", err)
	}

	return p, nil
}

// rowXYs converts a Nx2 matrix of (time, value) rows into plotter points
func rowXYs(m *mat.Dense) plotter.XYs {
	rows, _ := m.Dims()

	pts := make(plotter.XYs, rows)
	for i := 0; i < rows; i++ {
		pts[i].X = m.At(i, 0)
		pts[i].Y = m.At(i, 1)
	}

	return pts
}
