package rbpf

import (
	"fmt"

	"github.com/marco-hrlic/go-rbpf/cf/kalman"
)

// Kalman is a Rao-Blackwellized particle filter whose marginalized state
// component is tracked by one linear-Gaussian Kalman filter per particle.
// Functionals receive the filtered mean vector as the sufficient statistic.
type Kalman struct {
	engine[*kalman.Filter]
}

// NewKalman creates new Kalman variant Rao-Blackwellized particle filter and
// returns it. It returns error if the model is nil or the configuration is
// invalid.
func NewKalman(model KalmanModel, c *Config) (*Kalman, error) {
	if model == nil {
		return nil, fmt.Errorf("nil model")
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return &Kalman{
		engine: newEngine[*kalman.Filter](model, c, (*kalman.Filter).Mean, kalman.ErrNotPositiveDefinite),
	}, nil
}
