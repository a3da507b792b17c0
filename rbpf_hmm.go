package rbpf

import (
	"fmt"

	"github.com/marco-hrlic/go-rbpf/cf/hmm"
)

// HMM is a Rao-Blackwellized particle filter whose marginalized state
// component is tracked by one discrete HMM forward filter per particle.
// Functionals receive the filtered belief vector as the sufficient statistic.
type HMM struct {
	engine[*hmm.Filter]
}

// NewHMM creates new HMM variant Rao-Blackwellized particle filter and
// returns it. It returns error if the model is nil or the configuration is
// invalid.
func NewHMM(model HMMModel, c *Config) (*HMM, error) {
	if model == nil {
		return nil, fmt.Errorf("nil model")
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return &HMM{
		engine: newEngine[*hmm.Filter](model, c, (*hmm.Filter).Belief, hmm.ErrZeroEvidence),
	}, nil
}
