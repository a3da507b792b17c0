package particle

import (
	rbpf "github.com/marco-hrlic/go-rbpf"
)

// both filter variants must satisfy the Filter interface
var (
	_ Filter = (*rbpf.HMM)(nil)
	_ Filter = (*rbpf.Kalman)(nil)
)
