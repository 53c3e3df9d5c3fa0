package dla

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParameters(t *testing.T) {
	p := DefaultParameters()

	assert.Equal(t, 20.0, p.DomainSize)
	assert.Equal(t, 1.0, p.CrystalRadius)
	assert.Equal(t, 0.1, p.StepSize)
	assert.InDelta(t, math.Pi/12, p.DriftAngle, 1e-15)
	assert.Positive(t, p.MaxSteps)
	require.NoError(t, p.Validate())
}

func TestParameters_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Parameters)
	}{
		{"zero domain", func(p *Parameters) { p.DomainSize = 0 }},
		{"negative domain", func(p *Parameters) { p.DomainSize = -1 }},
		{"infinite domain", func(p *Parameters) { p.DomainSize = math.Inf(1) }},
		{"zero radius", func(p *Parameters) { p.CrystalRadius = 0 }},
		{"nan radius", func(p *Parameters) { p.CrystalRadius = math.NaN() }},
		{"negative step", func(p *Parameters) { p.StepSize = -0.1 }},
		{"nan drift", func(p *Parameters) { p.DriftAngle = math.NaN() }},
		{"zero max steps", func(p *Parameters) { p.MaxSteps = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParameters()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestParameters_Validate_AnyDrift(t *testing.T) {
	for _, drift := range []float64{0, -math.Pi, 7 * math.Pi, -0.3} {
		p := DefaultParameters()
		p.DriftAngle = drift
		assert.NoError(t, p.Validate(), "drift %v", drift)
	}
}

func TestParameters_Validate_ReportsAll(t *testing.T) {
	p := Parameters{MaxSteps: 1}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "domain_size")
	assert.Contains(t, err.Error(), "crystal_radius")
	assert.Contains(t, err.Error(), "step_size")
}
