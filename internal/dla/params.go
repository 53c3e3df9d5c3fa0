package dla

import (
	"errors"
	"math"
)

// Defaults used when a parameter is not supplied.
const (
	DefaultDomainSize    = 20.0
	DefaultCrystalRadius = 1.0
	DefaultStepSize      = 0.1
	DefaultDriftAngle    = math.Pi / 12
	DefaultMaxSteps      = 5_000_000
)

// Parameters are fixed for the lifetime of an engine.
type Parameters struct {
	// DomainSize is the x coordinate of the spawn edge.
	DomainSize float64 `json:"domain_size" koanf:"domain_size" yaml:"domain_size"`
	// CrystalRadius is the collision distance between a walker and an aggregate point.
	CrystalRadius float64 `json:"crystal_radius" koanf:"crystal_radius" yaml:"crystal_radius"`
	// StepSize is the length of every walker step.
	StepSize float64 `json:"step_size" koanf:"step_size" yaml:"step_size"`
	// DriftAngle rotates the half-turn of allowed step directions.
	DriftAngle float64 `json:"drift_angle" koanf:"drift_angle" yaml:"drift_angle"`
	// MaxSteps is the ceiling after which a walker is reported as divergent.
	MaxSteps int `json:"max_steps" koanf:"max_steps" yaml:"max_steps"`
}

// DefaultParameters returns the standard parameter set.
func DefaultParameters() Parameters {
	return Parameters{
		DomainSize:    DefaultDomainSize,
		CrystalRadius: DefaultCrystalRadius,
		StepSize:      DefaultStepSize,
		DriftAngle:    DefaultDriftAngle,
		MaxSteps:      DefaultMaxSteps,
	}
}

// Validate reports every field outside its domain. The returned error
// matches ErrInvalidArgument.
func (p Parameters) Validate() error {
	var errs []error

	if !positive(p.DomainSize) {
		errs = append(errs, invalidArgf("domain_size must be a finite number > 0, got %v", p.DomainSize))
	}
	if !positive(p.CrystalRadius) {
		errs = append(errs, invalidArgf("crystal_radius must be a finite number > 0, got %v", p.CrystalRadius))
	}
	if !positive(p.StepSize) {
		errs = append(errs, invalidArgf("step_size must be a finite number > 0, got %v", p.StepSize))
	}
	if math.IsNaN(p.DriftAngle) || math.IsInf(p.DriftAngle, 0) {
		errs = append(errs, invalidArgf("drift_angle must be finite, got %v", p.DriftAngle))
	}
	if p.MaxSteps <= 0 {
		errs = append(errs, invalidArgf("max_steps must be > 0, got %d", p.MaxSteps))
	}

	return errors.Join(errs...)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
