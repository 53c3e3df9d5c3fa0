package dla

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a construction or export parameter
	// is outside its documented domain.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDivergentWalk is returned when a walker exceeds the step ceiling
	// without touching the aggregate.
	ErrDivergentWalk = errors.New("divergent walk")

	// ErrIOFailure is returned when an artifact (image, snapshot) cannot be written or read.
	ErrIOFailure = errors.New("io failure")

	// ErrFlakeNotFound and ErrFlakeExists are returned by FlakeManager.
	ErrFlakeNotFound = errors.New("flake not found")
	ErrFlakeExists   = errors.New("flake already exists")
)

// WalkError describes a walker that was abandoned after MaxSteps steps.
// It unwraps to ErrDivergentWalk.
type WalkError struct {
	Steps int
	Spawn Point
	Last  Point
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("divergent walk: no collision after %d steps (spawn=%v last=%v)", e.Steps, e.Spawn, e.Last)
}

func (e *WalkError) Unwrap() error {
	return ErrDivergentWalk
}

func invalidArgf(format string, v ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, v...))
}
