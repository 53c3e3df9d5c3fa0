package dla

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// FlakeID identifies an aggregate across the engine, store and server.
type FlakeID string

// Engine grows a single aggregate, one walker at a time. It is not safe
// for concurrent use; parallel growth uses one engine per goroutine.
type Engine struct {
	id          FlakeID
	params      Parameters
	src         Source
	seed        int64
	logger      *slog.Logger
	observer    Observer
	recordPaths bool

	boundary Line
	radiusSq float64

	points []Point
	bonds  []Bond
	paths  []Path
	depth  []int
	extent float64
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithSource sets the random source. The engine reports seed 0 unless
// WithSeed is also used.
func WithSource(src Source) Option {
	return func(e *Engine) {
		if src != nil {
			e.src = src
		}
	}
}

// WithSeed seeds a math/rand source.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.seed = seed
		e.src = NewSeededSource(seed)
	}
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers an observer notified after each attachment.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithPathRecording toggles retention of walker paths. When disabled an
// empty Path is still appended per walker so counts stay aligned.
func WithPathRecording(enabled bool) Option {
	return func(e *Engine) {
		e.recordPaths = enabled
	}
}

// WithID names the aggregate.
func WithID(id FlakeID) Option {
	return func(e *Engine) {
		e.id = id
	}
}

// New returns an engine holding only the seed point at the origin.
func New(params Parameters, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	seed := timeSeed()
	e := &Engine{
		id:          "flake",
		params:      params,
		seed:        seed,
		src:         NewSeededSource(seed),
		logger:      slog.New(slog.DiscardHandler),
		recordPaths: true,
		boundary:    WedgeBoundary(),
		radiusSq:    params.CrystalRadius * params.CrystalRadius,
		points:      []Point{Origin},
		bonds:       []Bond{},
		paths:       []Path{},
		depth:       []int{0},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// GrowOne releases one walker and runs it until it attaches. On success
// exactly one point, bond and path are appended. If the walker exceeds
// MaxSteps a *WalkError is returned and nothing is committed.
func (e *Engine) GrowOne() (Bond, error) {
	spawn := e.spawn()
	pos := spawn

	var path Path
	if e.recordPaths {
		path = Path{pos}
	}

	for step := 1; step <= e.params.MaxSteps; step++ {
		pos = Confine(e.step(pos), e.boundary)

		if parent, ok := e.collide(pos); ok {
			return e.attach(pos, parent, path, step), nil
		}

		if e.recordPaths {
			path = append(path, pos)
		}
	}

	err := &WalkError{Steps: e.params.MaxSteps, Spawn: spawn, Last: pos}
	e.logger.Warn("walker abandoned",
		"flake", e.id,
		"steps", e.params.MaxSteps,
		"last_x", pos.X,
		"last_y", pos.Y,
	)
	return Bond{}, err
}

// Grow calls GrowOne n times. The context is only checked between
// walkers. It returns how many points were added.
func (e *Engine) Grow(ctx context.Context, n int) (int, error) {
	if n < 0 {
		return 0, invalidArgf("grow count must be >= 0, got %d", n)
	}
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return i, ctx.Err()
		default:
		}
		if _, err := e.GrowOne(); err != nil {
			return i, err
		}
	}
	return n, nil
}

// spawn picks a point on the far radial edge of the wedge.
func (e *Engine) spawn() Point {
	return Point{
		X: e.params.DomainSize,
		Y: e.src.Float64() * e.params.DomainSize * wedgeSlope,
	}
}

// step moves p by StepSize in a direction drawn from a half-turn that
// points back toward decreasing x, rotated by DriftAngle.
func (e *Engine) step(p Point) Point {
	theta := math.Pi*e.src.Float64() + math.Pi/2 + e.params.DriftAngle
	return Point{
		X: p.X + e.params.StepSize*math.Cos(theta),
		Y: p.Y + e.params.StepSize*math.Sin(theta),
	}
}

// collide returns the first aggregate point, in insertion order, closer
// than CrystalRadius to p.
func (e *Engine) collide(p Point) (int, bool) {
	for i, c := range e.points {
		if c.DistSq(p) < e.radiusSq {
			return i, true
		}
	}
	return 0, false
}

func (e *Engine) attach(p Point, parent int, path Path, steps int) Bond {
	child := len(e.points)
	bond := Bond{Parent: parent, Child: child}

	e.points = append(e.points, p)
	e.bonds = append(e.bonds, bond)
	e.paths = append(e.paths, path)
	e.depth = append(e.depth, e.depth[parent]+1)
	if r := math.Sqrt(p.DistSq(Origin)); r > e.extent {
		e.extent = r
	}

	e.logger.Debug("crystal attached",
		"flake", e.id,
		"index", child,
		"parent", parent,
		"steps", steps,
	)

	if e.observer != nil {
		e.observer.CrystalAttached(AttachEvent{
			FlakeID:    e.id,
			Index:      child,
			Parent:     parent,
			Point:      p,
			Steps:      steps,
			Generation: e.depth[child],
			Timestamp:  time.Now().Unix(),
		})
	}
	return bond
}

// ID returns the aggregate name.
func (e *Engine) ID() FlakeID {
	return e.id
}

// Seed returns the seed of the default source, or the one given by WithSeed.
func (e *Engine) Seed() int64 {
	return e.seed
}

// Parameters returns the construction parameters.
func (e *Engine) Parameters() Parameters {
	return e.params
}

// Len is the number of aggregate points, seed included.
func (e *Engine) Len() int {
	return len(e.points)
}

// Aggregate returns a copy of the aggregate points. Index 0 is the seed.
func (e *Engine) Aggregate() []Point {
	out := make([]Point, len(e.points))
	copy(out, e.points)
	return out
}

// Bonds returns a copy of the bond list; bond i has child i+1.
func (e *Engine) Bonds() []Bond {
	out := make([]Bond, len(e.bonds))
	copy(out, e.bonds)
	return out
}

// Paths returns a copy of the walker paths; path i belongs to point i+1.
func (e *Engine) Paths() []Path {
	out := make([]Path, len(e.paths))
	for i, p := range e.paths {
		if p != nil {
			out[i] = append(Path(nil), p...)
		}
	}
	return out
}

// Generation returns the tree depth of point i (0 for the seed).
func (e *Engine) Generation(i int) (int, bool) {
	if i < 0 || i >= len(e.depth) {
		return 0, false
	}
	return e.depth[i], true
}

// Radius is the largest distance from the seed to any aggregate point.
func (e *Engine) Radius() float64 {
	return e.extent
}
