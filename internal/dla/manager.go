package dla

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Flake pairs an engine with the lock that serializes access to it.
type Flake struct {
	mu     sync.Mutex
	engine *Engine
}

// NewFlake wraps an existing engine.
func NewFlake(e *Engine) *Flake {
	return &Flake{engine: e}
}

// ID returns the flake's identifier.
func (f *Flake) ID() FlakeID {
	return f.engine.ID()
}

// Grow adds n points; see Engine.Grow.
func (f *Flake) Grow(ctx context.Context, n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engine.Grow(ctx, n)
}

// View runs fn with exclusive access to the engine.
func (f *Flake) View(fn func(e *Engine)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.engine)
}

// Snapshot captures the flake state.
func (f *Flake) Snapshot(withPaths bool) Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engine.Snapshot(withPaths)
}

// FlakeManager keeps independent flakes, each grown by its own engine.
type FlakeManager struct {
	mu     sync.RWMutex
	flakes map[FlakeID]*Flake
}

// NewFlakeManager creates an empty manager.
func NewFlakeManager() *FlakeManager {
	return &FlakeManager{
		flakes: make(map[FlakeID]*Flake),
	}
}

// CreateFlake builds a new engine under id.
// Returns an error if a flake with that ID already exists.
func (fm *FlakeManager) CreateFlake(id FlakeID, params Parameters, opts ...Option) (*Flake, error) {
	if id == "" {
		return nil, invalidArgf("flake id is required")
	}
	e, err := New(params, append(opts, WithID(id))...)
	if err != nil {
		return nil, err
	}
	return fm.add(NewFlake(e))
}

// RestoreFlake registers a flake rebuilt from a snapshot.
func (fm *FlakeManager) RestoreFlake(snap Snapshot, opts ...Option) (*Flake, error) {
	e, err := Restore(snap, opts...)
	if err != nil {
		return nil, err
	}
	return fm.add(NewFlake(e))
}

func (fm *FlakeManager) add(f *Flake) (*Flake, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if _, exists := fm.flakes[f.ID()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrFlakeExists, f.ID())
	}
	fm.flakes[f.ID()] = f
	return f, nil
}

// GetFlake retrieves a flake by ID
func (fm *FlakeManager) GetFlake(id FlakeID) (*Flake, bool) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	f, exists := fm.flakes[id]
	return f, exists
}

// DeleteFlake removes a flake by ID
// Returns an error if the flake doesn't exist
func (fm *FlakeManager) DeleteFlake(id FlakeID) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if _, exists := fm.flakes[id]; !exists {
		return fmt.Errorf("%w: %s", ErrFlakeNotFound, id)
	}
	delete(fm.flakes, id)
	return nil
}

// ListFlakes returns all flake IDs in sorted order.
func (fm *FlakeManager) ListFlakes() []FlakeID {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	ids := make([]FlakeID, 0, len(fm.flakes))
	for id := range fm.flakes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
