package dla

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// wedgeEps is the slack allowed when checking stored points against the wedge.
const wedgeEps = 1e-9

// Snapshot is a point-in-time capture of an aggregate.
type Snapshot struct {
	FlakeID    FlakeID    `json:"flake_id"`
	Parameters Parameters `json:"parameters"`
	Seed       int64      `json:"seed"`
	Points     []Point    `json:"points"`
	Bonds      []Bond     `json:"bonds"`
	Paths      []Path     `json:"paths,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Snapshot captures the engine state. Paths are only included when
// withPaths is set since they dominate the size.
func (e *Engine) Snapshot(withPaths bool) Snapshot {
	snap := Snapshot{
		FlakeID:    e.id,
		Parameters: e.params,
		Seed:       e.seed,
		Points:     e.Aggregate(),
		Bonds:      e.Bonds(),
		CreatedAt:  time.Now().UTC(),
	}
	if withPaths {
		snap.Paths = e.Paths()
	}
	return snap
}

// ValidateSnapshot checks that a snapshot describes a reachable aggregate:
//   - parameters are valid
//   - point 0 is the origin
//   - bond i attaches child i+1 to a lower index
//   - every point lies in the wedge
//   - paths, when present, match the number of walkers
func ValidateSnapshot(snap Snapshot) error {
	if err := snap.Parameters.Validate(); err != nil {
		return err
	}
	if len(snap.Points) == 0 {
		return invalidArgf("snapshot has no points")
	}
	if snap.Points[0] != Origin {
		return invalidArgf("snapshot seed must be the origin, got %v", snap.Points[0])
	}
	if len(snap.Bonds) != len(snap.Points)-1 {
		return invalidArgf("snapshot has %d points but %d bonds", len(snap.Points), len(snap.Bonds))
	}
	for i, b := range snap.Bonds {
		if b.Child != i+1 {
			return invalidArgf("bond %d has child %d, want %d", i, b.Child, i+1)
		}
		if b.Parent < 0 || b.Parent >= b.Child {
			return invalidArgf("bond %d has parent %d not below child %d", i, b.Parent, b.Child)
		}
	}
	for i, p := range snap.Points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || !InWedge(p, wedgeEps) {
			return invalidArgf("point %d %v lies outside the wedge", i, p)
		}
	}
	if len(snap.Paths) != 0 && len(snap.Paths) != len(snap.Bonds) {
		return invalidArgf("snapshot has %d paths for %d walkers", len(snap.Paths), len(snap.Bonds))
	}
	return nil
}

// Restore rebuilds an engine from a validated snapshot so growth can
// continue. Options are applied as in New. The random stream of the saved
// engine is not resumed; pass WithSeed or WithSource to control
// the new one.
func Restore(snap Snapshot, opts ...Option) (*Engine, error) {
	if err := ValidateSnapshot(snap); err != nil {
		return nil, err
	}

	e, err := New(snap.Parameters, append([]Option{WithID(snap.FlakeID)}, opts...)...)
	if err != nil {
		return nil, err
	}

	e.points = append([]Point(nil), snap.Points...)
	e.bonds = append([]Bond(nil), snap.Bonds...)
	e.paths = make([]Path, len(snap.Bonds))
	copy(e.paths, snap.Paths)
	e.depth = make([]int, len(snap.Points))
	for _, b := range snap.Bonds {
		e.depth[b.Child] = e.depth[b.Parent] + 1
	}
	for _, p := range snap.Points {
		if r := math.Sqrt(p.DistSq(Origin)); r > e.extent {
			e.extent = r
		}
	}
	return e, nil
}

// EncodeSnapshotJSON encodes a snapshot to JSON format.
func EncodeSnapshotJSON(snap Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshotJSON decodes a snapshot from JSON format.
func DecodeSnapshotJSON(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: failed to decode snapshot: %v", ErrInvalidArgument, err)
	}
	return snap, nil
}

// SnapshotPath returns the file used for a flake inside dir.
func SnapshotPath(dir string, id FlakeID) string {
	return filepath.Join(dir, string(id)+".snapshot.json")
}

// SaveSnapshotFile writes snap into dir atomically and returns its path.
func SaveSnapshotFile(dir string, snap Snapshot) (string, error) {
	data, err := EncodeSnapshotJSON(snap)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create snapshot dir: %v", ErrIOFailure, err)
	}

	path := SnapshotPath(dir, snap.FlakeID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write snapshot: %v", ErrIOFailure, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: rename snapshot: %v", ErrIOFailure, err)
	}
	return path, nil
}

// LoadSnapshotFile reads and validates a snapshot file.
func LoadSnapshotFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: read snapshot: %v", ErrIOFailure, err)
	}
	snap, err := DecodeSnapshotJSON(data)
	if err != nil {
		return Snapshot{}, err
	}
	if err := ValidateSnapshot(snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
