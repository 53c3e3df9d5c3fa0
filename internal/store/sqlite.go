package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/daniacca/snowdla/internal/dla"
)

// ErrNotFound is returned when a flake is not stored.
var ErrNotFound = errors.New("flake not found")

// FlakeInfo summarizes a stored flake.
type FlakeInfo struct {
	ID         dla.FlakeID
	RunID      string
	Points     int
	Parameters dla.Parameters
	SavedAt    time.Time
}

// Store keeps flakes in a SQLite database. Paths are not persisted.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("%w: create store directory: %v", dla.ErrIOFailure, err)
			}
		}
		dsn = path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	} else {
		dsn = path + "?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer; also keeps one shared connection for :memory:
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveFlake replaces any stored copy of the flake with snap and returns
// the run ID recorded for this save.
func (s *Store) SaveFlake(ctx context.Context, snap dla.Snapshot) (string, error) {
	if err := dla.ValidateSnapshot(snap); err != nil {
		return "", err
	}

	runID := uuid.NewString()
	created := snap.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM flakes WHERE id = ?`, string(snap.FlakeID)); err != nil {
		return "", fmt.Errorf("failed to clear flake: %w", err)
	}

	p := snap.Parameters
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO flakes (id, run_id, domain_size, crystal_radius, step_size, drift_angle, max_steps, seed, created_at, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(snap.FlakeID), runID, p.DomainSize, p.CrystalRadius, p.StepSize, p.DriftAngle, p.MaxSteps, snap.Seed,
		created.Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return "", fmt.Errorf("failed to insert flake: %w", err)
	}

	pointStmt, err := tx.PrepareContext(ctx, `INSERT INTO points (flake_id, idx, x, y) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare points insert: %w", err)
	}
	defer pointStmt.Close()
	for i, pt := range snap.Points {
		if _, err := pointStmt.ExecContext(ctx, string(snap.FlakeID), i, pt.X, pt.Y); err != nil {
			return "", fmt.Errorf("failed to insert point %d: %w", i, err)
		}
	}

	bondStmt, err := tx.PrepareContext(ctx, `INSERT INTO bonds (flake_id, parent_idx, child_idx) VALUES (?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare bonds insert: %w", err)
	}
	defer bondStmt.Close()
	for _, b := range snap.Bonds {
		if _, err := bondStmt.ExecContext(ctx, string(snap.FlakeID), b.Parent, b.Child); err != nil {
			return "", fmt.Errorf("failed to insert bond %d: %w", b.Child, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit flake: %w", err)
	}
	return runID, nil
}

// LoadFlake reads a flake back as a snapshot without paths.
func (s *Store) LoadFlake(ctx context.Context, id dla.FlakeID) (dla.Snapshot, error) {
	snap := dla.Snapshot{FlakeID: id}
	var created string

	err := s.db.QueryRowContext(ctx, `
		SELECT domain_size, crystal_radius, step_size, drift_angle, max_steps, seed, created_at
		FROM flakes WHERE id = ?`, string(id)).Scan(
		&snap.Parameters.DomainSize, &snap.Parameters.CrystalRadius, &snap.Parameters.StepSize,
		&snap.Parameters.DriftAngle, &snap.Parameters.MaxSteps, &snap.Seed, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return dla.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return dla.Snapshot{}, fmt.Errorf("failed to load flake: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		snap.CreatedAt = t
	}

	rows, err := s.db.QueryContext(ctx, `SELECT x, y FROM points WHERE flake_id = ? ORDER BY idx`, string(id))
	if err != nil {
		return dla.Snapshot{}, fmt.Errorf("failed to load points: %w", err)
	}
	for rows.Next() {
		var p dla.Point
		if err := rows.Scan(&p.X, &p.Y); err != nil {
			rows.Close()
			return dla.Snapshot{}, fmt.Errorf("failed to scan point: %w", err)
		}
		snap.Points = append(snap.Points, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return dla.Snapshot{}, fmt.Errorf("failed to read points: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT parent_idx, child_idx FROM bonds WHERE flake_id = ? ORDER BY child_idx`, string(id))
	if err != nil {
		return dla.Snapshot{}, fmt.Errorf("failed to load bonds: %w", err)
	}
	defer rows.Close()
	snap.Bonds = []dla.Bond{}
	for rows.Next() {
		var b dla.Bond
		if err := rows.Scan(&b.Parent, &b.Child); err != nil {
			return dla.Snapshot{}, fmt.Errorf("failed to scan bond: %w", err)
		}
		snap.Bonds = append(snap.Bonds, b)
	}
	if err := rows.Err(); err != nil {
		return dla.Snapshot{}, fmt.Errorf("failed to read bonds: %w", err)
	}

	return snap, nil
}

// ListFlakes returns stored flakes ordered by ID.
func (s *Store) ListFlakes(ctx context.Context) ([]FlakeInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.run_id, f.domain_size, f.crystal_radius, f.step_size, f.drift_angle, f.max_steps, f.saved_at,
		       (SELECT COUNT(*) FROM points p WHERE p.flake_id = f.id)
		FROM flakes f ORDER BY f.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list flakes: %w", err)
	}
	defer rows.Close()

	var out []FlakeInfo
	for rows.Next() {
		var (
			info  FlakeInfo
			id    string
			saved string
		)
		if err := rows.Scan(&id, &info.RunID, &info.Parameters.DomainSize, &info.Parameters.CrystalRadius,
			&info.Parameters.StepSize, &info.Parameters.DriftAngle, &info.Parameters.MaxSteps, &saved, &info.Points); err != nil {
			return nil, fmt.Errorf("failed to scan flake: %w", err)
		}
		info.ID = dla.FlakeID(id)
		if t, err := time.Parse(time.RFC3339Nano, saved); err == nil {
			info.SavedAt = t
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteFlake removes a flake and its points and bonds.
func (s *Store) DeleteFlake(ctx context.Context, id dla.FlakeID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flakes WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete flake: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
