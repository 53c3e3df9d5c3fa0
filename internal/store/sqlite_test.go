package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/daniacca/snowdla/internal/dla"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func grown(t *testing.T, id dla.FlakeID, n int) dla.Snapshot {
	t.Helper()
	e, err := dla.New(dla.Parameters{DomainSize: 4, CrystalRadius: 1, StepSize: 0.5, DriftAngle: 0.2, MaxSteps: 100000},
		dla.WithSeed(17), dla.WithID(id))
	require.NoError(t, err)
	_, err = e.Grow(context.Background(), n)
	require.NoError(t, err)
	return e.Snapshot(false)
}

func TestStore_SaveLoad(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	snap := grown(t, "alpha", 10)

	runID, err := s.SaveFlake(ctx, snap)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	loaded, err := s.LoadFlake(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, snap.FlakeID, loaded.FlakeID)
	assert.Equal(t, snap.Parameters, loaded.Parameters)
	assert.Equal(t, snap.Seed, loaded.Seed)
	assert.Equal(t, snap.Points, loaded.Points)
	assert.Equal(t, snap.Bonds, loaded.Bonds)
	assert.True(t, snap.CreatedAt.Equal(loaded.CreatedAt))
	require.NoError(t, dla.ValidateSnapshot(loaded))
}

func TestStore_SaveReplaces(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	first, err := s.SaveFlake(ctx, grown(t, "f", 3))
	require.NoError(t, err)
	second, err := s.SaveFlake(ctx, grown(t, "f", 6))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	loaded, err := s.LoadFlake(ctx, "f")
	require.NoError(t, err)
	assert.Len(t, loaded.Points, 7)
	assert.Len(t, loaded.Bonds, 6)

	infos, err := s.ListFlakes(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, second, infos[0].RunID)
}

func TestStore_SaveInvalid(t *testing.T) {
	s := openMemory(t)
	_, err := s.SaveFlake(context.Background(), dla.Snapshot{FlakeID: "bad", Parameters: dla.DefaultParameters()})
	assert.ErrorIs(t, err, dla.ErrInvalidArgument)
}

func TestStore_LoadMissing(t *testing.T) {
	s := openMemory(t)
	_, err := s.LoadFlake(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListAndDelete(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	for _, id := range []dla.FlakeID{"b", "a"} {
		_, err := s.SaveFlake(ctx, grown(t, id, 2))
		require.NoError(t, err)
	}

	infos, err := s.ListFlakes(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, dla.FlakeID("a"), infos[0].ID)
	assert.Equal(t, 3, infos[0].Points)
	assert.Equal(t, 4.0, infos[0].Parameters.DomainSize)
	assert.False(t, infos[0].SavedAt.IsZero())

	require.NoError(t, s.DeleteFlake(ctx, "a"))
	assert.ErrorIs(t, s.DeleteFlake(ctx, "a"), ErrNotFound)

	var points int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points WHERE flake_id = 'a'`).Scan(&points))
	assert.Equal(t, 0, points)
}

func TestStore_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "flakes.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.SaveFlake(ctx, grown(t, "persist", 4))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadFlake(ctx, "persist")
	require.NoError(t, err)
	assert.Len(t, loaded.Points, 5)
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, InitSchema(context.Background(), s.db))

	var version int
	require.NoError(t, s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}
