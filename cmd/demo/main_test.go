package main

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniacca/snowdla/internal/dla"
	"github.com/daniacca/snowdla/internal/logging"
	"github.com/daniacca/snowdla/internal/server"
)

func startServer(t *testing.T, snapshotDir string) string {
	t.Helper()
	s, err := server.New(server.Config{
		Defaults: dla.Parameters{
			DomainSize:    4,
			CrystalRadius: 1,
			StepSize:      0.5,
			DriftAngle:    dla.DefaultDriftAngle,
			MaxSteps:      100_000,
		},
		SnapshotDir: snapshotDir,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Close()
	})
	return ts.URL
}

func TestRunDemo(t *testing.T) {
	dir := t.TempDir()
	url := startServer(t, dir)

	opts := demoOptions{
		server:   url,
		flake:    "demo",
		seed:     4,
		count:    7,
		chunk:    3,
		output:   filepath.Join(dir, "demo.svg"),
		snapshot: true,
	}
	require.NoError(t, runDemo(context.Background(), opts, logging.Discard()))

	svg, err := os.ReadFile(opts.output)
	require.NoError(t, err)
	assert.Equal(t, 8*12, strings.Count(string(svg), "<circle"))

	snap, err := dla.LoadSnapshotFile(dla.SnapshotPath(dir, "demo"))
	require.NoError(t, err)
	assert.Len(t, snap.Points, 8)

	// a second run needs --fresh
	err = runDemo(context.Background(), opts, logging.Discard())
	assert.ErrorIs(t, err, dla.ErrFlakeExists)

	opts.fresh = true
	opts.count = 2
	require.NoError(t, runDemo(context.Background(), opts, logging.Discard()))
}

func TestRunDemo_Errors(t *testing.T) {
	err := runDemo(context.Background(), demoOptions{server: "http://127.0.0.1:1", chunk: 1}, logging.Discard())
	assert.Error(t, err)

	err = runDemo(context.Background(), demoOptions{chunk: 0}, logging.Discard())
	assert.ErrorIs(t, err, dla.ErrInvalidArgument)
}
