package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniacca/snowdla/internal/dla"
)

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Float64("domain-size", dla.DefaultDomainSize, "")
	fs.Float64("step-size", dla.DefaultStepSize, "")
	fs.Int("count", 0, "")
	fs.String("log-level", "info", "")
	fs.Int64("seed", 0, "")
	fs.String("output", "", "")
	return fs
}

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	want := Defaults()
	assert.Equal(t, want.Engine, cfg.Engine)
	assert.Equal(t, want.Export, cfg.Export)
	assert.Equal(t, want.Server, cfg.Server)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 200, cfg.Count)
	assert.Empty(t, cfg.File)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := chdirTemp(t)
	content := `
log_level: debug
count: 50
engine:
  domain_size: 30
  step_size: 0.2
export:
  n: 10
server:
  addr: ":9999"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snowdla.yaml"), []byte(content), 0o644))

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "snowdla.yaml", cfg.File)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 50, cfg.Count)
	assert.Equal(t, 30.0, cfg.Engine.DomainSize)
	assert.Equal(t, 0.2, cfg.Engine.StepSize)
	assert.Equal(t, dla.DefaultCrystalRadius, cfg.Engine.CrystalRadius)
	assert.Equal(t, 10, cfg.Export.N)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	chdirTemp(t)

	_, err := Load("does-not-exist.yaml", nil)
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snowdla.yml"), []byte("count: 50\n"), 0o644))
	t.Setenv("SNOWDLA_COUNT", "75")
	t.Setenv("SNOWDLA_ENGINE__CRYSTAL_RADIUS", "2")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "snowdla.yml", cfg.File)
	assert.Equal(t, 75, cfg.Count)
	assert.Equal(t, 2.0, cfg.Engine.CrystalRadius)
}

func TestLoad_ChangedFlagsWin(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SNOWDLA_COUNT", "75")
	t.Setenv("SNOWDLA_ENGINE__STEP_SIZE", "0.3")

	fs := newFlags()
	require.NoError(t, fs.Parse([]string{"--count", "12", "--domain-size", "40", "--seed", "7", "--output", "out.svg"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Count)
	assert.Equal(t, 40.0, cfg.Engine.DomainSize)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, "out.svg", cfg.Export.Path)
	// step-size was not set on the command line, env keeps it.
	assert.Equal(t, 0.3, cfg.Engine.StepSize)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	chdirTemp(t)

	fs := newFlags()
	require.NoError(t, fs.Parse([]string{"--domain-size", "-1", "--count", "-3"}))

	_, err := Load("", fs)
	require.Error(t, err)
	assert.ErrorIs(t, err, dla.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "count")
}

func TestValidate_Export(t *testing.T) {
	cfg := Defaults()
	cfg.Export.Style = "lines"
	cfg.Export.N = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, dla.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "export.n")
	assert.Contains(t, err.Error(), "export.style")
}

func TestEngineOptions_Seed(t *testing.T) {
	cfg := Defaults()
	cfg.Seed = 42

	e, err := dla.New(cfg.Engine, cfg.EngineOptions()...)
	require.NoError(t, err)
	assert.Equal(t, int64(42), e.Seed())

	cfg.Seed = 0
	e, err = dla.New(cfg.Engine, cfg.EngineOptions()...)
	require.NoError(t, err)
	assert.NotZero(t, e.Seed())
}
