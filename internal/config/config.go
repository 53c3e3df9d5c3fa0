// Package config loads snowdla settings from defaults, a YAML file,
// SNOWDLA_ environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/daniacca/snowdla/internal/dla"
	"github.com/daniacca/snowdla/internal/export"
)

// EnvPrefix prefixes every environment variable. Nested keys use a double
// underscore: SNOWDLA_ENGINE__STEP_SIZE sets engine.step_size.
const EnvPrefix = "SNOWDLA_"

// Default config file names searched in the working directory.
var configFileNames = []string{"snowdla.yaml", "snowdla.yml"}

// Config is the full application configuration.
type Config struct {
	LogLevel    string         `koanf:"log_level" yaml:"log_level"`
	FlakeID     string         `koanf:"flake_id" yaml:"flake_id"`
	Seed        int64          `koanf:"seed" yaml:"seed"`
	Count       int            `koanf:"count" yaml:"count"`
	RecordPaths bool           `koanf:"record_paths" yaml:"record_paths"`
	SnapshotDir string         `koanf:"snapshot_dir" yaml:"snapshot_dir"`
	StorePath   string         `koanf:"store_path" yaml:"store_path"`
	Engine      dla.Parameters `koanf:"engine" yaml:"engine"`
	Export      export.Options `koanf:"export" yaml:"export"`
	Server      ServerConfig   `koanf:"server" yaml:"server"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-" yaml:"-"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
	// SnapshotEvery writes a snapshot after every n grown points; 0 disables it.
	SnapshotEvery int `koanf:"snapshot_every" yaml:"snapshot_every"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"log-level":      "log_level",
	"flake-id":       "flake_id",
	"seed":           "seed",
	"count":          "count",
	"record-paths":   "record_paths",
	"snapshot-dir":   "snapshot_dir",
	"store":          "store_path",
	"domain-size":    "engine.domain_size",
	"crystal-radius": "engine.crystal_radius",
	"step-size":      "engine.step_size",
	"drift-angle":    "engine.drift_angle",
	"max-steps":      "engine.max_steps",
	"output":         "export.path",
	"n":              "export.n",
	"size":           "export.size",
	"crystal-scale":  "export.crystal_scale",
	"style":          "export.style",
	"addr":           "server.addr",
	"snapshot-every": "server.snapshot_every",
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel:    "info",
		FlakeID:     "snowflake",
		Count:       200,
		RecordPaths: true,
		SnapshotDir: "",
		StorePath:   "",
		Engine:      dla.DefaultParameters(),
		Export:      export.DefaultOptions(),
		Server: ServerConfig{
			Addr:          ":8080",
			SnapshotEvery: 0,
		},
	}
}

func defaultMap() map[string]any {
	d := Defaults()
	return map[string]any{
		"log_level":             d.LogLevel,
		"flake_id":              d.FlakeID,
		"seed":                  d.Seed,
		"count":                 d.Count,
		"record_paths":          d.RecordPaths,
		"snapshot_dir":          d.SnapshotDir,
		"store_path":            d.StorePath,
		"engine.domain_size":    d.Engine.DomainSize,
		"engine.crystal_radius": d.Engine.CrystalRadius,
		"engine.step_size":      d.Engine.StepSize,
		"engine.drift_angle":    d.Engine.DriftAngle,
		"engine.max_steps":      d.Engine.MaxSteps,
		"export.path":           d.Export.Path,
		"export.n":              d.Export.N,
		"export.size":           d.Export.Size,
		"export.crystal_scale":  d.Export.CrystalScale,
		"export.style":          d.Export.Style,
		"server.addr":           d.Server.Addr,
		"server.snapshot_every": d.Server.SnapshotEvery,
	}
}

// findConfigFile returns the explicit path or the first default name present.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range configFileNames {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// envKey turns SNOWDLA_ENGINE__STEP_SIZE into engine.step_size.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Load builds the configuration. cfgFile may be empty; flags may be nil.
// Only flags that were explicitly set override lower layers.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = used

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that can be checked without an aggregate.
func (c *Config) Validate() error {
	errs := []error{c.Engine.Validate()}

	if c.Count < 0 {
		errs = append(errs, fmt.Errorf("%w: count must be >= 0, got %d", dla.ErrInvalidArgument, c.Count))
	}
	if c.Export.N <= 0 {
		errs = append(errs, fmt.Errorf("%w: export.n must be > 0, got %d", dla.ErrInvalidArgument, c.Export.N))
	}
	if !(c.Export.Size > 0) {
		errs = append(errs, fmt.Errorf("%w: export.size must be > 0, got %v", dla.ErrInvalidArgument, c.Export.Size))
	}
	if !(c.Export.CrystalScale > 0) {
		errs = append(errs, fmt.Errorf("%w: export.crystal_scale must be > 0, got %v", dla.ErrInvalidArgument, c.Export.CrystalScale))
	}
	if c.Export.Style != export.StyleCircles {
		errs = append(errs, fmt.Errorf("%w: unknown export.style %q", dla.ErrInvalidArgument, c.Export.Style))
	}
	if c.Server.SnapshotEvery < 0 {
		errs = append(errs, fmt.Errorf("%w: server.snapshot_every must be >= 0", dla.ErrInvalidArgument))
	}
	return errors.Join(errs...)
}

// EngineOptions converts the seed and path settings into engine options.
func (c *Config) EngineOptions() []dla.Option {
	opts := []dla.Option{dla.WithPathRecording(c.RecordPaths)}
	if c.Seed != 0 {
		opts = append(opts, dla.WithSeed(c.Seed))
	}
	return opts
}
