// Package cli provides the snowdla command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/daniacca/snowdla/internal/config"
	"github.com/daniacca/snowdla/internal/dla"
	"github.com/daniacca/snowdla/internal/logging"
)

// Version is set at build time.
var Version = "0.1.0"

type configKey struct{}

type loggerKey struct{}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	defaults := config.Defaults()

	rootCmd := &cobra.Command{
		Use:   "snowdla",
		Short: "snowdla - snowflake growth by diffusion-limited aggregation",
		Long: `snowdla grows snowflake-like crystals by diffusion-limited aggregation
inside a 30 degree wedge and renders them with full 6-fold symmetry.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.LogLevel, cmd.ErrOrStderr())
			if cfg.File != "" {
				logger.Debug("using config file", "path", cfg.File)
			}

			ctx := context.WithValue(cmd.Context(), configKey{}, cfg)
			ctx = context.WithValue(ctx, loggerKey{}, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./snowdla.yaml)")
	pf.String("log-level", defaults.LogLevel, "log level (trace|debug|info|warn|error)")
	pf.Int64("seed", 0, "random seed (0 picks one from the clock)")
	pf.Float64("domain-size", defaults.Engine.DomainSize, "spawn edge distance from the seed")
	pf.Float64("crystal-radius", defaults.Engine.CrystalRadius, "collision distance between a walker and the aggregate")
	pf.Float64("step-size", defaults.Engine.StepSize, "walker step length")
	pf.Float64("drift-angle", defaults.Engine.DriftAngle, "step direction bias in radians")
	pf.Int("max-steps", defaults.Engine.MaxSteps, "steps before a walker is reported divergent")
	pf.Bool("record-paths", defaults.RecordPaths, "keep every walker path")
	pf.String("snapshot-dir", "", "directory for JSON snapshots")
	pf.String("store", "", "SQLite database for grown flakes")

	rootCmd.AddCommand(NewGrowCommand())
	rootCmd.AddCommand(NewExportCommand())
	rootCmd.AddCommand(NewBatchCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewConfigCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, dla.ErrInvalidArgument):
		return 2
	case errors.Is(err, dla.ErrDivergentWalk):
		return 3
	case errors.Is(err, dla.ErrIOFailure):
		return 4
	default:
		return 1
	}
}

func configFrom(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	cfg := config.Defaults()
	return &cfg
}

func loggerFrom(cmd *cobra.Command) *slog.Logger {
	if logger, ok := cmd.Context().Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return logging.Discard()
}
