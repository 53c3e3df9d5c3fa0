package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daniacca/snowdla/internal/config"
	"github.com/daniacca/snowdla/internal/dla"
	"github.com/daniacca/snowdla/internal/export"
)

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	var fromStore string

	cmd := &cobra.Command{
		Use:   "export [snapshot-file]",
		Short: "Render a saved flake as SVG",
		Long: `Render a flake saved earlier, either from a JSON snapshot file or,
with --from-store, from the SQLite store.`,
		Example: `  snowdla export snapshots/snowflake.snapshot.json -o flake.svg --n 300
  snowdla export --store flakes.db --from-store snowflake --size 10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			logger := loggerFrom(cmd)

			var (
				snap dla.Snapshot
				err  error
			)
			switch {
			case len(args) == 1 && fromStore != "":
				return fmt.Errorf("%w: give either a snapshot file or --from-store", dla.ErrInvalidArgument)
			case len(args) == 1:
				snap, err = dla.LoadSnapshotFile(args[0])
			case fromStore != "":
				snap, err = loadStored(cmd, cfg, dla.FlakeID(fromStore))
			default:
				return fmt.Errorf("%w: a snapshot file or --from-store is required", dla.ErrInvalidArgument)
			}
			if err != nil {
				return err
			}

			if cfg.Export.Path == "" {
				return fmt.Errorf("%w: --output is required", dla.ErrInvalidArgument)
			}
			res, err := export.Export(snap.Points, snap.Parameters.DomainSize, cfg.Export)
			if err != nil {
				return err
			}

			logger.Info("flake exported", "flake_id", snap.FlakeID, "path", cfg.Export.Path, "circles", len(res.Circles))
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d circles, %.0fx%.0f px)\n",
				cfg.Export.Path, len(res.Circles), res.Width, res.Height)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromStore, "from-store", "", "flake ID to load from --store")
	addExportFlags(cmd.Flags(), config.Defaults())
	return cmd
}

func loadStored(cmd *cobra.Command, cfg *config.Config, id dla.FlakeID) (dla.Snapshot, error) {
	st, err := openStore(cfg)
	if err != nil {
		return dla.Snapshot{}, err
	}
	if st == nil {
		return dla.Snapshot{}, fmt.Errorf("%w: --from-store needs --store", dla.ErrInvalidArgument)
	}
	defer st.Close()
	return st.LoadFlake(cmd.Context(), id)
}
