package cli

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daniacca/snowdla/internal/config"
	"github.com/daniacca/snowdla/internal/dla"
)

// NewBatchCommand creates the batch command.
func NewBatchCommand() *cobra.Command {
	var (
		flakes   int
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Grow several independent flakes in parallel",
		Long: `Grow --flakes flakes concurrently, one engine per flake. Flake i uses
seed base+i, where base is --seed or a clock value. Output files get the
flake index appended to their name.`,
		Example: `  snowdla batch --flakes 8 --count 1000 --seed 100 -o out/flake.svg`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flakes <= 0 {
				return fmt.Errorf("%w: --flakes must be > 0", dla.ErrInvalidArgument)
			}
			if parallel <= 0 {
				parallel = runtime.NumCPU()
			}

			cfg := configFrom(cmd)
			logger := loggerFrom(cmd)

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}

			base := cfg.Seed
			if base == 0 {
				base = time.Now().UnixNano()
			}

			reports := make([]growReport, flakes)
			eg, ctx := errgroup.WithContext(cmd.Context())
			eg.SetLimit(parallel)
			for i := range flakes {
				job := growJob{
					ID:      dla.FlakeID(fmt.Sprintf("%s-%d", cfg.FlakeID, i)),
					Seed:    base + int64(i),
					SVGPath: indexedPath(cfg.Export.Path, i),
				}
				eg.Go(func() error {
					r, err := runGrowth(ctx, cfg, job, logger.With("worker", i), st)
					if err != nil {
						return err
					}
					reports[i] = r
					return nil
				})
			}
			if err := eg.Wait(); err != nil {
				return err
			}

			renderReports(cmd.OutOrStdout(), reports)
			return nil
		},
	}

	d := config.Defaults()
	cmd.Flags().IntVar(&flakes, "flakes", 4, "number of flakes to grow")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "maximum concurrent engines (default: number of CPUs)")
	addGrowFlags(cmd.Flags(), d)
	addExportFlags(cmd.Flags(), d)
	return cmd
}

// indexedPath turns "out/flake.svg" into "out/flake-3.svg".
func indexedPath(path string, i int) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), i, ext)
}
