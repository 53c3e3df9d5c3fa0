package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/daniacca/snowdla/internal/dla"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List flakes kept in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("%w: --store is required", dla.ErrInvalidArgument)
			}
			defer st.Close()

			infos, err := st.ListFlakes(cmd.Context())
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "(0 flakes)")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"flake", "points", "domain", "radius", "step", "drift", "run id", "saved"})
			for _, info := range infos {
				p := info.Parameters
				t.AppendRow(table.Row{
					info.ID, info.Points, p.DomainSize, p.CrystalRadius, p.StepSize,
					fmt.Sprintf("%.4f", p.DriftAngle), info.RunID, info.SavedAt.Format(time.RFC3339),
				})
			}
			t.Render()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "(%d flakes)\n", len(infos))
			return nil
		},
	}
}
