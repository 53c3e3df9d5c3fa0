package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/daniacca/snowdla/internal/config"
	"github.com/daniacca/snowdla/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Serve flakes over HTTP. Flakes kept in --store are restored at startup;
attach events stream over the /ws websocket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			logger := loggerFrom(cmd)

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}

			srv, err := server.New(server.Config{
				Addr:          cfg.Server.Addr,
				Defaults:      cfg.Engine,
				RecordPaths:   cfg.RecordPaths,
				SnapshotDir:   cfg.SnapshotDir,
				SnapshotEvery: cfg.Server.SnapshotEvery,
				Store:         st,
				Logger:        logger,
			})
			if err != nil {
				return err
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			n, err := srv.LoadStored(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("restored flakes from store", "count", n)
			}
			return srv.Serve(ctx)
		},
	}

	d := config.Defaults()
	cmd.Flags().String("addr", d.Server.Addr, "HTTP listen address (e.g. :8080, 0.0.0.0:8080)")
	cmd.Flags().Int("snapshot-every", d.Server.SnapshotEvery, "save a snapshot every n grown points (0 disables)")
	return cmd
}
