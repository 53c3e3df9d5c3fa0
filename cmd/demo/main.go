// Command demo drives a running snowdla server: it creates a flake, grows it
// in chunks while listening on the attach stream, and downloads the image.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/daniacca/snowdla/internal/dla"
	"github.com/daniacca/snowdla/internal/logging"
	"github.com/daniacca/snowdla/pkg/client"
)

type demoOptions struct {
	server   string
	flake    string
	seed     int64
	count    int
	chunk    int
	output   string
	snapshot bool
	fresh    bool
	logLevel string
}

func main() {
	if err := newDemoCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newDemoCmd() *cobra.Command {
	var opts demoOptions

	cmd := &cobra.Command{
		Use:           "demo",
		Short:         "Grow a flake on a running snowdla server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := logging.NewLogger(opts.logLevel, cmd.ErrOrStderr())
			return runDemo(ctx, opts, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "http://localhost:8080", "server base URL")
	f.StringVar(&opts.flake, "flake", "demo", "flake ID")
	f.Int64Var(&opts.seed, "seed", 0, "random seed (0 lets the server pick)")
	f.IntVar(&opts.count, "count", 300, "crystals to grow")
	f.IntVar(&opts.chunk, "chunk", 50, "crystals per grow request")
	f.StringVarP(&opts.output, "output", "o", "demo.svg", "where to write the SVG")
	f.BoolVar(&opts.snapshot, "snapshot", false, "ask the server to save a snapshot at the end")
	f.BoolVar(&opts.fresh, "fresh", false, "delete an existing flake with the same ID first")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level")
	return cmd
}

func runDemo(ctx context.Context, opts demoOptions, logger *slog.Logger) error {
	if opts.chunk <= 0 {
		return fmt.Errorf("%w: --chunk must be > 0", dla.ErrInvalidArgument)
	}
	c := client.New(opts.server)
	if err := c.Health(ctx); err != nil {
		return fmt.Errorf("server not reachable: %w", err)
	}

	if opts.fresh {
		if err := c.DeleteFlake(ctx, opts.flake); err != nil && !errors.Is(err, dla.ErrFlakeNotFound) {
			return err
		}
	}

	info, err := c.CreateFlake(ctx, client.NewFlake(opts.flake).Seed(opts.seed))
	if err != nil {
		return err
	}
	logger.Info("flake created", "flake_id", info.ID, "seed", info.Seed, "domain_size", info.Parameters.DomainSize)

	var attached atomic.Int64
	stopStream := watchStream(ctx, opts.server, dla.FlakeID(opts.flake), &attached, logger)
	defer stopStream()

	for grown := 0; grown < opts.count; {
		n := min(opts.chunk, opts.count-grown)
		res, err := c.Grow(ctx, opts.flake, n)
		if err != nil {
			return err
		}
		grown += res.Grown
		logger.Info("grew", "points", res.Points, "streamed", attached.Load())
	}

	svg, err := c.ExportSVG(ctx, opts.flake, client.ExportParams{})
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.output, svg, 0o644); err != nil {
		return fmt.Errorf("%w: %v", dla.ErrIOFailure, err)
	}
	logger.Info("image written", "path", opts.output, "bytes", len(svg))

	if opts.snapshot {
		res, err := c.SaveSnapshot(ctx, opts.flake)
		if err != nil {
			return err
		}
		logger.Info("snapshot saved", "path", res.Path, "run_id", res.RunID)
	}
	return nil
}

// watchStream counts attach events for the flake until the returned func is
// called. A failed dial only disables counting.
func watchStream(ctx context.Context, server string, id dla.FlakeID, count *atomic.Int64, logger *slog.Logger) func() {
	url := "ws" + strings.TrimPrefix(server, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		logger.Warn("attach stream unavailable", "url", url, "error", err)
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev dla.AttachEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				logger.Debug("bad stream message", "error", err)
				continue
			}
			if ev.FlakeID == id {
				count.Add(1)
			}
		}
	}()

	return func() {
		_ = conn.Close()
		<-done
	}
}
