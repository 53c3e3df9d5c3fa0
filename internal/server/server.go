// Package server exposes flakes over HTTP: creation, growth, inspection,
// SVG export, snapshots and live attach notifications.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/daniacca/snowdla/internal/dla"
	"github.com/daniacca/snowdla/internal/dla/notifiers"
	"github.com/daniacca/snowdla/internal/logging"
	"github.com/daniacca/snowdla/internal/store"
)

// StreamNotifierID is the built-in websocket notifier served at /ws.
const StreamNotifierID = "ws"

// Config holds configuration for the server.
type Config struct {
	Addr string
	// Defaults are used when a create request carries no parameters.
	Defaults    dla.Parameters
	RecordPaths bool
	SnapshotDir string
	// SnapshotEvery saves a flake after every n grown points; 0 disables it.
	SnapshotEvery int
	// Store is optional; when set snapshots are also written to it.
	Store  *store.Store
	Logger *slog.Logger
}

// Server owns the flakes and notifiers behind the HTTP API.
type Server struct {
	cfg           Config
	logger        *slog.Logger
	manager       *dla.FlakeManager
	notifications *dla.NotificationManager
	stream        *notifiers.WebSocketNotifier

	mu    sync.Mutex
	grown map[dla.FlakeID]int
}

// New creates a server with the websocket stream already registered.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.SnapshotEvery < 0 {
		return nil, fmt.Errorf("%w: snapshot interval must be >= 0", dla.ErrInvalidArgument)
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:           cfg,
		logger:        cfg.Logger,
		manager:       dla.NewFlakeManager(),
		notifications: dla.NewNotificationManager(cfg.Logger),
		stream:        notifiers.NewWebSocketNotifier(StreamNotifierID),
		grown:         make(map[dla.FlakeID]int),
	}
	if err := s.notifications.RegisterNotifier(s.stream); err != nil {
		return nil, err
	}
	return s, nil
}

// Manager exposes the flake registry.
func (s *Server) Manager() *dla.FlakeManager {
	return s.manager
}

// Notifications exposes the notification manager.
func (s *Server) Notifications() *dla.NotificationManager {
	return s.notifications
}

// engineOptions are applied to every engine the server creates or restores.
func (s *Server) engineOptions() []dla.Option {
	return []dla.Option{
		dla.WithLogger(s.logger),
		dla.WithObserver(s.notifications),
	}
}

// LoadStored restores every flake kept in the configured store. It returns
// the number of flakes restored.
func (s *Server) LoadStored(ctx context.Context) (int, error) {
	if s.cfg.Store == nil {
		return 0, nil
	}
	infos, err := s.cfg.Store.ListFlakes(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, info := range infos {
		snap, err := s.cfg.Store.LoadFlake(ctx, info.ID)
		if err != nil {
			return restored, err
		}
		opts := append(s.engineOptions(), dla.WithPathRecording(s.cfg.RecordPaths))
		if _, err := s.manager.RestoreFlake(snap, opts...); err != nil {
			return restored, fmt.Errorf("restore flake %s: %w", info.ID, err)
		}
		s.logger.Info("flake restored", "flake_id", info.ID, "points", info.Points)
		restored++
	}
	return restored, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		requestLogger(s.logger),
		middleware.Recoverer,
	)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.stream.ServeHTTP)

	r.Route("/flakes", func(r chi.Router) {
		r.Get("/", s.handleListFlakes)
		r.Route("/{flakeID}", func(r chi.Router) {
			r.Post("/", s.handleCreateFlake)
			r.Get("/", s.handleGetFlake)
			r.Delete("/", s.handleDeleteFlake)
			r.Post("/grow", s.handleGrow)
			r.Get("/points", s.handlePoints)
			r.Get("/bonds", s.handleBonds)
			r.Get("/export.svg", s.handleExport)
			r.Post("/snapshot", s.handleSaveSnapshot)
			r.Get("/snapshot", s.handleGetSnapshot)
		})
	})

	r.Route("/notifiers", func(r chi.Router) {
		r.Get("/", s.handleListNotifiers)
		r.Post("/", s.handleRegisterNotifier)
		r.Delete("/{notifierID}", s.handleUnregisterNotifier)
	})

	return r
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting server", "addr", s.cfg.Addr)

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// Close stops notification delivery and closes every notifier.
func (s *Server) Close() error {
	return s.notifications.Close()
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// trackGrowth counts grown points per flake and saves a snapshot when the
// configured interval is reached.
func (s *Server) trackGrowth(ctx context.Context, f *dla.Flake, n int) {
	if s.cfg.SnapshotEvery == 0 || n == 0 {
		return
	}
	s.mu.Lock()
	s.grown[f.ID()] += n
	due := s.grown[f.ID()] >= s.cfg.SnapshotEvery
	if due {
		s.grown[f.ID()] = 0
	}
	s.mu.Unlock()

	if !due {
		return
	}
	if _, err := s.saveSnapshot(ctx, f); err != nil {
		s.logger.Error("periodic snapshot failed", "flake_id", f.ID(), "error", err)
	}
}

type snapshotResult struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
	RunID  string `json:"run_id,omitempty"`
	Points int    `json:"points"`
}

// saveSnapshot writes the flake to the snapshot directory and the store,
// whichever are configured.
func (s *Server) saveSnapshot(ctx context.Context, f *dla.Flake) (snapshotResult, error) {
	if s.cfg.SnapshotDir == "" && s.cfg.Store == nil {
		return snapshotResult{}, errNoSnapshotTarget
	}
	snap := f.Snapshot(s.cfg.RecordPaths)
	res := snapshotResult{Status: "ok", Points: len(snap.Points)}

	if s.cfg.SnapshotDir != "" {
		path, err := dla.SaveSnapshotFile(s.cfg.SnapshotDir, snap)
		if err != nil {
			return res, err
		}
		res.Path = path
	}
	if s.cfg.Store != nil {
		runID, err := s.cfg.Store.SaveFlake(ctx, snap)
		if err != nil {
			return res, err
		}
		res.RunID = runID
	}
	s.logger.Debug("snapshot saved", "flake_id", f.ID(), "path", res.Path, "run_id", res.RunID)
	return res, nil
}

func (s *Server) resetGrowth(id dla.FlakeID) {
	s.mu.Lock()
	delete(s.grown, id)
	s.mu.Unlock()
}
