package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/daniacca/snowdla/internal/dla"
	"github.com/daniacca/snowdla/internal/dla/notifiers"
	"github.com/daniacca/snowdla/internal/export"
	"github.com/daniacca/snowdla/internal/store"
)

var errNoSnapshotTarget = errors.New("no snapshot directory or store configured")

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dla.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, dla.ErrDivergentWalk):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dla.ErrFlakeNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dla.ErrFlakeExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// flake resolves the {flakeID} URL parameter.
func (s *Server) flake(r *http.Request) (*dla.Flake, error) {
	id := dla.FlakeID(chi.URLParam(r, "flakeID"))
	f, ok := s.manager.GetFlake(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", dla.ErrFlakeNotFound, id)
	}
	return f, nil
}

type flakeInfo struct {
	ID         dla.FlakeID    `json:"id"`
	Points     int            `json:"points"`
	Radius     float64        `json:"radius"`
	Seed       int64          `json:"seed"`
	Parameters dla.Parameters `json:"parameters"`
}

func describe(f *dla.Flake) flakeInfo {
	var info flakeInfo
	f.View(func(e *dla.Engine) {
		info = flakeInfo{
			ID:         e.ID(),
			Points:     e.Len(),
			Radius:     e.Radius(),
			Seed:       e.Seed(),
			Parameters: e.Parameters(),
		}
	})
	return info
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GET /flakes
func (s *Server) handleListFlakes(w http.ResponseWriter, _ *http.Request) {
	ids := s.manager.ListFlakes()
	flakes := make([]flakeInfo, 0, len(ids))
	for _, id := range ids {
		if f, ok := s.manager.GetFlake(id); ok {
			flakes = append(flakes, describe(f))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"flakes": flakes})
}

// POST /flakes/{flakeID}
// Body (optional): { "parameters": {...}, "seed": 42, "record_paths": true }
// Missing parameter fields keep the server defaults.
type createFlakeRequest struct {
	Parameters  dla.Parameters `json:"parameters"`
	Seed        int64          `json:"seed"`
	RecordPaths *bool          `json:"record_paths"`
}

func (s *Server) handleCreateFlake(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	req := createFlakeRequest{Parameters: s.cfg.Defaults}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	recordPaths := s.cfg.RecordPaths
	if req.RecordPaths != nil {
		recordPaths = *req.RecordPaths
	}
	opts := append(s.engineOptions(), dla.WithPathRecording(recordPaths))
	if req.Seed != 0 {
		opts = append(opts, dla.WithSeed(req.Seed))
	}

	id := dla.FlakeID(chi.URLParam(r, "flakeID"))
	f, err := s.manager.CreateFlake(id, req.Parameters, opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("flake created", "flake_id", id)
	writeJSON(w, http.StatusCreated, describe(f))
}

// GET /flakes/{flakeID}
func (s *Server) handleGetFlake(w http.ResponseWriter, r *http.Request) {
	f, err := s.flake(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(f))
}

// DELETE /flakes/{flakeID}
func (s *Server) handleDeleteFlake(w http.ResponseWriter, r *http.Request) {
	id := dla.FlakeID(chi.URLParam(r, "flakeID"))
	if err := s.manager.DeleteFlake(id); err != nil {
		s.logger.Warn("failed to delete flake", "flake_id", id, "error", err)
		writeError(w, err)
		return
	}
	s.resetGrowth(id)
	s.logger.Info("flake deleted", "flake_id", id)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("flake deleted"))
}

type growResponse struct {
	FlakeID dla.FlakeID `json:"flake_id"`
	Grown   int         `json:"grown"`
	Points  int         `json:"points"`
}

// POST /flakes/{flakeID}/grow?n=1
func (s *Server) handleGrow(w http.ResponseWriter, r *http.Request) {
	f, err := s.flake(r)
	if err != nil {
		writeError(w, err)
		return
	}

	n := 1
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid n: must be a non-negative integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	grown, err := f.Grow(r.Context(), n)
	s.trackGrowth(r.Context(), f, grown)
	if err != nil {
		s.logger.Warn("growth stopped", "flake_id", f.ID(), "grown", grown, "error", err)
		writeError(w, err)
		return
	}

	var total int
	f.View(func(e *dla.Engine) { total = e.Len() })
	writeJSON(w, http.StatusOK, growResponse{FlakeID: f.ID(), Grown: grown, Points: total})
}

// GET /flakes/{flakeID}/points
func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	f, err := s.flake(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var points []dla.Point
	f.View(func(e *dla.Engine) { points = e.Aggregate() })
	writeJSON(w, http.StatusOK, map[string]any{"flake_id": f.ID(), "points": points})
}

// GET /flakes/{flakeID}/bonds
func (s *Server) handleBonds(w http.ResponseWriter, r *http.Request) {
	f, err := s.flake(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var bonds []dla.Bond
	f.View(func(e *dla.Engine) { bonds = e.Bonds() })
	writeJSON(w, http.StatusOK, map[string]any{"flake_id": f.ID(), "bonds": bonds})
}

// exportOptions reads n, size, crystal_scale and style from the query.
// n defaults to the whole aggregate.
func exportOptions(r *http.Request, available int) (export.Options, error) {
	opts := export.DefaultOptions()
	opts.Path = ""
	opts.N = available

	q := r.URL.Query()
	if v := q.Get("n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("%w: n: %v", dla.ErrInvalidArgument, err)
		}
		opts.N = n
	}
	for key, dst := range map[string]*float64{"size": &opts.Size, "crystal_scale": &opts.CrystalScale} {
		if v := q.Get(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return opts, fmt.Errorf("%w: %s: %v", dla.ErrInvalidArgument, key, err)
			}
			*dst = f
		}
	}
	if v := q.Get("style"); v != "" {
		opts.Style = v
	}
	return opts, nil
}

// GET /flakes/{flakeID}/export.svg
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := s.flake(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var (
		points []dla.Point
		domain float64
	)
	f.View(func(e *dla.Engine) {
		points = e.Aggregate()
		domain = e.Parameters().DomainSize
	})

	opts, err := exportOptions(r, len(points))
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := export.Render(points, domain, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteSVG(&buf, res); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// POST /flakes/{flakeID}/snapshot
// Saves synchronously to the snapshot directory and/or the store.
func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	f, err := s.flake(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.saveSnapshot(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to save snapshot", "flake_id", f.ID(), "error", err)
		writeError(w, err)
		return
	}
	s.resetGrowth(f.ID())
	writeJSON(w, http.StatusOK, res)
}

// GET /flakes/{flakeID}/snapshot?paths=true
// Returns the current state in snapshot form.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	f, err := s.flake(r)
	if err != nil {
		writeError(w, err)
		return
	}
	withPaths, _ := strconv.ParseBool(r.URL.Query().Get("paths"))
	data, err := dla.EncodeSnapshotJSON(f.Snapshot(withPaths))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type notifierInfo struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// GET /notifiers
func (s *Server) handleListNotifiers(w http.ResponseWriter, _ *http.Request) {
	ids := s.notifications.ListNotifiers()
	list := make([]notifierInfo, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.notifications.GetNotifier(id); ok {
			list = append(list, notifierInfo{ID: id, Type: n.Type()})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifiers": list})
}

// POST /notifiers
// Body: { "type": "webhook", "id": "my-webhook", "config": { "url": "http://...", "headers": {...}, "flakes": ["a", "b"] } }
type registerNotifierRequest struct {
	Type   string         `json:"type"`
	ID     string         `json:"id"`
	Config map[string]any `json:"config"`
}

func (s *Server) handleRegisterNotifier(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req registerNotifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "notifier ID is required", http.StatusBadRequest)
		return
	}

	var notifier dla.Notifier
	switch req.Type {
	case "webhook":
		url, ok := req.Config["url"].(string)
		if !ok || url == "" {
			http.Error(w, "webhook URL is required", http.StatusBadRequest)
			return
		}
		opts, err := webhookOptions(req.Config)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		notifier = notifiers.NewWebhookNotifier(req.ID, url, opts...)
	default:
		http.Error(w, "unknown notifier type: "+req.Type, http.StatusBadRequest)
		return
	}

	if err := s.notifications.RegisterNotifier(notifier); err != nil {
		http.Error(w, "cannot register notifier: "+err.Error(), http.StatusConflict)
		return
	}
	s.logger.Info("notifier registered", "notifier_id", req.ID, "type", req.Type)

	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte("notifier registered"))
}

// webhookOptions reads the optional "headers" object and "flakes" list of
// a webhook registration.
func webhookOptions(cfg map[string]any) ([]notifiers.WebhookOption, error) {
	var opts []notifiers.WebhookOption
	if raw, ok := cfg["headers"]; ok {
		headers, ok := raw.(map[string]any)
		if !ok {
			return nil, errors.New("webhook headers must be an object")
		}
		for k, v := range headers {
			vStr, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("webhook header %q must be a string", k)
			}
			opts = append(opts, notifiers.WithHeader(k, vStr))
		}
	}
	if raw, ok := cfg["flakes"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, errors.New("webhook flakes must be a list of flake IDs")
		}
		ids := make([]dla.FlakeID, 0, len(list))
		for _, v := range list {
			id, ok := v.(string)
			if !ok || id == "" {
				return nil, errors.New("webhook flakes must be a list of flake IDs")
			}
			ids = append(ids, dla.FlakeID(id))
		}
		opts = append(opts, notifiers.WithFlakes(ids...))
	}
	return opts, nil
}

// DELETE /notifiers/{notifierID}
func (s *Server) handleUnregisterNotifier(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notifierID")
	if id == StreamNotifierID {
		http.Error(w, "the stream notifier cannot be removed", http.StatusBadRequest)
		return
	}
	if err := s.notifications.UnregisterNotifier(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.logger.Info("notifier unregistered", "notifier_id", id)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("notifier unregistered"))
}
