// Package client is a typed HTTP client for the snowdla server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/daniacca/snowdla/internal/dla"
)

// Client talks to a snowdla server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New returns a client for the server at baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: baseURL, http: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is returned for any non-2xx response. It unwraps to the
// matching dla sentinel where one exists, so errors.Is(err,
// dla.ErrDivergentWalk) works across the wire.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return dla.ErrInvalidArgument
	case http.StatusUnprocessableEntity:
		return dla.ErrDivergentWalk
	case http.StatusNotFound:
		return dla.ErrFlakeNotFound
	case http.StatusConflict:
		return dla.ErrFlakeExists
	}
	return nil
}

// FlakeBuilder provides a fluent API for describing a new flake. Unset
// parameters keep the server defaults.
type FlakeBuilder struct {
	id          string
	params      map[string]any
	seed        int64
	recordPaths *bool
}

// NewFlake starts a flake description with the given ID.
func NewFlake(id string) *FlakeBuilder {
	return &FlakeBuilder{id: id, params: make(map[string]any)}
}

// DomainSize sets the spawn edge distance.
func (fb *FlakeBuilder) DomainSize(v float64) *FlakeBuilder {
	fb.params["domain_size"] = v
	return fb
}

// CrystalRadius sets the collision distance.
func (fb *FlakeBuilder) CrystalRadius(v float64) *FlakeBuilder {
	fb.params["crystal_radius"] = v
	return fb
}

// StepSize sets the walker step length.
func (fb *FlakeBuilder) StepSize(v float64) *FlakeBuilder {
	fb.params["step_size"] = v
	return fb
}

// DriftAngle sets the direction bias in radians.
func (fb *FlakeBuilder) DriftAngle(v float64) *FlakeBuilder {
	fb.params["drift_angle"] = v
	return fb
}

// MaxSteps sets the divergent walk ceiling.
func (fb *FlakeBuilder) MaxSteps(v int) *FlakeBuilder {
	fb.params["max_steps"] = v
	return fb
}

// Seed fixes the random stream; 0 lets the server pick one.
func (fb *FlakeBuilder) Seed(seed int64) *FlakeBuilder {
	fb.seed = seed
	return fb
}

// RecordPaths toggles walker path retention.
func (fb *FlakeBuilder) RecordPaths(enabled bool) *FlakeBuilder {
	fb.recordPaths = &enabled
	return fb
}

// Build returns the request body.
func (fb *FlakeBuilder) Build() map[string]any {
	body := map[string]any{}
	if len(fb.params) > 0 {
		body["parameters"] = fb.params
	}
	if fb.seed != 0 {
		body["seed"] = fb.seed
	}
	if fb.recordPaths != nil {
		body["record_paths"] = *fb.recordPaths
	}
	return body
}

// FlakeInfo summarizes a flake held by the server.
type FlakeInfo struct {
	ID         dla.FlakeID    `json:"id"`
	Points     int            `json:"points"`
	Radius     float64        `json:"radius"`
	Seed       int64          `json:"seed"`
	Parameters dla.Parameters `json:"parameters"`
}

// GrowResult reports a growth request.
type GrowResult struct {
	FlakeID dla.FlakeID `json:"flake_id"`
	Grown   int         `json:"grown"`
	Points  int         `json:"points"`
}

// SnapshotResult reports where a snapshot was saved.
type SnapshotResult struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
	RunID  string `json:"run_id,omitempty"`
	Points int    `json:"points"`
}

// ExportParams selects the rendered image. Zero fields use server defaults;
// a zero N renders the whole aggregate.
type ExportParams struct {
	N            int
	Size         float64
	CrystalScale float64
	Style        string
}

// NotifierInfo describes a registered notifier.
type NotifierInfo struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func (c *Client) url(query url.Values, elem ...string) (string, error) {
	u, err := url.JoinPath(c.baseURL, elem...)
	if err != nil {
		return "", fmt.Errorf("failed to build URL: %w", err)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u, nil
}

// do sends the request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, u string, body any) ([]byte, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, method, u string, body, out any) error {
	data, err := c.do(ctx, method, u, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Health reports whether the server answers /healthz.
func (c *Client) Health(ctx context.Context) error {
	u, err := c.url(nil, "healthz")
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodGet, u, nil)
	return err
}

// CreateFlake creates a flake on the server.
func (c *Client) CreateFlake(ctx context.Context, fb *FlakeBuilder) (FlakeInfo, error) {
	var info FlakeInfo
	u, err := c.url(nil, "flakes", fb.id)
	if err != nil {
		return info, err
	}
	err = c.getJSON(ctx, http.MethodPost, u, fb.Build(), &info)
	return info, err
}

// GetFlake returns the summary of one flake.
func (c *Client) GetFlake(ctx context.Context, id string) (FlakeInfo, error) {
	var info FlakeInfo
	u, err := c.url(nil, "flakes", id)
	if err != nil {
		return info, err
	}
	err = c.getJSON(ctx, http.MethodGet, u, nil, &info)
	return info, err
}

// ListFlakes returns every flake on the server, sorted by ID.
func (c *Client) ListFlakes(ctx context.Context) ([]FlakeInfo, error) {
	var out struct {
		Flakes []FlakeInfo `json:"flakes"`
	}
	u, err := c.url(nil, "flakes")
	if err != nil {
		return nil, err
	}
	err = c.getJSON(ctx, http.MethodGet, u, nil, &out)
	return out.Flakes, err
}

// DeleteFlake removes a flake.
func (c *Client) DeleteFlake(ctx context.Context, id string) error {
	u, err := c.url(nil, "flakes", id)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, u, nil)
	return err
}

// Grow adds n points to a flake.
func (c *Client) Grow(ctx context.Context, id string, n int) (GrowResult, error) {
	var res GrowResult
	u, err := c.url(url.Values{"n": {strconv.Itoa(n)}}, "flakes", id, "grow")
	if err != nil {
		return res, err
	}
	err = c.getJSON(ctx, http.MethodPost, u, nil, &res)
	return res, err
}

// Points returns the aggregate in attachment order.
func (c *Client) Points(ctx context.Context, id string) ([]dla.Point, error) {
	var out struct {
		Points []dla.Point `json:"points"`
	}
	u, err := c.url(nil, "flakes", id, "points")
	if err != nil {
		return nil, err
	}
	err = c.getJSON(ctx, http.MethodGet, u, nil, &out)
	return out.Points, err
}

// Bonds returns the parent/child links of the aggregate.
func (c *Client) Bonds(ctx context.Context, id string) ([]dla.Bond, error) {
	var out struct {
		Bonds []dla.Bond `json:"bonds"`
	}
	u, err := c.url(nil, "flakes", id, "bonds")
	if err != nil {
		return nil, err
	}
	err = c.getJSON(ctx, http.MethodGet, u, nil, &out)
	return out.Bonds, err
}

// ExportSVG renders the flake and returns the SVG document.
func (c *Client) ExportSVG(ctx context.Context, id string, p ExportParams) ([]byte, error) {
	q := url.Values{}
	if p.N != 0 {
		q.Set("n", strconv.Itoa(p.N))
	}
	if p.Size != 0 {
		q.Set("size", strconv.FormatFloat(p.Size, 'g', -1, 64))
	}
	if p.CrystalScale != 0 {
		q.Set("crystal_scale", strconv.FormatFloat(p.CrystalScale, 'g', -1, 64))
	}
	if p.Style != "" {
		q.Set("style", p.Style)
	}
	u, err := c.url(q, "flakes", id, "export.svg")
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodGet, u, nil)
}

// SaveSnapshot asks the server to persist the flake.
func (c *Client) SaveSnapshot(ctx context.Context, id string) (SnapshotResult, error) {
	var res SnapshotResult
	u, err := c.url(nil, "flakes", id, "snapshot")
	if err != nil {
		return res, err
	}
	err = c.getJSON(ctx, http.MethodPost, u, nil, &res)
	return res, err
}

// Snapshot fetches the current state of a flake.
func (c *Client) Snapshot(ctx context.Context, id string, withPaths bool) (dla.Snapshot, error) {
	u, err := c.url(url.Values{"paths": {strconv.FormatBool(withPaths)}}, "flakes", id, "snapshot")
	if err != nil {
		return dla.Snapshot{}, err
	}
	data, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return dla.Snapshot{}, err
	}
	return dla.DecodeSnapshotJSON(data)
}

// RegisterWebhook registers a webhook notifier. With no flakes it receives
// the attach events of every flake.
func (c *Client) RegisterWebhook(ctx context.Context, id, hookURL string, headers map[string]string, flakes ...string) error {
	cfg := map[string]any{"url": hookURL}
	if len(headers) > 0 {
		cfg["headers"] = headers
	}
	if len(flakes) > 0 {
		cfg["flakes"] = flakes
	}
	u, err := c.url(nil, "notifiers")
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, u, map[string]any{"type": "webhook", "id": id, "config": cfg})
	return err
}

// ListNotifiers returns the registered notifiers.
func (c *Client) ListNotifiers(ctx context.Context) ([]NotifierInfo, error) {
	var out struct {
		Notifiers []NotifierInfo `json:"notifiers"`
	}
	u, err := c.url(nil, "notifiers")
	if err != nil {
		return nil, err
	}
	err = c.getJSON(ctx, http.MethodGet, u, nil, &out)
	return out.Notifiers, err
}

// UnregisterNotifier removes a notifier.
func (c *Client) UnregisterNotifier(ctx context.Context, id string) error {
	u, err := c.url(nil, "notifiers", id)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, u, nil)
	return err
}
