package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniacca/snowdla/internal/dla"
	"github.com/daniacca/snowdla/internal/dla/notifiers"
	"github.com/daniacca/snowdla/internal/store"
)

func testParams() dla.Parameters {
	return dla.Parameters{
		DomainSize:    4,
		CrystalRadius: 1,
		StepSize:      0.5,
		DriftAngle:    dla.DefaultDriftAngle,
		MaxSteps:      100_000,
	}
}

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Defaults == (dla.Parameters{}) {
		cfg.Defaults = testParams()
	}
	s, err := New(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Close()
	})
	return s, ts
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func createFlake(t *testing.T, ts *httptest.Server, id, body string) {
	t.Helper()
	resp, out := do(t, http.MethodPost, ts.URL+"/flakes/"+id, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
}

func TestNew_InvalidDefaults(t *testing.T) {
	_, err := New(Config{Defaults: dla.Parameters{DomainSize: -1}})
	assert.ErrorIs(t, err, dla.ErrInvalidArgument)
}

func TestFlakeLifecycle(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, body := do(t, http.MethodPost, ts.URL+"/flakes/alpha", `{"seed": 7}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	var info flakeInfo
	require.NoError(t, json.Unmarshal([]byte(body), &info))
	assert.Equal(t, dla.FlakeID("alpha"), info.ID)
	assert.Equal(t, 1, info.Points)
	assert.Equal(t, int64(7), info.Seed)
	assert.Equal(t, testParams(), info.Parameters)

	resp, body = do(t, http.MethodPost, ts.URL+"/flakes/alpha/grow?n=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var grown growResponse
	require.NoError(t, json.Unmarshal([]byte(body), &grown))
	assert.Equal(t, 5, grown.Grown)
	assert.Equal(t, 6, grown.Points)

	resp, body = do(t, http.MethodGet, ts.URL+"/flakes/alpha/points", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var points struct {
		Points []dla.Point `json:"points"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &points))
	require.Len(t, points.Points, 6)
	assert.Equal(t, dla.Origin, points.Points[0])

	resp, body = do(t, http.MethodGet, ts.URL+"/flakes/alpha/bonds", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bonds struct {
		Bonds []dla.Bond `json:"bonds"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &bonds))
	require.Len(t, bonds.Bonds, 5)
	for i, b := range bonds.Bonds {
		assert.Equal(t, i+1, b.Child)
		assert.Less(t, b.Parent, b.Child)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/flakes", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Flakes []flakeInfo `json:"flakes"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Len(t, list.Flakes, 1)
	assert.Equal(t, 6, list.Flakes[0].Points)

	resp, _ = do(t, http.MethodDelete, ts.URL+"/flakes/alpha", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, ts.URL+"/flakes/alpha", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateFlake_PartialParameters(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, body := do(t, http.MethodPost, ts.URL+"/flakes/p", `{"parameters": {"step_size": 0.25}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	var info flakeInfo
	require.NoError(t, json.Unmarshal([]byte(body), &info))
	want := testParams()
	want.StepSize = 0.25
	assert.Equal(t, want, info.Parameters)
}

func TestStatusMapping(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	createFlake(t, ts, "a", "")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"duplicate", http.MethodPost, "/flakes/a", "", http.StatusConflict},
		{"invalid parameters", http.MethodPost, "/flakes/b", `{"parameters": {"crystal_radius": 0}}`, http.StatusBadRequest},
		{"invalid json", http.MethodPost, "/flakes/c", `{`, http.StatusBadRequest},
		{"grow missing", http.MethodPost, "/flakes/zzz/grow", "", http.StatusNotFound},
		{"grow negative", http.MethodPost, "/flakes/a/grow?n=-1", "", http.StatusBadRequest},
		{"grow garbage", http.MethodPost, "/flakes/a/grow?n=x", "", http.StatusBadRequest},
		{"points missing", http.MethodGet, "/flakes/zzz/points", "", http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/flakes/zzz", "", http.StatusNotFound},
		{"export n too large", http.MethodGet, "/flakes/a/export.svg?n=5", "", http.StatusBadRequest},
		{"export bad size", http.MethodGet, "/flakes/a/export.svg?size=0", "", http.StatusBadRequest},
		{"export bad style", http.MethodGet, "/flakes/a/export.svg?style=lines", "", http.StatusBadRequest},
		{"snapshot not configured", http.MethodPost, "/flakes/a/snapshot", "", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, ts.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, body)
		})
	}
}

func TestGrow_DivergentWalk(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	// one step can never cover the distance from the spawn edge to the seed
	createFlake(t, ts, "d", `{"parameters": {"max_steps": 1}}`)

	resp, body := do(t, http.MethodPost, ts.URL+"/flakes/d/grow?n=3", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "divergent walk")

	resp, body = do(t, http.MethodGet, ts.URL+"/flakes/d", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info flakeInfo
	require.NoError(t, json.Unmarshal([]byte(body), &info))
	assert.Equal(t, 1, info.Points)
}

func TestExportSVG(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	createFlake(t, ts, "e", `{"seed": 3}`)
	resp, _ := do(t, http.MethodPost, ts.URL+"/flakes/e/grow?n=4", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodGet, ts.URL+"/flakes/e/export.svg?n=2&size=2&crystal_scale=0.5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, "<svg")
	assert.Equal(t, 24, strings.Count(body, "<circle"))

	resp, body = do(t, http.MethodGet, ts.URL+"/flakes/e/export.svg", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, 60, strings.Count(body, "<circle"))
}

func TestSnapshot_FileAndStore(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, ts := newTestServer(t, Config{SnapshotDir: dir, Store: st, RecordPaths: true})
	createFlake(t, ts, "s", `{"seed": 11}`)
	resp, _ := do(t, http.MethodPost, ts.URL+"/flakes/s/grow?n=3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodPost, ts.URL+"/flakes/s/snapshot", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var res snapshotResult
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, filepath.Join(dir, "s.snapshot.json"), res.Path)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 4, res.Points)

	snap, err := dla.LoadSnapshotFile(res.Path)
	require.NoError(t, err)
	assert.Len(t, snap.Points, 4)
	assert.Len(t, snap.Paths, 3)

	stored, err := st.LoadFlake(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, snap.Points, stored.Points)

	resp, body = do(t, http.MethodGet, ts.URL+"/flakes/s/snapshot?paths=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	live, err := dla.DecodeSnapshotJSON([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, snap.Points, live.Points)
	assert.Len(t, live.Paths, 3)
}

func TestLoadStored(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	first, ts := newTestServer(t, Config{Store: st})
	createFlake(t, ts, "keep", `{"seed": 5}`)
	resp, _ := do(t, http.MethodPost, ts.URL+"/flakes/keep/grow?n=4", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, ts.URL+"/flakes/keep/snapshot", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f, ok := first.Manager().GetFlake("keep")
	require.True(t, ok)
	want := f.Snapshot(false).Points

	second, err := New(Config{Defaults: testParams(), Store: st})
	require.NoError(t, err)
	defer second.Close()

	n, err := second.LoadStored(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	restored, ok := second.Manager().GetFlake("keep")
	require.True(t, ok)
	assert.Equal(t, want, restored.Snapshot(false).Points)

	grown, err := restored.Grow(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, grown)
}

func TestSnapshotEvery(t *testing.T) {
	dir := t.TempDir()
	_, ts := newTestServer(t, Config{SnapshotDir: dir, SnapshotEvery: 3})
	createFlake(t, ts, "auto", "")
	path := filepath.Join(dir, "auto.snapshot.json")

	resp, _ := do(t, http.MethodPost, ts.URL+"/flakes/auto/grow?n=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	resp, _ = do(t, http.MethodPost, ts.URL+"/flakes/auto/grow?n=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap, err := dla.LoadSnapshotFile(path)
	require.NoError(t, err)
	assert.Len(t, snap.Points, 4)
}

func TestNotifiers_Webhook(t *testing.T) {
	var (
		mu     sync.Mutex
		events []dla.AttachEvent
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev dla.AttachEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	_, ts := newTestServer(t, Config{})

	resp, body := do(t, http.MethodPost, ts.URL+"/notifiers",
		`{"type": "webhook", "id": "hook", "config": {"url": "`+hook.URL+`"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	resp, body = do(t, http.MethodGet, ts.URL+"/notifiers", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Notifiers []notifierInfo `json:"notifiers"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	assert.Equal(t, []notifierInfo{{ID: "hook", Type: "webhook"}, {ID: "ws", Type: "websocket"}}, list.Notifiers)

	createFlake(t, ts, "w", "")
	resp, _ = do(t, http.MethodPost, ts.URL+"/flakes/w/grow?n=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, dla.FlakeID("w"), events[0].FlakeID)
	assert.Equal(t, 1, events[0].Index)
	assert.Equal(t, 2, events[1].Index)
	mu.Unlock()

	resp, _ = do(t, http.MethodDelete, ts.URL+"/notifiers/hook", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, ts.URL+"/notifiers/hook", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, ts.URL+"/notifiers/ws", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotifiers_RegisterErrors(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, _ := do(t, http.MethodPost, ts.URL+"/notifiers", `{"type": "webhook", "id": ""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, ts.URL+"/notifiers", `{"type": "webhook", "id": "x", "config": {}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, ts.URL+"/notifiers", `{"type": "carrier-pigeon", "id": "x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, ts.URL+"/notifiers", `{"type": "webhook", "id": "x", "config": {"url": "http://localhost", "flakes": "a"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, ts.URL+"/notifiers", `{"type": "webhook", "id": "x", "config": {"url": "http://localhost", "flakes": [1]}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, ts.URL+"/notifiers", `{"type": "webhook", "id": "x", "config": {"url": "http://localhost", "headers": {"X-N": 1}}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, ts.URL+"/notifiers", `{"type": "webhook", "id": "ws", "config": {"url": "http://localhost"}}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestNotifiers_WebhookFlakeSubscription(t *testing.T) {
	var (
		mu     sync.Mutex
		events []dla.AttachEvent
		routed []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev dla.AttachEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			mu.Lock()
			events = append(events, ev)
			routed = append(routed, r.Header.Get(notifiers.HeaderFlake))
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	_, ts := newTestServer(t, Config{})

	resp, body := do(t, http.MethodPost, ts.URL+"/notifiers",
		`{"type": "webhook", "id": "hook", "config": {"url": "`+hook.URL+`", "flakes": ["w"]}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	createFlake(t, ts, "other", "")
	createFlake(t, ts, "w", "")
	resp, _ = do(t, http.MethodPost, ts.URL+"/flakes/other/grow?n=3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, ts.URL+"/flakes/w/grow?n=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 5*time.Second, 10*time.Millisecond)

	assert.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 2
	}, 200*time.Millisecond, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	for i, ev := range events {
		assert.Equal(t, dla.FlakeID("w"), ev.FlakeID)
		assert.Equal(t, "w", routed[i])
	}
}

func TestStream(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.stream.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	createFlake(t, ts, "live", `{"seed": 9}`)
	resp, _ := do(t, http.MethodPost, ts.URL+"/flakes/live/grow?n=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev dla.AttachEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, dla.FlakeID("live"), ev.FlakeID)
	assert.Equal(t, 1, ev.Index)
	assert.Equal(t, 0, ev.Parent)
	assert.Equal(t, 1, ev.Generation)
}
