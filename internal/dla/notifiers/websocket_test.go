package notifiers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/daniacca/snowdla/internal/dla"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebSocketNotifier(t *testing.T) {
	notifier := NewWebSocketNotifier("test-ws")
	defer notifier.Close()

	assert.Equal(t, "test-ws", notifier.ID())
	assert.Equal(t, "websocket", notifier.Type())
	assert.Equal(t, 0, notifier.ClientCount())

	dialNotifier(t, notifier)
	assert.Equal(t, 1, notifier.ClientCount())
}

func TestWebSocketNotifier_RejectsPlainHTTP(t *testing.T) {
	notifier := NewWebSocketNotifier("ws")
	defer notifier.Close()
	srv := httptest.NewServer(notifier)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, notifier.ClientCount())
}

func dialNotifier(t *testing.T, notifier *WebSocketNotifier) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(notifier)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return notifier.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func TestWebSocketNotifier_Broadcast(t *testing.T) {
	notifier := NewWebSocketNotifier("ws")
	defer notifier.Close()
	conn := dialNotifier(t, notifier)

	event := dla.AttachEvent{FlakeID: "f", Index: 4, Parent: 2, Point: dla.Point{X: 1.5, Y: 0.25}}
	require.NoError(t, notifier.Notify(context.Background(), event))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got dla.AttachEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, event, got)
}

func TestWebSocketNotifier_ClientDisconnect(t *testing.T) {
	notifier := NewWebSocketNotifier("ws")
	defer notifier.Close()
	conn := dialNotifier(t, notifier)

	conn.Close()
	require.Eventually(t, func() bool { return notifier.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketNotifier_NotifyAfterClose(t *testing.T) {
	notifier := NewWebSocketNotifier("ws")
	require.NoError(t, notifier.Close())
	require.NoError(t, notifier.Close())

	err := notifier.Notify(context.Background(), dla.AttachEvent{})
	assert.Error(t, err)
}

func TestWebSocketNotifier_WithManager(t *testing.T) {
	notifier := NewWebSocketNotifier("ws")
	conn := dialNotifier(t, notifier)

	nm := dla.NewNotificationManager(nil)
	defer nm.Close()
	require.NoError(t, nm.RegisterNotifier(notifier))

	e, err := dla.New(dla.Parameters{DomainSize: 3, CrystalRadius: 1, StepSize: 0.5, DriftAngle: 0.2, MaxSteps: 100000},
		dla.WithSeed(1), dla.WithObserver(nm), dla.WithID("live"))
	require.NoError(t, err)
	_, err = e.GrowOne()
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got dla.AttachEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, dla.FlakeID("live"), got.FlakeID)
	assert.Equal(t, 1, got.Index)
}
