package app

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gekko3d/lumen/lumenrt/rt/illumination"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialStats(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stats"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) TelemetryMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg TelemetryMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestTelemetryHelloAndBroadcast(t *testing.T) {
	hub := NewTelemetryHub(nil)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	conn := dialStats(t, srv)
	hello := readMessage(t, conn)
	assert.Equal(t, "hello", hello.Type)
	_, err := uuid.Parse(hello.Client)
	require.NoError(t, err)
	assert.Nil(t, hello.Stats)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	p := NewProfiler()
	p.SetCount("voxelized", 2)
	p.EndFrame(60)
	hub.Broadcast(p.Snapshot())

	msg := readMessage(t, conn)
	assert.Equal(t, "stats", msg.Type)
	require.NotNil(t, msg.Stats)
	assert.Equal(t, uint64(1), msg.Stats.Frame)
	assert.Equal(t, 2, msg.Stats.Counts["voxelized"])
}

func TestTelemetryLateClientGetsLatestSnapshot(t *testing.T) {
	hub := NewTelemetryHub(nil)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	hub.Broadcast(Snapshot{Frame: 7, FPS: 30})
	hello := readMessage(t, dialStats(t, srv))
	require.NotNil(t, hello.Stats)
	assert.Equal(t, uint64(7), hello.Stats.Frame)
}

func TestTelemetryClientIDsAreUnique(t *testing.T) {
	hub := NewTelemetryHub(nil)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	a := readMessage(t, dialStats(t, srv))
	b := readMessage(t, dialStats(t, srv))
	assert.NotEqual(t, a.Client, b.Client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestTelemetryDebugCommand(t *testing.T) {
	hub := NewTelemetryHub(nil)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	_, ok := hub.TakeDebug()
	assert.False(t, ok)

	conn := dialStats(t, srv)
	readMessage(t, conn)
	want := illumination.RenderDebugConfig{EditorMode: true, AOOnly: true}
	require.NoError(t, conn.WriteJSON(TelemetryCommand{Debug: &want}))

	var got illumination.RenderDebugConfig
	require.Eventually(t, func() bool {
		var ok bool
		got, ok = hub.TakeDebug()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, got)

	// Taken once.
	_, ok = hub.TakeDebug()
	assert.False(t, ok)
}

func TestTelemetryDropsClosedClients(t *testing.T) {
	hub := NewTelemetryHub(nil)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	conn := dialStats(t, srv)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast(Snapshot{Frame: 1})
}
