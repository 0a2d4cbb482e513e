package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantwatch-backend/internal/monitor"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("plant"))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, plantID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?plant=" + plantID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsToPlantSubscribers(t *testing.T) {
	hub, srv := startHub(t)
	a := dial(t, srv, "plant-a")
	b := dial(t, srv, "plant-b")
	require.Eventually(t, func() bool {
		return hub.ClientCount("plant-a") == 1 && hub.ClientCount("plant-b") == 1
	}, 2*time.Second, 10*time.Millisecond)

	evt := monitor.Event{Type: monitor.EventPlantHealth, PlantID: "plant-a", At: time.Now().UTC(), Payload: map[string]int{"health": 75}}
	require.NoError(t, hub.Publish(context.Background(), evt))

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := a.ReadMessage()
	require.NoError(t, err)
	var got monitor.Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, monitor.EventPlantHealth, got.Type)
	assert.Equal(t, "plant-a", got.PlantID)

	require.NoError(t, b.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = b.ReadMessage()
	assert.Error(t, err, "other plants receive nothing")
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "plant-a")
	require.Eventually(t, func() bool { return hub.ClientCount("plant-a") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount("plant-a") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPublishWhenQueueFull(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < cap(hub.broadcast); i++ {
		require.NoError(t, hub.Publish(context.Background(), monitor.Event{PlantID: "p"}))
	}
	assert.ErrorIs(t, hub.Publish(context.Background(), monitor.Event{PlantID: "p"}), ErrHubBusy)
}
