package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	busmem "github.com/agoramarkets/parimutuel/internal/bus/memory"
	"github.com/agoramarkets/parimutuel/internal/domain"
)

func dialHub(t *testing.T, hub *Hub, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func TestHandleWS_SendsWelcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(busmem.NewSignalBus(), slog.New(slog.DiscardHandler))
	go hub.Run(ctx)

	conn := dialHub(t, hub, "")
	frame := readFrame(t, conn)
	assert.Equal(t, "feed_status", frame["type"])
}

func TestHandleWS_ReplaysStreamBacklog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := busmem.NewSignalBus()
	for _, eventType := range []string{domain.EventMarketCreated, domain.EventMarketClosed} {
		env, err := domain.NewEvent(eventType, "0x01", time.Now(), nil)
		require.NoError(t, err)
		payload, err := json.Marshal(env)
		require.NoError(t, err)
		require.NoError(t, bus.StreamAppend(ctx, domain.ChannelMarkets, payload))
	}

	hub := NewHub(bus, slog.New(slog.DiscardHandler))
	go hub.Run(ctx)

	conn := dialHub(t, hub, "?replay_from=0")

	frame := readFrame(t, conn)
	require.Equal(t, "feed_status", frame["type"])

	frame = readFrame(t, conn)
	assert.Equal(t, domain.EventMarketCreated, frame["type"])
	frame = readFrame(t, conn)
	assert.Equal(t, domain.EventMarketClosed, frame["type"])
}
