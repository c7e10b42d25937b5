package broadcaster_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tambola-live/engine/internal/broadcaster"
	"github.com/tambola-live/engine/internal/engine"
	hotmemstore "github.com/tambola-live/engine/internal/hotstate/memstore"
)

var upgrader = websocket.Upgrader{}

func newTestServer(t *testing.T, reg *broadcaster.Registry, ctx context.Context, gameID string) (*httptest.Server, func() *websocket.Conn) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		s := reg.Connect(conn, uuid.NewString(), "user-1")
		reg.Join(ctx, gameID, s)
		defer reg.Leave(s)

		s.ReadPump(func([]byte) {})
	}))

	dial := func() *websocket.Conn {
		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		return conn
	}
	return srv, dial
}

func TestEmitToRoomReachesJoinedSocket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := broadcaster.NewRegistry(hotmemstore.New(), zap.NewNop())

	srv, dial := newTestServer(t, reg, ctx, "game-1")
	defer srv.Close()

	conn := dial()
	defer conn.Close()

	// Give Connect/Join time to run on the server goroutine.
	time.Sleep(20 * time.Millisecond)

	err := reg.EmitToRoom(ctx, "game-1", &engine.Event{
		Type:    engine.EventNumberCalled,
		Payload: engine.NumberCalledPayload{Number: 42},
	})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type    string `json:"type"`
		Payload struct {
			Number int `json:"number"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, string(engine.EventNumberCalled), got.Type)
	require.Equal(t, 42, got.Payload.Number)
}

func TestEmitToRoomDoesNotReachOtherRoom(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := broadcaster.NewRegistry(hotmemstore.New(), zap.NewNop())

	srv, dial := newTestServer(t, reg, ctx, "game-1")
	defer srv.Close()

	conn := dial()
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, reg.EmitToRoom(ctx, "game-2", &engine.Event{
		Type:    engine.EventStarted,
		Payload: engine.StartedPayload{GameID: "game-2"},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err) // deadline exceeded: nothing delivered
}

func TestLeaveClosesSendAndUnsubscribes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := broadcaster.NewRegistry(hotmemstore.New(), zap.NewNop())

	srv, dial := newTestServer(t, reg, ctx, "game-1")
	defer srv.Close()

	conn := dial()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.Close()) // triggers ReadPump error -> defer Leave(s)
	time.Sleep(20 * time.Millisecond)

	// Emitting after the only socket left must not panic or block.
	require.NoError(t, reg.EmitToRoom(ctx, "game-1", &engine.Event{
		Type:    engine.EventStarted,
		Payload: engine.StartedPayload{GameID: "game-1"},
	}))
}
