package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tambola-live/engine/internal/broadcaster"
	"github.com/tambola-live/engine/internal/config"
	"github.com/tambola-live/engine/internal/engine"
	hotmemstore "github.com/tambola-live/engine/internal/hotstate/memstore"
	"github.com/tambola-live/engine/internal/ingress"
	"github.com/tambola-live/engine/internal/model"
	storemem "github.com/tambola-live/engine/internal/store/memstore"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}

	durable := storemem.New()
	require.NoError(t, durable.CreateGame(context.Background(), &model.Game{
		ID:        "game-1",
		Status:    model.GameStatusLobby,
		CreatedBy: "creator-1",
	}))

	mgr := engine.NewManager(hotmemstore.New(), durable, fakeQueue{}, zap.NewNop())
	reg := broadcaster.NewRegistry(hotmemstore.New(), zap.NewNop())
	adapter := ingress.New(mgr, reg, nil, zap.NewNop())

	return New(cfg, reg, adapter, zap.NewNop())
}

type fakeQueue struct{}

func (fakeQueue) Enqueue(context.Context, string, string, model.Category, int) error { return nil }

func (s *Server) testRouter() http.Handler {
	mux := httprouter.New()
	mux.GET("/healthz", s.serveHealthCheck)
	mux.GET("/version", s.serveVersion)
	mux.GET("/game/:gameId/ws", s.serveWS)
	mux.GET("/game/:gameId/qr", s.serveQR)
	mux.POST("/game/:gameId/cancel", s.serveCancel)
	return mux
}

func TestServeHealthCheck(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.testRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Ok\n", rec.Body.String())
}

func TestServeVersion(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	s.testRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), releaseVersion)
}

func TestServeQRRendersPNG(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/game/game-1/qr", nil)
	s.testRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Body.Bytes())
}

func TestServeCancelRejectsNonCreator(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/game/game-1/cancel?userId=not-the-creator", nil)
	s.testRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServeCancelByCreatorSucceeds(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/game/game-1/cancel?userId=creator-1", nil)
	s.testRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServeWSRejectsMissingUserID(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/game/game-1/ws", nil)
	s.testRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeWSJoinRoundTrip(t *testing.T) {
	s := testServer(t)
	srv := httptest.NewServer(s.testRouter())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/game/game-1/ws?userId=player-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "join", "userName": "alice"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, string(engine.EventJoined), got.Type)
}
