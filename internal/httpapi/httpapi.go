// Package httpapi wires the HTTP surface named in spec.md section 6:
// health/version endpoints, the per-game websocket upgrade, and a QR
// code of the join URL. Grounded on the teacher's ServePage/web.go --
// same httprouter.Router, same security-header helper, same
// PanicHandler discipline -- generalized from static party-game pages
// to the tambola websocket/QR surface.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/tambola-live/engine/internal/apperr"
	"github.com/tambola-live/engine/internal/broadcaster"
	"github.com/tambola-live/engine/internal/config"
	"github.com/tambola-live/engine/internal/ingress"
)

const (
	releaseVersion = "1.0.0"
	httpTimeout    = 10 * time.Second
)

// Server owns the process's single *http.Server and the handlers wired
// to it.
type Server struct {
	cfg      *config.Config
	registry *broadcaster.Registry
	ingress  *ingress.Adapter
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// New builds a Server; call Serve to run it.
func New(cfg *config.Config, registry *broadcaster.Registry, adapter *ingress.Adapter, log *zap.Logger) *Server {
	s := &Server{cfg: cfg, registry: registry, ingress: adapter, log: log}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins()
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func securityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// with a bounded grace period, mirroring the teacher's ServePage.
func (s *Server) Serve(ctx context.Context) error {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		s.log.Error("recovered panic in http handler", zap.Any("panic", i), zap.String("path", r.URL.Path))
		securityHeaders(w)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "internal server error\n")
	}

	mux.GET("/healthz", s.serveHealthCheck)
	mux.GET("/version", s.serveVersion)
	mux.GET("/game/:gameId/ws", s.serveWS)
	mux.GET("/game/:gameId/qr", s.serveQR)
	mux.POST("/game/:gameId/cancel", s.serveCancel)
	registerDebugHandlers(mux)

	httpSrv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Bind(), strconv.Itoa(s.cfg.Port())),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", httpSrv.Addr))
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) serveHealthCheck(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	securityHeaders(w)
	_, _ = w.Write([]byte("Ok\n"))
}

func (s *Server) serveVersion(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	securityHeaders(w)
	_, _ = w.Write([]byte("tambola-server v" + releaseVersion + "\n"))
}

// serveWS upgrades the connection and hands it to Registry/Adapter.
// Per SPEC_FULL.md section 6, userId comes from a query parameter or,
// failing that, the first Sec-WebSocket-Protocol entry -- there is no
// browser cookie identity the way the teacher's party games use one,
// since identity here is delegated to the out-of-scope auth collaborator.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameId")
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		if protos := websocket.Subprotocols(r); len(protos) > 0 {
			userID = protos[0]
		}
	}
	if gameID == "" || userID == "" {
		http.Error(w, "missing gameId or userId", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	socket := s.registry.Connect(conn, uuid.NewString(), userID)
	s.registry.Join(r.Context(), gameID, socket)
	defer s.registry.Leave(socket)

	socket.ReadPump(func(raw []byte) {
		s.ingress.Dispatch(context.Background(), socket, gameID, raw)
	})
}

// serveCancel implements the organizer-only admin action named in
// DESIGN.md's Open Question resolution for CANCELLED: an HTTP route
// rather than a socket envelope type, since aborting a game is an
// operational action taken outside the player-facing protocol.
func (s *Server) serveCancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameId")
	userID := r.URL.Query().Get("userId")
	if gameID == "" || userID == "" {
		http.Error(w, "missing gameId or userId", http.StatusBadRequest)
		return
	}

	if err := s.ingress.Cancel(r.Context(), gameID, userID); err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			http.Error(w, appErr.Message, statusFor(appErr.Code))
			return
		}
		s.log.Error("cancel game", zap.String("gameId", gameID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeForbidden, apperr.CodeUnauthorized:
		return http.StatusForbidden
	case apperr.CodeGameNotFound, apperr.CodePlayerNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalidStatus, apperr.CodeGameAlreadyStarted, apperr.CodeGameNotActive:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// serveQR renders a PNG QR code of this game's join URL, the same
// scheme-detection logic as the teacher's qrHandler in celebrity.go.
func (s *Server) serveQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	start := time.Now()

	gameID := ps.ByName("gameId")
	if gameID == "" {
		http.Error(w, "missing gameId", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	path := strings.TrimSuffix(r.URL.Path, "/qr")
	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	written, err := w.Write(png)
	if err != nil {
		s.log.Warn("write qr response", zap.Error(err))
		return
	}

	s.log.Debug("served qr code",
		zap.String("gameId", gameID),
		zap.String("size", humanReadableSize(int64(written))),
		zap.String("remote", realIP(r)),
		zap.Duration("elapsed", time.Since(start)),
	)
}
