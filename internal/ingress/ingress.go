// Package ingress implements IngressAdapter, spec.md section 4.8: it
// normalizes inbound socket payloads into one of the typed GameEngine
// operations, schema-validates them first, and translates the
// resulting engine.Outcome into Broadcaster deliveries. Any uncaught
// failure -- a validation error, a GameEngine error, or a recovered
// panic -- becomes a generic `error{code,message}` event to the
// offending socket only, per the teacher's own "never let a handler
// kill the process" discipline (mux.PanicHandler in web.go).
package ingress

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tambola-live/engine/internal/apperr"
	"github.com/tambola-live/engine/internal/broadcaster"
	"github.com/tambola-live/engine/internal/engine"
	"github.com/tambola-live/engine/internal/model"
	"github.com/tambola-live/engine/internal/vip"
)

// envelope is the wire shape of every inbound message, per spec.md
// section 6: one `type` discriminator plus the union of every
// operation's optional fields. gameId and userId are not part of the
// envelope -- they come from the already-authenticated connection
// (URL route param and handshake), not from a client-supplied body.
type envelope struct {
	Type     string `json:"type" validate:"required,oneof=join leave start callNumber markNumber claimWin"`
	UserName string `json:"userName,omitempty" validate:"omitempty,max=64"`
	PlayerID string `json:"playerId,omitempty" validate:"omitempty,uuid"`
	Number   int    `json:"number,omitempty" validate:"omitempty,min=1,max=90"`
	Category string `json:"category,omitempty" validate:"omitempty,oneof=EARLY_5 TOP_LINE MIDDLE_LINE BOTTOM_LINE FULL_HOUSE"`
}

// Adapter wires one Registry and one Manager together.
type Adapter struct {
	manager  *engine.Manager
	registry *broadcaster.Registry
	vip      *vip.Checker
	log      *zap.Logger
	validate *validator.Validate
}

// New builds an Adapter. vipChecker may be nil -- IsVIP then reports
// false for every join, the same as a feature-toggled-off collaborator.
func New(manager *engine.Manager, registry *broadcaster.Registry, vipChecker *vip.Checker, log *zap.Logger) *Adapter {
	return &Adapter{manager: manager, registry: registry, vip: vipChecker, log: log, validate: validator.New()}
}

// Dispatch handles one inbound frame from s, already scoped to gameID
// by the websocket route and to userID by the handshake.
func (a *Adapter) Dispatch(ctx context.Context, s *broadcaster.Socket, gameID string, raw []byte) {
	defer a.recoverPanic(s)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		a.emitError(s, apperr.New(apperr.CodeValidationError, "malformed payload"))
		return
	}
	if err := a.validate.Struct(env); err != nil {
		a.emitError(s, apperr.New(apperr.CodeValidationError, err.Error()))
		return
	}

	game := a.manager.Game(gameID)
	outcome, err := a.call(ctx, game, s.UserID, env)
	if err != nil {
		a.emitError(s, err)
		return
	}

	for _, ev := range outcome.ToCaller {
		if env.Type == "join" && a.vip != nil {
			if joined, ok := ev.Payload.(engine.JoinedPayload); ok {
				joined.IsVIP = a.vip.IsVIP(ctx, s.UserID)
				ev.Payload = joined
			}
		}
		a.registry.EmitToCaller(s, ev)
	}
	for _, ev := range outcome.ToRoom {
		if pubErr := a.registry.EmitToRoom(ctx, gameID, ev); pubErr != nil {
			a.log.Error("emit to room", zap.String("gameId", gameID), zap.Error(pubErr))
		}
		if ev.Type == engine.EventCompleted {
			// Caller observes completion here, not inside GameEngine
			// itself -- see engine.ClaimWin's comment on the same split.
			a.manager.Retire(ctx, gameID)
		}
	}
	if env.Type == "leave" {
		// GameEngine's Leave never touches Player/Game state -- room
		// membership lives in Broadcaster, so detaching the socket
		// happens here rather than inside engine.Game.
		a.registry.Leave(s)
	}
}

// Cancel implements the admin-surface half of spec.md's "any ->
// CANCELLED" transition (httpapi.serveCancel calls this directly; it
// never reaches Dispatch, since there is no corresponding envelope
// type). It broadcasts the resulting event and retires the game actor
// the same way Dispatch does for EventCompleted.
func (a *Adapter) Cancel(ctx context.Context, gameID, userID string) error {
	game := a.manager.Game(gameID)
	outcome, err := game.Cancel(ctx, userID)
	if err != nil {
		return err
	}
	for _, ev := range outcome.ToRoom {
		if pubErr := a.registry.EmitToRoom(ctx, gameID, ev); pubErr != nil {
			a.log.Error("emit to room", zap.String("gameId", gameID), zap.Error(pubErr))
		}
	}
	a.manager.Retire(ctx, gameID)
	return nil
}

func (a *Adapter) call(ctx context.Context, game *engine.Game, userID string, env envelope) (engine.Outcome, error) {
	switch env.Type {
	case "join":
		return game.Join(ctx, userID, env.UserName)
	case "leave":
		return game.Leave(ctx, userID)
	case "start":
		return game.Start(ctx, userID)
	case "callNumber":
		return game.CallNumber(ctx, userID, env.Number)
	case "markNumber":
		return game.MarkNumber(ctx, userID, env.PlayerID, env.Number)
	case "claimWin":
		return game.ClaimWin(ctx, userID, model.Category(env.Category))
	default:
		// Unreachable: env.Type is already constrained by the oneof tag.
		return engine.Outcome{}, apperr.New(apperr.CodeValidationError, "unknown event type")
	}
}

// emitError turns err into the generic `error{code,message}` event and
// delivers it to the offending socket only, per spec.md section 7's
// propagation policy -- it never tears the socket down.
func (a *Adapter) emitError(s *broadcaster.Socket, err error) {
	var appErr *apperr.Error
	code := apperr.CodeHandlerError
	msg := "internal error"
	if errors.As(err, &appErr) {
		code = appErr.Code
		msg = appErr.Message
	} else {
		a.log.Error("unhandled ingress error", zap.String("socketId", s.ID), zap.Error(err))
	}
	a.registry.EmitToCaller(s, &engine.Event{
		Type:    engine.EventError,
		Payload: engine.ErrorPayload{Code: string(code), Message: msg},
	})
}

// recoverPanic implements spec.md section 4.8's "wrapped so that any
// uncaught failure emits a generic error... and does not tear down the
// socket," the same discipline as the teacher's httprouter
// PanicHandler in web.go, generalized from HTTP responses to socket
// events.
func (a *Adapter) recoverPanic(s *broadcaster.Socket) {
	if r := recover(); r != nil {
		a.log.Error("recovered panic in ingress dispatch", zap.String("socketId", s.ID), zap.Any("panic", r))
		a.registry.EmitToCaller(s, &engine.Event{
			Type:    engine.EventError,
			Payload: engine.ErrorPayload{Code: string(apperr.CodeHandlerError), Message: "internal error"},
		})
	}
}
