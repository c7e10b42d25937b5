// Package engine implements GameEngine, the authoritative per-game
// state machine described in spec.md section 4.5: join, leave, start,
// callNumber, markNumber, claimWin. Each live game runs as its own
// actor goroutine, generalizing the teacher's per-session Hub so that
// every mutation is serialized without a shared lock across games.
package engine

import "github.com/tambola-live/engine/internal/model"

// EventType names an outbound wire event from section 6.
type EventType string

const (
	EventJoined       EventType = "game:joined"
	EventStateSync    EventType = "game:stateSync"
	EventPlayerJoined EventType = "game:playerJoined"
	EventStarted      EventType = "game:started"
	EventNumberCalled EventType = "game:numberCalled"
	EventWinClaimed   EventType = "game:winClaimed"
	EventWinner       EventType = "game:winner"
	EventCompleted    EventType = "game:completed"
	EventCancelled    EventType = "game:cancelled"
	// EventError is IngressAdapter's generic failure event, per spec.md
	// section 6's `error {code, message}` and section 7's propagation
	// policy. GameEngine itself never produces it -- every Outcome
	// above comes from a successful operation.
	EventError EventType = "error"
)

// Event is one outbound message: a type plus its JSON-serializable
// payload. Broadcaster delivers it either to the originating socket
// only or to the whole game:{gameId} room, per Outcome below.
type Event struct {
	Type    EventType
	Payload any
}

// Outcome is what a GameEngine operation hands back to IngressAdapter:
// zero or more acks to the caller's own socket, and zero or more
// broadcasts to every socket in the game's room. ToCaller has more
// than one entry only for a rejoin, which acks "joined" and then
// catches the socket up with "stateSync". ToRoom has more than one
// entry only for a FULL_HOUSE claim, which emits both "winner" and
// "completed". leave(), for instance, produces neither.
type Outcome struct {
	ToCaller []*Event
	ToRoom   []*Event
}

// JoinedPayload acks game:join. PlayerID and Ticket are nil for an
// observer (the game's creator never gets a Player row).
type JoinedPayload struct {
	GameID   string        `json:"gameId"`
	PlayerID *string       `json:"playerId"`
	Ticket   *model.Ticket `json:"ticket"`
	// IsVIP is filled in by IngressAdapter after the fact, per spec.md
	// section 1's VIPSet seam -- GameEngine itself has no notion of VIP
	// membership.
	IsVIP bool `json:"isVip"`
}

// PlayerSummary appears in stateSync and playerJoined.
type PlayerSummary struct {
	PlayerID string `json:"playerId"`
	UserName string `json:"userName"`
}

// WinnerSummary appears in stateSync and in the winner event.
type WinnerSummary struct {
	PlayerID string         `json:"playerId"`
	UserName string         `json:"userName"`
	Category model.Category `json:"category"`
}

// StateSyncPayload lets a reconnecting socket catch up without
// replaying every intermediate event.
type StateSyncPayload struct {
	CalledNumbers []int           `json:"calledNumbers"`
	CurrentNumber *int            `json:"currentNumber"`
	Players       []PlayerSummary `json:"players"`
	Winners       []WinnerSummary `json:"winners"`
	MarkedNumbers map[int]bool    `json:"markedNumbers,omitempty"`
}

// PlayerJoinedPayload is broadcast to the room when a new (non-observer)
// player seats.
type PlayerJoinedPayload struct {
	PlayerID string `json:"playerId"`
	UserName string `json:"userName"`
}

// StartedPayload is broadcast when a game transitions LOBBY -> ACTIVE.
type StartedPayload struct {
	GameID string `json:"gameId"`
}

// NumberCalledPayload is broadcast on every callNumber.
type NumberCalledPayload struct {
	Number int `json:"number"`
}

// WinClaimedPayload acks game:claimWin to the claimant only.
type WinClaimedPayload struct {
	Category model.Category `json:"category"`
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
}

// WinnerPayload is broadcast to the room on a successful claim.
type WinnerPayload struct {
	PlayerID string         `json:"playerId"`
	UserName string         `json:"userName"`
	Category model.Category `json:"category"`
}

// CompletedPayload is broadcast once FULL_HOUSE is claimed.
type CompletedPayload struct {
	GameID string `json:"gameId"`
}

// CancelledPayload is broadcast when the organizer cancels a game from
// LOBBY or ACTIVE, per spec.md's "any -> CANCELLED" transition.
type CancelledPayload struct {
	GameID string `json:"gameId"`
}

// ErrorPayload is IngressAdapter's `error {code, message}` event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func event(t EventType, payload any) *Event {
	return &Event{Type: t, Payload: payload}
}
