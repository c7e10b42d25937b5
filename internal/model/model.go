// Package model holds the data types shared across the engine: games,
// players, winners, and prize-queue rows, plus the small enums that
// constrain their state machines.
package model

import (
	"fmt"
	"time"
)

// GameStatus is the lifecycle state of a Game.
type GameStatus string

const (
	GameStatusLobby     GameStatus = "LOBBY"
	GameStatusActive    GameStatus = "ACTIVE"
	GameStatusCompleted GameStatus = "COMPLETED"
	GameStatusCancelled GameStatus = "CANCELLED"
)

func (s GameStatus) IsValid() bool {
	switch s {
	case GameStatusLobby, GameStatusActive, GameStatusCompleted, GameStatusCancelled:
		return true
	}
	return false
}

// Category is a winning pattern a player can claim.
type Category string

const (
	CategoryEarly5      Category = "EARLY_5"
	CategoryTopLine     Category = "TOP_LINE"
	CategoryMiddleLine  Category = "MIDDLE_LINE"
	CategoryBottomLine  Category = "BOTTOM_LINE"
	CategoryFullHouse   Category = "FULL_HOUSE"
)

// AllCategories lists every category in claim order; FULL_HOUSE is last
// because it ends the game.
var AllCategories = []Category{
	CategoryEarly5,
	CategoryTopLine,
	CategoryMiddleLine,
	CategoryBottomLine,
	CategoryFullHouse,
}

func (c Category) IsValid() bool {
	switch c {
	case CategoryEarly5, CategoryTopLine, CategoryMiddleLine, CategoryBottomLine, CategoryFullHouse:
		return true
	}
	return false
}

// Prizes mirrors the Game.prizes mapping: a nil pointer means no prize
// is configured for that category.
type Prizes struct {
	Early5     *int `json:"early5,omitempty"`
	TopLine    *int `json:"topLine,omitempty"`
	MiddleLine *int `json:"middleLine,omitempty"`
	BottomLine *int `json:"bottomLine,omitempty"`
	FullHouse  *int `json:"fullHouse,omitempty"`
}

// Validate enforces that every configured prize is a positive number.
func (p Prizes) Validate() error {
	for name, v := range map[string]*int{
		"early5": p.Early5, "topLine": p.TopLine, "middleLine": p.MiddleLine,
		"bottomLine": p.BottomLine, "fullHouse": p.FullHouse,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("prize %s must be positive, got %d", name, *v)
		}
	}
	return nil
}

// For looks up the configured prize value for a category, if any.
func (p Prizes) For(c Category) (int, bool) {
	var v *int
	switch c {
	case CategoryEarly5:
		v = p.Early5
	case CategoryTopLine:
		v = p.TopLine
	case CategoryMiddleLine:
		v = p.MiddleLine
	case CategoryBottomLine:
		v = p.BottomLine
	case CategoryFullHouse:
		v = p.FullHouse
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Game is the authoritative record of a single Tambola session.
type Game struct {
	ID             string
	ScheduledTime  time.Time
	StartedAt      *time.Time
	EndedAt        *time.Time
	Status         GameStatus
	CreatedBy      string
	Prizes         Prizes
	CalledNumbers  []int
	CurrentNumber  *int
}

// HasCalled reports whether n has already been called.
func (g *Game) HasCalled(n int) bool {
	for _, c := range g.CalledNumbers {
		if c == n {
			return true
		}
	}
	return false
}

// Player is a single participant's seat in a Game; organizers who never
// claim a ticket never get a Player row (see engine.JoinedPayload).
type Player struct {
	ID        string
	GameID    string
	UserID    string
	UserName  string
	Ticket    Ticket
	JoinedAt  time.Time
}

// Ticket is the 3x9 Tambola grid; 0 means blank.
type Ticket [3][9]int

// NonZero returns every non-blank number on the ticket.
func (t Ticket) NonZero() []int {
	out := make([]int, 0, 15)
	for _, row := range t {
		for _, n := range row {
			if n != 0 {
				out = append(out, n)
			}
		}
	}
	return out
}

// Row returns the non-blank numbers of a single row (0, 1, or 2).
func (t Ticket) Row(i int) []int {
	out := make([]int, 0, 9)
	for _, n := range t[i] {
		if n != 0 {
			out = append(out, n)
		}
	}
	return out
}

// Winner is the at-most-one-per-(gameId,category) claim record.
type Winner struct {
	ID           string
	GameID       string
	PlayerID     string
	Category     Category
	ClaimedAt    time.Time
	PrizeClaimed bool
	PrizeValue   *int
}

// PrizeQueueStatus is the lifecycle of a PrizeQueueItem.
type PrizeQueueStatus string

const (
	PrizeStatusPending    PrizeQueueStatus = "PENDING"
	PrizeStatusProcessing PrizeQueueStatus = "PROCESSING"
	PrizeStatusCompleted  PrizeQueueStatus = "COMPLETED"
	PrizeStatusFailed     PrizeQueueStatus = "FAILED"
	PrizeStatusDeadLetter PrizeQueueStatus = "DEAD_LETTER"
)

// PrizeQueueItem is one durable at-least-once payout attempt.
type PrizeQueueItem struct {
	ID             string
	UserID         string
	GameID         string
	Category       Category
	PrizeValue     int
	Status         PrizeQueueStatus
	Attempts       int
	LastAttempt    *time.Time
	Error          string
	IdempotencyKey string
	CreatedAt      time.Time
}

// MaxAttempts is the bound after which a PrizeQueueItem goes DEAD_LETTER.
const MaxAttempts = 3

// RetryDelays is the schedule indexed by (attempts-1) after a failure.
var RetryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}

// ProcessingLease is how long a row may sit in PROCESSING before the
// reaper considers it abandoned and recoverable to PENDING.
const ProcessingLease = 60 * time.Second

// TicketState is the hot-only, advisory per-player marked-numbers set.
type TicketState struct {
	MarkedNumbers map[int]bool
}

// GameHotState is the authoritative-while-ACTIVE in-memory mirror of a
// Game, re-derivable from DurableStore.
type GameHotState struct {
	Status        GameStatus
	CalledNumbers []int
	CurrentNumber *int
	WonCategories map[Category]bool
	PlayerCount   int
}
