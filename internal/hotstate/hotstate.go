// Package hotstate defines the Store interface for the per-game hot
// state kept in a shared KV store, per spec.md section 4.3: the
// game:{gameId}:state hash, per-player marked-number hashes, and the
// short-TTL winner-claim locks.
package hotstate

import (
	"context"
	"errors"
	"time"

	"github.com/tambola-live/engine/internal/model"
)

// ErrNotFound is returned when a key has no entry (cache miss).
var ErrNotFound = errors.New("hotstate: not found")

// ErrLockHeld is returned by AcquireWinnerLock when another holder
// already owns the lock.
var ErrLockHeld = errors.New("hotstate: lock held")

// GameTTL is the refresh-on-write TTL for a game's hot keys.
const GameTTL = 2 * time.Hour

// WinnerLockTTL bounds how long a single-winner claim lock is held.
const WinnerLockTTL = 5 * time.Second

// Store is the contract GameEngine uses for ephemeral per-game state.
// The Redis-backed implementation lives in hotstate/redisstore; tests
// use hotstate/memstore.
type Store interface {
	// GetGameState reads the hot mirror of a game, or ErrNotFound on miss.
	GetGameState(ctx context.Context, gameID string) (model.GameHotState, error)
	// PutGameState writes the full hot mirror and refreshes its TTL.
	PutGameState(ctx context.Context, gameID string, state model.GameHotState) error
	// AppendCalledNumber atomically appends n and sets currentNumber,
	// returning the error ErrNotFound if the game has no hot state yet.
	AppendCalledNumber(ctx context.Context, gameID string, n int) error
	// AddWonCategory marks category as won in the hot mirror.
	AddWonCategory(ctx context.Context, gameID string, category model.Category) error
	// IncrementPlayerCount bumps playerCount by delta.
	IncrementPlayerCount(ctx context.Context, gameID string, delta int) error

	// GetMarkedNumbers reads a player's advisory marked-number set.
	GetMarkedNumbers(ctx context.Context, gameID, playerID string) (map[int]bool, error)
	// MarkNumber idempotently adds n to a player's marked set.
	MarkNumber(ctx context.Context, gameID, playerID string, n int) error

	// AcquireWinnerLock attempts to take the short-TTL single-winner lock
	// for (gameID, category); returns ErrLockHeld if already held.
	AcquireWinnerLock(ctx context.Context, gameID string, category model.Category) (release func(context.Context) error, err error)

	// DeleteGame removes every game:{gameID}:* key in bounded batches.
	DeleteGame(ctx context.Context, gameID string) error

	// Publish broadcasts payload to every subscriber of channel across
	// every server instance.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of payloads published to channel.
	// Callers must call the returned close func on shutdown.
	Subscribe(ctx context.Context, channel string) (msgs <-chan []byte, closeFn func() error, err error)
}
