// Package store defines the DurableStore contract: relational
// persistence of games, players, winners, and prize-queue rows, per
// spec.md section 4.4.
package store

import (
	"context"
	"errors"

	"github.com/tambola-live/engine/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a write would violate a uniqueness
// constraint covered by the spec's idempotency rules; callers treat it
// as "already exists" and look up the existing row.
var ErrConflict = errors.New("store: conflict")

// Store is the contract GameEngine and PrizeQueue use for durable
// persistence. The Postgres/pgx implementation lives in store/pgstore.
type Store interface {
	CreateGame(ctx context.Context, g *model.Game) error
	GetGame(ctx context.Context, gameID string) (*model.Game, error)
	UpdateGameStatus(ctx context.Context, gameID string, status model.GameStatus) error
	SyncCalledNumbers(ctx context.Context, gameID string, calledNumbers []int, currentNumber *int) error

	// CreatePlayer inserts a player; on a (gameId, userId) collision it
	// returns ErrConflict and the caller falls back to GetPlayerByUser.
	CreatePlayer(ctx context.Context, p *model.Player) error
	GetPlayer(ctx context.Context, playerID string) (*model.Player, error)
	GetPlayerByUser(ctx context.Context, gameID, userID string) (*model.Player, error)
	CountPlayers(ctx context.Context, gameID string) (int, error)
	ListPlayers(ctx context.Context, gameID string) ([]*model.Player, error)

	// CreateWinner inserts a winner row; on a (gameId, category)
	// collision it returns ErrConflict.
	CreateWinner(ctx context.Context, w *model.Winner) error
	ListWinners(ctx context.Context, gameID string) ([]*model.Winner, error)
	MarkPrizeClaimed(ctx context.Context, winnerID string) error

	// EnqueuePrize inserts a PrizeQueueItem; on a (userId, gameId,
	// category) collision it returns ErrConflict and item is populated
	// with the existing row.
	EnqueuePrize(ctx context.Context, item *model.PrizeQueueItem) error
	GetPrizeItem(ctx context.Context, id string) (*model.PrizeQueueItem, error)
	FindPrizeItem(ctx context.Context, userID, gameID string, category model.Category) (*model.PrizeQueueItem, error)
	CASPrizeStatus(ctx context.Context, id string, from, to model.PrizeQueueStatus) (bool, error)
	CompletePrizeItem(ctx context.Context, id string) error
	FailPrizeItem(ctx context.Context, id string, attempts int, errMsg string, deadLetter bool) error
	ResetPrizeItem(ctx context.Context, id string) error
	ListStuckProcessing(ctx context.Context) ([]*model.PrizeQueueItem, error)
}
