package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tambola-live/engine/internal/hotstate"
	"github.com/tambola-live/engine/internal/store"
	"go.uber.org/zap"
)

// Manager is the process-local registry of live game actors, keyed by
// gameId -- the same role the teacher's GameManager plays for Hubs,
// generalized so games are retired on completion rather than by idle
// timeout alone.
type Manager struct {
	mu    sync.Mutex
	games map[string]*Game

	hot     hotstate.Store
	durable store.Store
	prizes  PrizeEnqueuer
	newRand RandSource
	newID   IDGenerator
	log     *zap.Logger
}

// NewManager builds a Manager. log is the "engine" category logger;
// every game actor gets a child scoped with its gameId.
func NewManager(hot hotstate.Store, durable store.Store, prizes PrizeEnqueuer, log *zap.Logger) *Manager {
	return &Manager{
		games:   make(map[string]*Game),
		hot:     hot,
		durable: durable,
		prizes:  prizes,
		newRand: defaultRand(),
		newID:   uuid.NewString,
		log:     log,
	}
}

// Game returns the actor for gameID, creating and starting it on first
// use. The actor is not validated against DurableStore here -- a
// lookup for a game that doesn't exist simply fails GAME_NOT_FOUND on
// its first operation.
func (m *Manager) Game(gameID string) *Game {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.games[gameID]; ok {
		return g
	}

	g := newGame(gameID, m.hot, m.durable, m.prizes, m.newRand, m.newID, m.log.With(zap.String("gameId", gameID)))
	m.games[gameID] = g
	return g
}

// Retire stops gameID's actor, drops it from the registry, and
// invalidates its HotState entry. Called once a game reaches COMPLETED
// or CANCELLED, per spec.md's "such caches must be invalidated on game
// COMPLETED" rule -- a later join or callNumber simply spins up a
// fresh actor that re-reads DurableStore and observes the terminal
// status.
func (m *Manager) Retire(ctx context.Context, gameID string) {
	m.mu.Lock()
	g, ok := m.games[gameID]
	if ok {
		delete(m.games, gameID)
	}
	m.mu.Unlock()

	if ok {
		g.stop()
	}
	if err := m.hot.DeleteGame(ctx, gameID); err != nil {
		m.log.Warn("delete hot state on retire", zap.String("gameId", gameID), zap.Error(err))
	}
}

// Len reports the number of live game actors.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.games)
}
