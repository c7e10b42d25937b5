// Package memstore is an in-memory store.Store used by engine and
// prizequeue tests so the durable-persistence contract can be exercised
// without a real Postgres instance.
package memstore

import (
	"time"
	"context"
	"sync"

	"github.com/tambola-live/engine/internal/model"
	"github.com/tambola-live/engine/internal/store"
)

// Store is a mutex-guarded, process-local fake of store.Store.
type Store struct {
	mu      sync.Mutex
	games   map[string]*model.Game
	players map[string]*model.Player
	winners map[string]*model.Winner
	prizes  map[string]*model.PrizeQueueItem
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		games:   map[string]*model.Game{},
		players: map[string]*model.Player{},
		winners: map[string]*model.Winner{},
		prizes:  map[string]*model.PrizeQueueItem{},
	}
}

func cloneGame(g *model.Game) *model.Game {
	cp := *g
	cp.CalledNumbers = append([]int(nil), g.CalledNumbers...)
	return &cp
}

func (s *Store) CreateGame(_ context.Context, g *model.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[g.ID]; ok {
		return store.ErrConflict
	}
	s.games[g.ID] = cloneGame(g)
	return nil
}

func (s *Store) GetGame(_ context.Context, gameID string) (*model.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneGame(g), nil
}

func (s *Store) UpdateGameStatus(_ context.Context, gameID string, status model.GameStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return store.ErrNotFound
	}
	g.Status = status
	now := time.Now()
	switch status {
	case model.GameStatusActive:
		g.StartedAt = &now
	case model.GameStatusCompleted, model.GameStatusCancelled:
		g.EndedAt = &now
	}
	return nil
}

func (s *Store) SyncCalledNumbers(_ context.Context, gameID string, calledNumbers []int, currentNumber *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return store.ErrNotFound
	}
	g.CalledNumbers = append([]int(nil), calledNumbers...)
	g.CurrentNumber = currentNumber
	return nil
}

func (s *Store) CreatePlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.players {
		if existing.GameID == p.GameID && existing.UserID == p.UserID {
			return store.ErrConflict
		}
	}
	cp := *p
	s.players[p.ID] = &cp
	return nil
}

func (s *Store) GetPlayer(_ context.Context, playerID string) (*model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetPlayerByUser(_ context.Context, gameID, userID string) (*model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.players {
		if p.GameID == gameID && p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CountPlayers(_ context.Context, gameID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.players {
		if p.GameID == gameID {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListPlayers(_ context.Context, gameID string) ([]*model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Player
	for _, p := range s.players {
		if p.GameID == gameID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) CreateWinner(_ context.Context, w *model.Winner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.winners {
		if existing.GameID == w.GameID && existing.Category == w.Category {
			return store.ErrConflict
		}
	}
	cp := *w
	s.winners[w.ID] = &cp
	return nil
}

func (s *Store) ListWinners(_ context.Context, gameID string) ([]*model.Winner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Winner
	for _, w := range s.winners {
		if w.GameID == gameID {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) MarkPrizeClaimed(_ context.Context, winnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.winners[winnerID]
	if !ok {
		return store.ErrNotFound
	}
	w.PrizeClaimed = true
	return nil
}

func (s *Store) EnqueuePrize(_ context.Context, item *model.PrizeQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.prizes {
		if existing.UserID == item.UserID && existing.GameID == item.GameID && existing.Category == item.Category {
			*item = *existing
			return store.ErrConflict
		}
	}
	cp := *item
	s.prizes[item.ID] = &cp
	return nil
}

func (s *Store) GetPrizeItem(_ context.Context, id string) (*model.PrizeQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.prizes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *Store) FindPrizeItem(_ context.Context, userID, gameID string, category model.Category) (*model.PrizeQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.prizes {
		if it.UserID == userID && it.GameID == gameID && it.Category == category {
			cp := *it
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CASPrizeStatus(_ context.Context, id string, from, to model.PrizeQueueStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.prizes[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if it.Status != from {
		return false, nil
	}
	it.Status = to
	if to == model.PrizeStatusProcessing {
		now := time.Now()
		it.LastAttempt = &now
	}
	return true, nil
}

func (s *Store) CompletePrizeItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.prizes[id]
	if !ok {
		return store.ErrNotFound
	}
	it.Status = model.PrizeStatusCompleted
	now := time.Now()
	it.LastAttempt = &now
	return nil
}

func (s *Store) FailPrizeItem(_ context.Context, id string, attempts int, errMsg string, deadLetter bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.prizes[id]
	if !ok {
		return store.ErrNotFound
	}
	it.Attempts = attempts
	it.Error = errMsg
	now := time.Now()
	it.LastAttempt = &now
	if deadLetter {
		it.Status = model.PrizeStatusDeadLetter
	} else {
		it.Status = model.PrizeStatusPending
	}
	return nil
}

func (s *Store) ResetPrizeItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.prizes[id]
	if !ok {
		return store.ErrNotFound
	}
	it.Attempts = 0
	it.Error = ""
	it.Status = model.PrizeStatusPending
	return nil
}

func (s *Store) ListStuckProcessing(_ context.Context) ([]*model.PrizeQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-model.ProcessingLease)
	var out []*model.PrizeQueueItem
	for _, it := range s.prizes {
		if it.Status == model.PrizeStatusProcessing && it.LastAttempt != nil && it.LastAttempt.Before(cutoff) {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
