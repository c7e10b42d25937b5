// Package memstore is an in-memory hotstate.Store used by the engine,
// broadcaster, ingress and httpapi tests, so GameEngine's concurrency invariants can be
// exercised without a real Redis instance.
package memstore

import (
	"context"
	"sync"

	"github.com/tambola-live/engine/internal/hotstate"
	"github.com/tambola-live/engine/internal/model"
)

type ticketState struct {
	marked map[int]bool
}

// Store is a mutex-guarded, process-local fake of hotstate.Store.
type Store struct {
	mu      sync.Mutex
	games   map[string]*model.GameHotState
	tickets map[string]*ticketState
	locks   map[string]bool
	subs    map[string][]chan []byte
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		games:   map[string]*model.GameHotState{},
		tickets: map[string]*ticketState{},
		locks:   map[string]bool{},
		subs:    map[string][]chan []byte{},
	}
}

func ticketKey(gameID, playerID string) string { return gameID + ":" + playerID }

func (s *Store) GetGameState(_ context.Context, gameID string) (model.GameHotState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.games[gameID]
	if !ok {
		return model.GameHotState{}, hotstate.ErrNotFound
	}
	cp := *st
	cp.CalledNumbers = append([]int(nil), st.CalledNumbers...)
	cp.WonCategories = map[model.Category]bool{}
	for k, v := range st.WonCategories {
		cp.WonCategories[k] = v
	}
	return cp, nil
}

func (s *Store) PutGameState(_ context.Context, gameID string, state model.GameHotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := state
	cp.CalledNumbers = append([]int(nil), state.CalledNumbers...)
	cp.WonCategories = map[model.Category]bool{}
	for k, v := range state.WonCategories {
		cp.WonCategories[k] = v
	}
	s.games[gameID] = &cp
	return nil
}

func (s *Store) AppendCalledNumber(_ context.Context, gameID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.games[gameID]
	if !ok {
		return hotstate.ErrNotFound
	}
	st.CalledNumbers = append(st.CalledNumbers, n)
	num := n
	st.CurrentNumber = &num
	return nil
}

func (s *Store) AddWonCategory(_ context.Context, gameID string, category model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.games[gameID]
	if !ok {
		return hotstate.ErrNotFound
	}
	if st.WonCategories == nil {
		st.WonCategories = map[model.Category]bool{}
	}
	st.WonCategories[category] = true
	return nil
}

func (s *Store) IncrementPlayerCount(_ context.Context, gameID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.games[gameID]
	if !ok {
		return hotstate.ErrNotFound
	}
	st.PlayerCount += delta
	return nil
}

func (s *Store) GetMarkedNumbers(_ context.Context, gameID, playerID string) (map[int]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tickets[ticketKey(gameID, playerID)]
	if !ok {
		return map[int]bool{}, nil
	}
	out := map[int]bool{}
	for k, v := range ts.marked {
		out[k] = v
	}
	return out, nil
}

func (s *Store) MarkNumber(_ context.Context, gameID, playerID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ticketKey(gameID, playerID)
	ts, ok := s.tickets[key]
	if !ok {
		ts = &ticketState{marked: map[int]bool{}}
		s.tickets[key] = ts
	}
	ts.marked[n] = true
	return nil
}

func (s *Store) AcquireWinnerLock(_ context.Context, gameID string, category model.Category) (func(context.Context) error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := gameID + ":" + string(category)
	if s.locks[key] {
		return nil, hotstate.ErrLockHeld
	}
	s.locks[key] = true

	release := func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.locks, key)
		return nil
	}
	return release, nil
}

func (s *Store) DeleteGame(_ context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.games, gameID)
	for k := range s.tickets {
		if len(k) > len(gameID) && k[:len(gameID)+1] == gameID+":" {
			delete(s.tickets, k)
		}
	}
	for c := range s.locks {
		if len(c) > len(gameID) && c[:len(gameID)+1] == gameID+":" {
			delete(s.locks, c)
		}
	}
	return nil
}

func (s *Store) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	subs := append([]chan []byte(nil), s.subs[channel]...)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (s *Store) Subscribe(_ context.Context, channel string) (<-chan []byte, func() error, error) {
	ch := make(chan []byte, 64)

	s.mu.Lock()
	s.subs[channel] = append(s.subs[channel], ch)
	s.mu.Unlock()

	closeFn := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.subs[channel]
		for i, c := range list {
			if c == ch {
				s.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
		return nil
	}
	return ch, closeFn, nil
}

var _ hotstate.Store = (*Store)(nil)
