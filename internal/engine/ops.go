package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tambola-live/engine/internal/apperr"
	"github.com/tambola-live/engine/internal/hotstate"
	"github.com/tambola-live/engine/internal/model"
	"github.com/tambola-live/engine/internal/store"
	"github.com/tambola-live/engine/internal/ticket"
	"github.com/tambola-live/engine/internal/winvalidator"
	"go.uber.org/zap"
)

// hotState returns the ACTIVE-phase mirror for this game, rehydrating
// it from DurableStore on a cache miss using fallback (the caller's
// already-loaded Game row) so GetGame isn't fetched twice. Per
// spec.md section 5, rehydration writes the mirror back to HotState
// before returning.
func (g *Game) hotState(ctx context.Context, fallback *model.Game) (model.GameHotState, error) {
	hs, err := g.hot.GetGameState(ctx, g.id)
	if err == nil {
		return hs, nil
	}
	if !errors.Is(err, hotstate.ErrNotFound) {
		return model.GameHotState{}, fmt.Errorf("load hot state: %w", err)
	}

	won := map[model.Category]bool{}
	if winners, werr := g.durable.ListWinners(ctx, g.id); werr == nil {
		for _, w := range winners {
			won[w.Category] = true
		}
	}
	count, _ := g.durable.CountPlayers(ctx, g.id)

	hs = model.GameHotState{
		Status:        fallback.Status,
		CalledNumbers: append([]int(nil), fallback.CalledNumbers...),
		CurrentNumber: fallback.CurrentNumber,
		WonCategories: won,
		PlayerCount:   count,
	}
	if perr := g.hot.PutGameState(ctx, g.id, hs); perr != nil {
		g.log.Warn("rehydrate hot state", zap.Error(perr))
	}
	return hs, nil
}

func loadGame(ctx context.Context, durable store.Store, gameID string) (*model.Game, error) {
	game, err := durable.GetGame(ctx, gameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.CodeGameNotFound, "game not found")
		}
		return nil, fmt.Errorf("load game: %w", err)
	}
	return game, nil
}

// Join implements spec.md section 4.5 "join".
func (g *Game) Join(ctx context.Context, userID, userName string) (Outcome, error) {
	return g.submit(ctx, func(ctx context.Context) (Outcome, error) {
		game, err := loadGame(ctx, g.durable, g.id)
		if err != nil {
			return Outcome{}, err
		}

		if game.CreatedBy == userID {
			return Outcome{ToCaller: []*Event{event(EventJoined, JoinedPayload{GameID: g.id})}}, nil
		}

		existing, err := g.durable.GetPlayerByUser(ctx, g.id, userID)
		if err == nil {
			out := g.joinedOutcome(existing, false)
			sync, serr := g.stateSyncEvent(ctx, game, existing.ID)
			if serr != nil {
				g.log.Warn("build rejoin stateSync", zap.Error(serr))
			} else {
				out.ToCaller = append(out.ToCaller, sync)
			}
			return out, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Outcome{}, fmt.Errorf("join: lookup player: %w", err)
		}

		if game.Status != model.GameStatusLobby {
			return Outcome{}, apperr.New(apperr.CodeGameAlreadyStarted, "game already started")
		}

		tk := ticket.Generate(g.newRand())
		p := &model.Player{
			ID:       g.newID(),
			GameID:   g.id,
			UserID:   userID,
			UserName: userName,
			Ticket:   tk,
			JoinedAt: time.Now(),
		}

		if err := g.durable.CreatePlayer(ctx, p); err != nil {
			if !errors.Is(err, store.ErrConflict) {
				return Outcome{}, fmt.Errorf("join: create player: %w", err)
			}
			// Lost a race to another writer; treat it as an idempotent
			// rejoin rather than a failure.
			rejoined, rerr := g.durable.GetPlayerByUser(ctx, g.id, userID)
			if rerr != nil {
				return Outcome{}, fmt.Errorf("join: idempotent rejoin lookup: %w", rerr)
			}
			return g.joinedOutcome(rejoined, false), nil
		}

		if err := g.hot.IncrementPlayerCount(ctx, g.id, 1); err != nil && !errors.Is(err, hotstate.ErrNotFound) {
			g.log.Warn("increment player count", zap.Error(err))
		}

		return g.joinedOutcome(p, true), nil
	})
}

func (g *Game) joinedOutcome(p *model.Player, broadcastJoin bool) Outcome {
	pid := p.ID
	tk := p.Ticket
	out := Outcome{
		ToCaller: []*Event{event(EventJoined, JoinedPayload{GameID: g.id, PlayerID: &pid, Ticket: &tk})},
	}
	if broadcastJoin {
		out.ToRoom = []*Event{event(EventPlayerJoined, PlayerJoinedPayload{PlayerID: pid, UserName: p.UserName})}
	}
	return out
}

// stateSyncEvent builds the game:stateSync catch-up payload for a
// reconnecting socket, per spec.md section 6 and the rejoin scenario
// in section 8: the full roster, every winner claimed so far, the
// call history, and that player's own marked-number set.
func (g *Game) stateSyncEvent(ctx context.Context, game *model.Game, playerID string) (*Event, error) {
	hs, err := g.hotState(ctx, game)
	if err != nil {
		return nil, fmt.Errorf("stateSync: load hot state: %w", err)
	}

	players, err := g.durable.ListPlayers(ctx, g.id)
	if err != nil {
		return nil, fmt.Errorf("stateSync: list players: %w", err)
	}
	playerNames := make(map[string]string, len(players))
	summaries := make([]PlayerSummary, 0, len(players))
	for _, p := range players {
		playerNames[p.ID] = p.UserName
		summaries = append(summaries, PlayerSummary{PlayerID: p.ID, UserName: p.UserName})
	}

	winners, err := g.durable.ListWinners(ctx, g.id)
	if err != nil {
		return nil, fmt.Errorf("stateSync: list winners: %w", err)
	}
	winnerSummaries := make([]WinnerSummary, 0, len(winners))
	for _, w := range winners {
		winnerSummaries = append(winnerSummaries, WinnerSummary{
			PlayerID: w.PlayerID,
			UserName: playerNames[w.PlayerID],
			Category: w.Category,
		})
	}

	marked, err := g.hot.GetMarkedNumbers(ctx, g.id, playerID)
	if err != nil && !errors.Is(err, hotstate.ErrNotFound) {
		return nil, fmt.Errorf("stateSync: load marked numbers: %w", err)
	}

	return event(EventStateSync, StateSyncPayload{
		CalledNumbers: hs.CalledNumbers,
		CurrentNumber: hs.CurrentNumber,
		Players:       summaries,
		Winners:       winnerSummaries,
		MarkedNumbers: marked,
	}), nil
}

// Leave implements spec.md section 4.5 "leave". It never mutates
// Player/Game state -- only Broadcaster's room membership changes,
// which lives outside GameEngine -- so this only validates the game
// exists and hands back an empty Outcome.
func (g *Game) Leave(ctx context.Context, userID string) (Outcome, error) {
	return g.submit(ctx, func(ctx context.Context) (Outcome, error) {
		if _, err := loadGame(ctx, g.durable, g.id); err != nil {
			return Outcome{}, err
		}
		return Outcome{}, nil
	})
}

// Start implements spec.md section 4.5 "start".
func (g *Game) Start(ctx context.Context, userID string) (Outcome, error) {
	return g.submit(ctx, func(ctx context.Context) (Outcome, error) {
		game, err := loadGame(ctx, g.durable, g.id)
		if err != nil {
			return Outcome{}, err
		}
		if game.CreatedBy != userID {
			return Outcome{}, apperr.New(apperr.CodeForbidden, "only the creator may start the game")
		}
		if game.Status != model.GameStatusLobby {
			return Outcome{}, apperr.New(apperr.CodeInvalidStatus, "game is not in lobby")
		}
		count, err := g.durable.CountPlayers(ctx, g.id)
		if err != nil {
			return Outcome{}, fmt.Errorf("start: count players: %w", err)
		}
		if count == 0 {
			return Outcome{}, apperr.New(apperr.CodeNoPlayers, "no players have joined")
		}

		hs := model.GameHotState{
			Status:        model.GameStatusActive,
			CalledNumbers: nil,
			CurrentNumber: nil,
			WonCategories: map[model.Category]bool{},
			PlayerCount:   count,
		}
		if err := g.hot.PutGameState(ctx, g.id, hs); err != nil {
			return Outcome{}, fmt.Errorf("start: put hot state: %w", err)
		}
		if err := g.durable.UpdateGameStatus(ctx, g.id, model.GameStatusActive); err != nil {
			return Outcome{}, fmt.Errorf("start: update status: %w", err)
		}

		return Outcome{ToRoom: []*Event{event(EventStarted, StartedPayload{GameID: g.id})}}, nil
	})
}

// CallNumber implements spec.md section 4.5 "callNumber". The success
// acknowledgment the caller receives is the absence of an error;
// GameEngine emits no separate push event to the caller's own socket.
func (g *Game) CallNumber(ctx context.Context, userID string, n int) (Outcome, error) {
	return g.submit(ctx, func(ctx context.Context) (Outcome, error) {
		game, err := loadGame(ctx, g.durable, g.id)
		if err != nil {
			return Outcome{}, err
		}
		if game.CreatedBy != userID {
			return Outcome{}, apperr.New(apperr.CodeForbidden, "only the creator may call numbers")
		}
		if n < 1 || n > 90 {
			return Outcome{}, apperr.New(apperr.CodeOutOfRange, "number must be between 1 and 90")
		}

		hs, err := g.hotState(ctx, game)
		if err != nil {
			return Outcome{}, err
		}
		if hs.Status != model.GameStatusActive {
			return Outcome{}, apperr.New(apperr.CodeGameNotActive, "game is not active")
		}
		if len(hs.CalledNumbers) >= 90 {
			return Outcome{}, apperr.New(apperr.CodeNoNumbersRemaining, "every number has already been called")
		}
		for _, c := range hs.CalledNumbers {
			if c == n {
				return Outcome{}, apperr.New(apperr.CodeNumberAlreadyCalled, "number already called")
			}
		}

		if err := g.hot.AppendCalledNumber(ctx, g.id, n); err != nil {
			return Outcome{}, fmt.Errorf("call number: append hot state: %w", err)
		}
		called := append(append([]int(nil), hs.CalledNumbers...), n)
		if err := g.durable.SyncCalledNumbers(ctx, g.id, called, &n); err != nil {
			g.log.Warn("sync called numbers to durable store", zap.Error(err))
		}

		return Outcome{ToRoom: []*Event{event(EventNumberCalled, NumberCalledPayload{Number: n})}}, nil
	})
}

// MarkNumber implements spec.md section 4.5 "markNumber". It is a
// purely client-side aid the server remembers for rejoin; it never
// broadcasts.
func (g *Game) MarkNumber(ctx context.Context, userID, playerID string, n int) (Outcome, error) {
	return g.submit(ctx, func(ctx context.Context) (Outcome, error) {
		game, err := loadGame(ctx, g.durable, g.id)
		if err != nil {
			return Outcome{}, err
		}

		player, err := g.durable.GetPlayer(ctx, playerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Outcome{}, apperr.New(apperr.CodeInvalidPlayer, "no such player")
			}
			return Outcome{}, fmt.Errorf("mark number: load player: %w", err)
		}
		if player.GameID != g.id || player.UserID != userID {
			return Outcome{}, apperr.New(apperr.CodeInvalidPlayer, "player is not owned by this caller")
		}

		hs, err := g.hotState(ctx, game)
		if err != nil {
			return Outcome{}, err
		}
		called := false
		for _, c := range hs.CalledNumbers {
			if c == n {
				called = true
				break
			}
		}
		if !called {
			return Outcome{}, apperr.New(apperr.CodeNumberNotCalled, "number has not been called")
		}

		if err := g.hot.MarkNumber(ctx, g.id, playerID, n); err != nil {
			return Outcome{}, fmt.Errorf("mark number: %w", err)
		}
		return Outcome{}, nil
	})
}

// ClaimWin implements spec.md section 4.5 "claimWin", the nine-step
// protocol for a single winner per (gameId, category).
func (g *Game) ClaimWin(ctx context.Context, userID string, category model.Category) (Outcome, error) {
	return g.submit(ctx, func(ctx context.Context) (Outcome, error) {
		game, err := loadGame(ctx, g.durable, g.id)
		if err != nil {
			return Outcome{}, err
		}

		player, err := g.durable.GetPlayerByUser(ctx, g.id, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Outcome{}, apperr.New(apperr.CodePlayerNotFound, "no player for this caller")
			}
			return Outcome{}, fmt.Errorf("claim win: load player: %w", err)
		}

		hs, err := g.hotState(ctx, game)
		if err != nil {
			return Outcome{}, err
		}
		if hs.Status != model.GameStatusActive {
			return Outcome{}, apperr.New(apperr.CodeGameNotActive, "game is not active")
		}

		if !winvalidator.Validate(player.Ticket, winvalidator.NewCalledSet(hs.CalledNumbers), category) {
			return Outcome{}, apperr.New(apperr.CodeInvalidClaim, "ticket does not satisfy this category")
		}

		release, err := g.hot.AcquireWinnerLock(ctx, g.id, category)
		if err != nil {
			if errors.Is(err, hotstate.ErrLockHeld) {
				return Outcome{}, apperr.New(apperr.CodeCategoryAlreadyClaimed, "another claim is in flight")
			}
			return Outcome{}, fmt.Errorf("claim win: acquire lock: %w", err)
		}
		defer func() {
			if rerr := release(ctx); rerr != nil {
				g.log.Warn("release winner lock", zap.Error(rerr))
			}
		}()

		hs, err = g.hotState(ctx, game)
		if err != nil {
			return Outcome{}, err
		}
		if hs.WonCategories[category] {
			return Outcome{}, apperr.New(apperr.CodeCategoryAlreadyWon, "category already won")
		}

		prizeValue, hasPrize := game.Prizes.For(category)

		winner := &model.Winner{
			ID:        g.newID(),
			GameID:    g.id,
			PlayerID:  player.ID,
			Category:  category,
			ClaimedAt: time.Now(),
		}
		if hasPrize {
			v := prizeValue
			winner.PrizeValue = &v
		}
		if err := g.durable.CreateWinner(ctx, winner); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return Outcome{}, apperr.New(apperr.CodeCategoryAlreadyWon, "category already won")
			}
			return Outcome{}, fmt.Errorf("claim win: create winner: %w", err)
		}
		if err := g.hot.AddWonCategory(ctx, g.id, category); err != nil {
			g.log.Warn("add won category to hot state", zap.Error(err))
		}

		if hasPrize && g.prizes != nil {
			if err := g.prizes.Enqueue(ctx, userID, g.id, category, prizeValue); err != nil {
				g.log.Error("enqueue prize", zap.Error(err), zap.String("category", string(category)))
			}
		}

		claimedEvent := event(EventWinClaimed, WinClaimedPayload{
			Category: category,
			Success:  true,
			Message:  "claim accepted",
		})
		winnerEvent := event(EventWinner, WinnerPayload{
			PlayerID: player.ID,
			UserName: player.UserName,
			Category: category,
		})

		if category == model.CategoryFullHouse {
			if err := g.durable.UpdateGameStatus(ctx, g.id, model.GameStatusCompleted); err != nil {
				g.log.Warn("transition game to completed", zap.Error(err))
			}
			if err := g.durable.SyncCalledNumbers(ctx, g.id, hs.CalledNumbers, hs.CurrentNumber); err != nil {
				g.log.Warn("final sync before teardown", zap.Error(err))
			}
			// The caller (ingress.Adapter, via Manager.Retire) retires
			// this actor and invalidates HotState once it observes Completed.
			return Outcome{
				ToCaller: []*Event{claimedEvent},
				ToRoom:   []*Event{winnerEvent, event(EventCompleted, CompletedPayload{GameID: g.id})},
			}, nil
		}

		return Outcome{ToCaller: []*Event{claimedEvent}, ToRoom: []*Event{winnerEvent}}, nil
	})
}

// Cancel implements spec.md's "any -> CANCELLED" transition. Unlike
// every other operation it is reached through the httpapi admin
// surface rather than a socket envelope type, per DESIGN.md's Open
// Question resolution -- cancelling a game is an organizer action, not
// a player-facing game event.
func (g *Game) Cancel(ctx context.Context, userID string) (Outcome, error) {
	return g.submit(ctx, func(ctx context.Context) (Outcome, error) {
		game, err := loadGame(ctx, g.durable, g.id)
		if err != nil {
			return Outcome{}, err
		}
		if game.CreatedBy != userID {
			return Outcome{}, apperr.New(apperr.CodeForbidden, "only the creator may cancel the game")
		}
		if game.Status == model.GameStatusCompleted || game.Status == model.GameStatusCancelled {
			return Outcome{}, apperr.New(apperr.CodeInvalidStatus, "game has already ended")
		}

		if err := g.durable.UpdateGameStatus(ctx, g.id, model.GameStatusCancelled); err != nil {
			return Outcome{}, fmt.Errorf("cancel: update status: %w", err)
		}
		// HotState invalidation happens once, in Manager.Retire, which
		// ingress.Adapter.Cancel calls right after this returns -- the
		// same path EventCompleted uses, so there is one teardown
		// sequence for every terminal transition.

		return Outcome{ToRoom: []*Event{event(EventCancelled, CancelledPayload{GameID: g.id})}}, nil
	})
}
