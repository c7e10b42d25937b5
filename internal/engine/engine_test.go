package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tambola-live/engine/internal/apperr"
	"github.com/tambola-live/engine/internal/engine"
	"github.com/tambola-live/engine/internal/hotstate"
	hotmem "github.com/tambola-live/engine/internal/hotstate/memstore"
	"github.com/tambola-live/engine/internal/model"
	storemem "github.com/tambola-live/engine/internal/store/memstore"
)

type fakePrizeQueue struct {
	enqueued int
}

func (f *fakePrizeQueue) Enqueue(_ context.Context, _, _ string, _ model.Category, _ int) error {
	f.enqueued++
	return nil
}

func newTestManager(t *testing.T) (*engine.Manager, *storemem.Store, *fakePrizeQueue) {
	t.Helper()
	durable := storemem.New()
	hot := hotmem.New()
	pq := &fakePrizeQueue{}
	mgr := engine.NewManager(hot, durable, pq, zap.NewNop())
	return mgr, durable, pq
}

func seedGame(t *testing.T, durable *storemem.Store, creator string) string {
	t.Helper()
	id := "game-1"
	fullHouse := 500
	err := durable.CreateGame(context.Background(), &model.Game{
		ID:        id,
		Status:    model.GameStatusLobby,
		CreatedBy: creator,
		Prizes:    model.Prizes{FullHouse: &fullHouse},
	})
	require.NoError(t, err)
	return id
}

func TestJoinCreatorIsObserver(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")

	out, err := mgr.Game(gameID).Join(context.Background(), "creator-1", "")
	require.NoError(t, err)
	require.Len(t, out.ToCaller, 1)
	payload, ok := out.ToCaller[0].Payload.(engine.JoinedPayload)
	require.True(t, ok)
	require.Nil(t, payload.PlayerID)
	require.Nil(t, payload.Ticket)
	require.Nil(t, out.ToRoom)
}

func TestJoinPlayerGetsTicketAndIsIdempotent(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")
	g := mgr.Game(gameID)

	out, err := g.Join(context.Background(), "user-1", "Alice")
	require.NoError(t, err)
	payload := out.ToCaller[0].Payload.(engine.JoinedPayload)
	require.NotNil(t, payload.PlayerID)
	require.NotNil(t, payload.Ticket)
	require.Len(t, out.ToRoom, 1)

	// Rejoining the same user returns the same player/ticket, does not
	// broadcast playerJoined again, and catches the socket up with a
	// stateSync.
	out2, err := g.Join(context.Background(), "user-1", "Alice")
	require.NoError(t, err)
	require.Len(t, out2.ToCaller, 2)
	payload2 := out2.ToCaller[0].Payload.(engine.JoinedPayload)
	require.Equal(t, *payload.PlayerID, *payload2.PlayerID)
	require.Nil(t, out2.ToRoom)

	require.Equal(t, engine.EventStateSync, out2.ToCaller[1].Type)
	sync := out2.ToCaller[1].Payload.(engine.StateSyncPayload)
	require.Len(t, sync.Players, 1)
	require.Equal(t, "Alice", sync.Players[0].UserName)
}

func TestJoinRejoinStateSyncReflectsProgress(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")
	g := mgr.Game(gameID)

	joinOut, err := g.Join(context.Background(), "user-1", "Alice")
	require.NoError(t, err)
	payload := joinOut.ToCaller[0].Payload.(engine.JoinedPayload)

	_, err = g.Start(context.Background(), "creator-1")
	require.NoError(t, err)
	called := payload.Ticket.NonZero()[0]
	_, err = g.CallNumber(context.Background(), "creator-1", called)
	require.NoError(t, err)
	_, err = g.MarkNumber(context.Background(), "user-1", *payload.PlayerID, called)
	require.NoError(t, err)

	rejoinOut, err := g.Join(context.Background(), "user-1", "Alice")
	require.NoError(t, err)
	require.Len(t, rejoinOut.ToCaller, 2)
	require.Equal(t, engine.EventStateSync, rejoinOut.ToCaller[1].Type)

	sync := rejoinOut.ToCaller[1].Payload.(engine.StateSyncPayload)
	require.Equal(t, []int{called}, sync.CalledNumbers)
	require.NotNil(t, sync.CurrentNumber)
	require.Equal(t, called, *sync.CurrentNumber)
	require.True(t, sync.MarkedNumbers[called])
	require.Empty(t, sync.Winners)
}

func TestJoinFailsWhenGameMissing(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Game("nope").Join(context.Background(), "user-1", "Alice")
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.CodeGameNotFound, appErr.Code)
}

func TestStartFailsForNonCreator(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")
	mgr.Game(gameID).Join(context.Background(), "user-1", "Alice")

	_, err := mgr.Game(gameID).Start(context.Background(), "user-1")
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.CodeForbidden, appErr.Code)
}

func TestStartFailsWithNoPlayers(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")

	_, err := mgr.Game(gameID).Start(context.Background(), "creator-1")
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.CodeNoPlayers, appErr.Code)
}

func TestCallNumberLifecycle(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")
	g := mgr.Game(gameID)

	g.Join(context.Background(), "user-1", "Alice")
	_, err := g.Start(context.Background(), "creator-1")
	require.NoError(t, err)

	out, err := g.CallNumber(context.Background(), "creator-1", 42)
	require.NoError(t, err)
	require.Len(t, out.ToRoom, 1)
	require.Equal(t, engine.EventNumberCalled, out.ToRoom[0].Type)

	_, err = g.CallNumber(context.Background(), "creator-1", 42)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.CodeNumberAlreadyCalled, appErr.Code)

	_, err = g.CallNumber(context.Background(), "creator-1", 91)
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.CodeOutOfRange, appErr.Code)

	_, err = g.CallNumber(context.Background(), "user-1", 7)
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.CodeForbidden, appErr.Code)
}

func TestMarkNumberRequiresCalledNumber(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")
	g := mgr.Game(gameID)

	joinOut, _ := g.Join(context.Background(), "user-1", "Alice")
	payload := joinOut.ToCaller[0].Payload.(engine.JoinedPayload)
	g.Start(context.Background(), "creator-1")

	_, err := g.MarkNumber(context.Background(), "user-1", *payload.PlayerID, payload.Ticket.NonZero()[0])
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.CodeNumberNotCalled, appErr.Code)

	g.CallNumber(context.Background(), "creator-1", payload.Ticket.NonZero()[0])
	_, err = g.MarkNumber(context.Background(), "user-1", *payload.PlayerID, payload.Ticket.NonZero()[0])
	require.NoError(t, err)
}

func TestMarkNumberRejectsForeignPlayer(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")
	g := mgr.Game(gameID)

	joinOut, _ := g.Join(context.Background(), "user-1", "Alice")
	payload := joinOut.ToCaller[0].Payload.(engine.JoinedPayload)
	g.Start(context.Background(), "creator-1")
	g.CallNumber(context.Background(), "creator-1", payload.Ticket.NonZero()[0])

	_, err := g.MarkNumber(context.Background(), "user-2", *payload.PlayerID, payload.Ticket.NonZero()[0])
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.CodeInvalidPlayer, appErr.Code)
}

func TestClaimWinFullHouseCompletesGame(t *testing.T) {
	mgr, durable, pq := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")
	g := mgr.Game(gameID)

	joinOut, _ := g.Join(context.Background(), "user-1", "Alice")
	payload := joinOut.ToCaller[0].Payload.(engine.JoinedPayload)
	g.Start(context.Background(), "creator-1")

	for _, n := range payload.Ticket.NonZero() {
		_, err := g.CallNumber(context.Background(), "creator-1", n)
		require.NoError(t, err)
	}

	out, err := g.ClaimWin(context.Background(), "user-1", model.CategoryFullHouse)
	require.NoError(t, err)
	require.Len(t, out.ToRoom, 2)
	require.Equal(t, engine.EventCompleted, out.ToRoom[1].Type)
	require.Equal(t, 1, pq.enqueued)

	stored, err := durable.GetGame(context.Background(), gameID)
	require.NoError(t, err)
	require.Equal(t, model.GameStatusCompleted, stored.Status)

	// A second claim for the same category is rejected.
	_, err = g.ClaimWin(context.Background(), "user-1", model.CategoryFullHouse)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.CodeCategoryAlreadyWon, appErr.Code)
}

func TestClaimWinRejectsInvalidClaim(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")
	g := mgr.Game(gameID)

	g.Join(context.Background(), "user-1", "Alice")
	g.Start(context.Background(), "creator-1")

	_, err := g.ClaimWin(context.Background(), "user-1", model.CategoryFullHouse)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.CodeInvalidClaim, appErr.Code)
}

// TestClaimWinConcurrentClaimsYieldExactlyOneWinner exercises the
// single-winner-per-category lock under real goroutine contention:
// many players race to claim EARLY_5 and exactly one may succeed.
func TestClaimWinConcurrentClaimsYieldExactlyOneWinner(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")
	g := mgr.Game(gameID)

	const players = 8
	for i := 0; i < players; i++ {
		_, err := g.Join(context.Background(), userID(i), "player")
		require.NoError(t, err)
	}
	_, err := g.Start(context.Background(), "creator-1")
	require.NoError(t, err)

	// Call every number so every ticket's EARLY_5 condition is met.
	for n := 1; n <= 90; n++ {
		_, err := g.CallNumber(context.Background(), "creator-1", n)
		require.NoError(t, err)
	}

	var eg errgroup.Group
	results := make([]error, players)
	for i := 0; i < players; i++ {
		i := i
		eg.Go(func() error {
			_, err := g.ClaimWin(context.Background(), userID(i), model.CategoryEarly5)
			results[i] = err
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		}
	}
	require.Equal(t, 1, wins)

	winners, err := durable.ListWinners(context.Background(), gameID)
	require.NoError(t, err)
	require.Len(t, winners, 1)
	require.Equal(t, model.CategoryEarly5, winners[0].Category)
}

func userID(i int) string {
	return "user-" + string(rune('a'+i))
}

func TestCancelFailsForNonCreator(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")

	_, err := mgr.Game(gameID).Cancel(context.Background(), "someone-else")
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.CodeForbidden, appErr.Code)
}

func TestCancelFromLobbyBroadcastsCancelled(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")

	out, err := mgr.Game(gameID).Cancel(context.Background(), "creator-1")
	require.NoError(t, err)
	require.Len(t, out.ToRoom, 1)
	require.Equal(t, engine.EventCancelled, out.ToRoom[0].Type)

	game, err := durable.GetGame(context.Background(), gameID)
	require.NoError(t, err)
	require.Equal(t, model.GameStatusCancelled, game.Status)
}

func TestCancelFromActiveSucceeds(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")
	g := mgr.Game(gameID)
	_, err := g.Join(context.Background(), "user-1", "Alice")
	require.NoError(t, err)
	_, err = g.Start(context.Background(), "creator-1")
	require.NoError(t, err)

	_, err = g.Cancel(context.Background(), "creator-1")
	require.NoError(t, err)

	game, err := durable.GetGame(context.Background(), gameID)
	require.NoError(t, err)
	require.Equal(t, model.GameStatusCancelled, game.Status)
}

// TestRetireInvalidatesHotStateOnCompletion exercises spec.md's "such
// caches must be invalidated on game COMPLETED" rule for the normal
// FULL_HOUSE path, not just Cancel: once Manager.Retire observes the
// game is done, HotState must be gone too.
func TestRetireInvalidatesHotStateOnCompletion(t *testing.T) {
	durable := storemem.New()
	hot := hotmem.New()
	pq := &fakePrizeQueue{}
	mgr := engine.NewManager(hot, durable, pq, zap.NewNop())
	gameID := seedGame(t, durable, "creator-1")
	g := mgr.Game(gameID)

	joinOut, err := g.Join(context.Background(), "user-1", "Alice")
	require.NoError(t, err)
	payload := joinOut.ToCaller[0].Payload.(engine.JoinedPayload)
	_, err = g.Start(context.Background(), "creator-1")
	require.NoError(t, err)
	for _, n := range payload.Ticket.NonZero() {
		_, err := g.CallNumber(context.Background(), "creator-1", n)
		require.NoError(t, err)
	}

	_, err = g.ClaimWin(context.Background(), "user-1", model.CategoryFullHouse)
	require.NoError(t, err)

	_, err = hot.GetGameState(context.Background(), gameID)
	require.NoError(t, err, "hot state still present right after completion, before Retire")

	mgr.Retire(context.Background(), gameID)

	_, err = hot.GetGameState(context.Background(), gameID)
	require.ErrorIs(t, err, hotstate.ErrNotFound)
}

func TestCancelFailsWhenAlreadyCancelled(t *testing.T) {
	mgr, durable, _ := newTestManager(t)
	gameID := seedGame(t, durable, "creator-1")
	g := mgr.Game(gameID)

	_, err := g.Cancel(context.Background(), "creator-1")
	require.NoError(t, err)

	_, err = g.Cancel(context.Background(), "creator-1")
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.CodeInvalidStatus, appErr.Code)
}
