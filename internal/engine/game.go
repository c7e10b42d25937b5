package engine

import (
	"context"
	cryptorand "crypto/rand"
	"math/rand"

	"github.com/tambola-live/engine/internal/apperr"
	"github.com/tambola-live/engine/internal/hotstate"
	"github.com/tambola-live/engine/internal/store"
	"go.uber.org/zap"
)

// command is one request queued on a Game's actor loop. The closure
// captures its own arguments; the actor only needs to invoke it and
// hand the result back, exactly as the teacher's Hub.run() dispatches
// register/unreg/joins/mods/guesses without a shared mutex.
type command struct {
	ctx    context.Context
	op     func(ctx context.Context) (Outcome, error)
	result chan opResult
}

type opResult struct {
	outcome Outcome
	err     error
}

// Game is the actor owning a single gameId's authoritative state
// transitions. All mutation happens on the run() goroutine; callers
// never touch fields directly.
type Game struct {
	id string

	hot     hotstate.Store
	durable store.Store
	prizes  PrizeEnqueuer
	newRand RandSource
	newID   IDGenerator
	log     *zap.Logger

	cmds chan command
	quit chan struct{}
}

func newGame(id string, hot hotstate.Store, durable store.Store, prizes PrizeEnqueuer, newRand RandSource, newID IDGenerator, log *zap.Logger) *Game {
	g := &Game{
		id:      id,
		hot:     hot,
		durable: durable,
		prizes:  prizes,
		newRand: newRand,
		newID:   newID,
		log:     log,
		cmds:    make(chan command),
		quit:    make(chan struct{}),
	}
	go g.run()
	return g
}

func (g *Game) run() {
	for {
		select {
		case cmd := <-g.cmds:
			outcome, err := cmd.op(cmd.ctx)
			select {
			case cmd.result <- opResult{outcome, err}:
			default:
			}
		case <-g.quit:
			return
		}
	}
}

// submit serializes op onto the actor loop and waits for its result,
// bailing out early if ctx is cancelled or the game has been retired.
func (g *Game) submit(ctx context.Context, op func(ctx context.Context) (Outcome, error)) (Outcome, error) {
	result := make(chan opResult, 1)
	select {
	case g.cmds <- command{ctx: ctx, op: op, result: result}:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-g.quit:
		return Outcome{}, apperr.New(apperr.CodeGameNotFound, "game no longer active")
	}

	select {
	case r := <-result:
		return r.outcome, r.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (g *Game) stop() {
	close(g.quit)
}

// defaultRand seeds each ticket draw from crypto/rand, falling back to
// a fixed seed only if the OS source is unavailable.
func defaultRand() RandSource {
	return func() *rand.Rand {
		var seed [8]byte
		if _, err := cryptorand.Read(seed[:]); err != nil {
			return rand.New(rand.NewSource(1))
		}
		var n int64
		for _, b := range seed {
			n = n<<8 | int64(b)
		}
		return rand.New(rand.NewSource(n))
	}
}
