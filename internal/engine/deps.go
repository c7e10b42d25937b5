package engine

import (
	"context"
	"math/rand"

	"github.com/tambola-live/engine/internal/model"
)

// PrizeEnqueuer is the slice of prizequeue.Queue that GameEngine needs
// on a successful claim; declared here so engine never imports
// prizequeue and the two packages stay acyclic.
type PrizeEnqueuer interface {
	Enqueue(ctx context.Context, userID, gameID string, category model.Category, prizeValue int) error
}

// RandSource returns a fresh deterministic-if-seeded RNG for a single
// ticket draw. Production wiring supplies a source keyed off
// crypto/rand; tests supply a fixed seed.
type RandSource func() *rand.Rand

// IDGenerator mints opaque identifiers for Player and Winner rows.
type IDGenerator func() string
