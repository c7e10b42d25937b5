// Package prizequeue implements the durable at-least-once payout
// pipeline described in spec.md section 4.6: Enqueue/Process with a
// bounded retry schedule and a lease-recovery reaper, grounded on the
// ticker-driven background worker style of
// Byabasaija-playpool/internal/game/matchmaker_worker.go.
package prizequeue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tambola-live/engine/internal/model"
	"github.com/tambola-live/engine/internal/store"
)

// PayoutClient is the slice of payout.Client that the queue needs;
// declared here (rather than importing internal/payout) so the two
// packages stay acyclic, mirroring engine.PrizeEnqueuer.
type PayoutClient interface {
	Pay(ctx context.Context, idempotencyKey, userID string, category model.Category, prizeValue int) error
}

// Queue drives PrizeQueueItem rows from PENDING through PROCESSING to
// COMPLETED or DEAD_LETTER.
type Queue struct {
	durable     store.Store
	payout      PayoutClient
	log         *zap.Logger
	callTimeout time.Duration
}

// New builds a Queue. callTimeout bounds every external payout call,
// per spec.md section 5's "all external-API calls must carry a
// bounded timeout."
func New(durable store.Store, payout PayoutClient, log *zap.Logger, callTimeout time.Duration) *Queue {
	return &Queue{durable: durable, payout: payout, log: log, callTimeout: callTimeout}
}

// Enqueue implements spec.md section 4.6 "Enqueue": a PENDING row
// keyed by (userId, gameId, category), idempotent on collision.
// Processing is always kicked off asynchronously so the caller (an
// in-flight GameEngine.ClaimWin) never blocks on the external API.
func (q *Queue) Enqueue(ctx context.Context, userID, gameID string, category model.Category, prizeValue int) error {
	item := &model.PrizeQueueItem{
		ID:             uuid.NewString(),
		UserID:         userID,
		GameID:         gameID,
		Category:       category,
		PrizeValue:     prizeValue,
		Status:         model.PrizeStatusPending,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      time.Now(),
	}

	err := q.durable.EnqueuePrize(ctx, item)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("enqueue prize: %w", err)
	}
	// On ErrConflict, item has been overwritten with the existing row
	// by EnqueuePrize -- either way there is now a PrizeQueueItem id
	// worth kicking a processing attempt for.
	q.schedule(item.ID, 0)
	return nil
}

// Process implements spec.md section 4.6 "Process(id)".
func (q *Queue) Process(ctx context.Context, id string) error {
	item, err := q.durable.GetPrizeItem(ctx, id)
	if err != nil {
		return fmt.Errorf("process: load item: %w", err)
	}
	if item.Status != model.PrizeStatusPending {
		return nil
	}

	claimed, err := q.durable.CASPrizeStatus(ctx, id, model.PrizeStatusPending, model.PrizeStatusProcessing)
	if err != nil {
		return fmt.Errorf("process: claim item: %w", err)
	}
	if !claimed {
		// Another worker (or reaper) already moved it off PENDING.
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, q.callTimeout)
	defer cancel()
	payErr := q.payout.Pay(callCtx, item.IdempotencyKey, item.UserID, item.Category, item.PrizeValue)
	if payErr == nil {
		if err := q.durable.CompletePrizeItem(ctx, id); err != nil {
			q.log.Error("mark prize item completed", zap.String("id", id), zap.Error(err))
		}
		return nil
	}

	attempts := item.Attempts + 1
	if attempts >= model.MaxAttempts {
		if err := q.durable.FailPrizeItem(ctx, id, attempts, payErr.Error(), true); err != nil {
			q.log.Error("move prize item to dead letter", zap.String("id", id), zap.Error(err))
		}
		q.log.Error("prize item exhausted retries", zap.String("id", id), zap.Error(payErr))
		return payErr
	}

	if err := q.durable.FailPrizeItem(ctx, id, attempts, payErr.Error(), false); err != nil {
		q.log.Error("record prize item failure", zap.String("id", id), zap.Error(err))
	}
	q.schedule(id, model.RetryDelays[attempts-1])
	return payErr
}

// ManualRetry implements spec.md section 4.6 "Manual retry": resets
// attempts to zero and moves a DEAD_LETTER or FAILED row back to
// PENDING, then schedules an immediate attempt.
func (q *Queue) ManualRetry(ctx context.Context, id string) error {
	if err := q.durable.ResetPrizeItem(ctx, id); err != nil {
		return fmt.Errorf("manual retry: reset item: %w", err)
	}
	q.schedule(id, 0)
	return nil
}

// schedule runs Process(id) after delay using a background context,
// since the request that triggered it (a socket handler, a reaper
// sweep) will have returned long before delay elapses.
func (q *Queue) schedule(id string, delay time.Duration) {
	run := func() {
		if err := q.Process(context.Background(), id); err != nil {
			q.log.Warn("scheduled prize processing attempt failed", zap.String("id", id), zap.Error(err))
		}
	}
	if delay <= 0 {
		go run()
		return
	}
	time.AfterFunc(delay, run)
}
