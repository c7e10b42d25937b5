package prizequeue

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartReaper polls for PrizeQueueItem rows stuck in PROCESSING past
// model.ProcessingLease (a crashed worker never reached CompletePrizeItem/
// FailPrizeItem) and recovers them to PENDING, per spec.md section
// 4.6's "Retry scheduling is cooperative" paragraph. Grounded on
// Byabasaija-playpool/internal/game/matchmaker_worker.go's
// ticker-driven StartMatchmakerWorker loop.
func (q *Queue) StartReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.reapOnce(ctx)
			}
		}
	}()
}

func (q *Queue) reapOnce(ctx context.Context) {
	stuck, err := q.durable.ListStuckProcessing(ctx)
	if err != nil {
		q.log.Error("list stuck prize items", zap.Error(err))
		return
	}
	for _, item := range stuck {
		if err := q.durable.ResetPrizeItem(ctx, item.ID); err != nil {
			q.log.Error("recover stuck prize item", zap.String("id", item.ID), zap.Error(err))
			continue
		}
		q.log.Warn("recovered stuck prize item", zap.String("id", item.ID))
		q.schedule(item.ID, 0)
	}
}
