package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dginev/cortex-dispatch/internal/clock"
	"github.com/dginev/cortex-dispatch/internal/store"
)

// finalizerStore is the Task Store surface the Finalizer needs.
type finalizerStore interface {
	MarkDone(ctx context.Context, reports []store.TaskReport) error
}

// Finalizer drains the completion queue and persists reports transactionally,
// per spec.md section 4.5.
type Finalizer struct {
	Store      finalizerStore
	Clock      clock.Clock
	Completion *CompletionQueue
	Logger     *slog.Logger

	IdleSleep  time.Duration
	RetryCount int
	RetryDelay time.Duration
	JobLimit   int

	persistedBatches int
}

// Run loops until ctx is canceled or the job limit (persisted batches) is
// reached.
func (f *Finalizer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		reports := f.Completion.DrainAll()
		if len(reports) == 0 {
			f.Clock.Sleep(f.IdleSleep)
			continue
		}

		if err := f.markDoneWithRetry(ctx, reports); err != nil {
			// The store has failed MarkDone RetryCount times in a row;
			// panicking is the deliberate "fail loud" contract from
			// spec.md sections 4.5 and 9, bringing down the dispatcher so
			// an operator notices instead of silently losing reports.
			panic(fmt.Sprintf("finalizer: mark_done failed after %d retries: %v", f.RetryCount, err))
		}

		f.persistedBatches++
		if f.persistedBatches%100 == 0 {
			f.Logger.Info("finalizer progress", "persisted_batches", f.persistedBatches)
		}

		if f.JobLimit > 0 && f.persistedBatches >= f.JobLimit {
			return nil
		}
	}
}

func (f *Finalizer) markDoneWithRetry(ctx context.Context, reports []store.TaskReport) error {
	var lastErr error
	for attempt := 0; attempt <= f.RetryCount; attempt++ {
		if attempt > 0 {
			f.Clock.Sleep(f.RetryDelay)
		}
		if err := f.Store.MarkDone(ctx, reports); err != nil {
			lastErr = err
			f.Logger.Error("finalizer mark_done failed", "attempt", attempt+1, "err", err)
			continue
		}
		return nil
	}
	return lastErr
}
