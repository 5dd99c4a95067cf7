package outbox

import (
	"context"
	"log/slog"
	"time"
)

// Relay polls the outbox and publishes pending events. Events go out one at
// a time in creation order; the first publish failure aborts the batch so
// the failed event is retried on the next tick instead of being skipped.
// Skipping would break per-aggregate ordering.
//
// A crash between broker write and MarkPublished redelivers the event, which
// is why consumers dedupe.
type Relay struct {
	log       *slog.Logger
	store     Store
	dispatch  *Dispatcher
	batchSize int
	interval  time.Duration
	purgeTick time.Duration
	retention time.Duration
}

func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher) *Relay {
	return &Relay{
		log:       log,
		store:     store,
		dispatch:  dispatch,
		batchSize: 100,
		interval:  time.Second,
		purgeTick: time.Hour,
		retention: 24 * time.Hour,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	publish := time.NewTicker(r.interval)
	purge := time.NewTicker(r.purgeTick)
	defer publish.Stop()
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopping")
			return nil
		case <-publish.C:
			r.publishPending(ctx)
		case <-purge.C:
			r.purgeOld(ctx)
		}
	}
}

func (r *Relay) publishPending(ctx context.Context) {
	events, err := r.store.LoadPending(ctx, r.batchSize)
	if err != nil {
		r.log.Error("outbox load pending failed", "err", err)
		return
	}

	for _, ev := range events {
		if err := r.dispatch.Dispatch(ctx, ev); err != nil {
			// Retried next tick; later events must wait behind it.
			return
		}
		if err := r.store.MarkPublished(ctx, ev.ID); err != nil {
			r.log.Error("outbox mark published failed", "event_id", ev.ID, "err", err)
			return
		}
	}
}

func (r *Relay) purgeOld(ctx context.Context) {
	n, err := r.store.PurgePublished(ctx, time.Now().UTC().Add(-r.retention))
	if err != nil {
		r.log.Error("outbox purge failed", "err", err)
		return
	}
	if n > 0 {
		r.log.Info("outbox purged", "events", n)
	}
}
