package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codealert/internal/storage"
	logx "codealert/pkg/logx"
)

// Engine wires the catalog, registry and external collaborators into the
// per-batch reconciliation cycle.
type Engine struct {
	catalog  Catalog
	registry Registry
	oracle   Oracle
	delivery Delivery
	alerter  Alerter
	expiry   ExpiryPolicy
	log      logx.Logger
}

func NewEngine(catalog Catalog, registry Registry, oracle Oracle, delivery Delivery, alerter Alerter, expiry ExpiryPolicy, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		catalog:  catalog,
		registry: registry,
		oracle:   oracle,
		delivery: delivery,
		alerter:  alerter,
		expiry:   expiry,
		log:      log.With(logx.String("comp", "engine")),
	}
}

// Run consumes batches until ctx is cancelled or the channel closes.
// Shutdown is checked before blocking on the next batch; a batch already
// received runs through its full cycle so the catalog is never left
// partially ingested.
func (e *Engine) Run(ctx context.Context, batches <-chan Batch) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case b, ok := <-batches:
			if !ok {
				return
			}
			e.cycle(context.WithoutCancel(ctx), b)
		}
	}
}

func (e *Engine) cycle(ctx context.Context, b Batch) {
	start := time.Now()
	if err := e.Ingest(ctx, b); err != nil {
		// Next interval retries with a fresh scrape.
		e.log.Error("ingestion aborted", logx.Err(err), logx.Int("batch", len(b)))
		return
	}

	deltas, err := e.Reconcile(ctx)
	if err != nil {
		e.log.Error("reconcile failed", logx.Err(err))
		return
	}

	sent := 0
	for _, d := range deltas {
		if err := e.delivery.Deliver(ctx, d); err != nil {
			// Cursor untouched: the same delta is recomputed next cycle.
			e.log.Warn("delivery failed",
				logx.Int64("subscriber", d.Subscriber),
				logx.Int("codes", len(d.Codes)),
				logx.Err(err))
			continue
		}
		sent++
		if err := e.Commit(ctx, d.Subscriber, storage.HighestID(d.Codes)); err != nil {
			// Delivered but not committed: the subscriber will see these
			// codes again next cycle. Duplicate over loss.
			e.log.Error("cursor commit failed",
				logx.Int64("subscriber", d.Subscriber), logx.Err(err))
		}
	}
	e.log.Info("cycle complete",
		logx.Int("batch", len(b)),
		logx.Int("deltas", len(deltas)),
		logx.Int("delivered", sent),
		logx.Duration("took", time.Since(start)))
}

// Ingest upserts every observed code and invalidates catalog entries absent
// from the batch. Individual upsert failures do not stop the remaining
// inserts; an invalidation failure aborts the cycle and is returned, since
// partial invalidation must not be assumed to have succeeded.
//
// The invalidation set is the observed batch itself, never the subset of
// successful upserts: validity only transitions true to false, so excluding
// a still-advertised code over a transient upsert error would invalidate it
// permanently. An empty batch is rejected without touching the catalog for
// the same reason.
func (e *Engine) Ingest(ctx context.Context, b Batch) error {
	present := make([]string, 0, len(b))
	for _, obs := range b {
		text := strings.TrimSpace(obs.Text)
		if text == "" {
			continue
		}
		present = append(present, text)

		id, created, err := e.catalog.Upsert(ctx, text, kindOf(obs))
		if err != nil {
			e.log.Error("code upsert failed", logx.String("code", text), logx.Err(err))
			continue
		}
		if created {
			e.log.Info("new code observed",
				logx.Uint64("id", id),
				logx.String("code", text),
				logx.Bool("limited", obs.Limited))
		}
	}
	if len(present) == 0 {
		e.log.Warn("empty batch ignored")
		return nil
	}

	if e.expiry.Enabled {
		if err := e.expireAged(ctx); err != nil {
			return err
		}
	}

	return e.catalog.InvalidateMissing(ctx, present)
}

func (e *Engine) expireAged(ctx context.Context) error {
	now := time.Now()
	for _, p := range []struct {
		kind storage.Kind
		age  time.Duration
	}{
		{storage.KindOrdinary, e.expiry.Ordinary},
		{storage.KindLimited, e.expiry.Limited},
	} {
		if p.age <= 0 {
			continue
		}
		n, err := e.catalog.InvalidateOlderThan(ctx, p.kind, now.Add(-p.age))
		if err != nil {
			return err
		}
		if n > 0 {
			e.log.Info("codes expired by age", logx.String("kind", string(p.kind)), logx.Int64("count", n))
		}
	}
	return nil
}

// Reconcile validates every enabled subscriber and computes its delta of
// undelivered valid codes. Subscribers are independent: a failure on one
// never stops the others. Cursors are not touched here.
func (e *Engine) Reconcile(ctx context.Context) ([]Delta, error) {
	subs, err := e.registry.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	var deltas []Delta
	for _, listed := range subs {
		// Fresh read: a disable or destination change issued since the list
		// snapshot must be honored.
		sub, err := e.registry.Get(ctx, listed.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				e.log.Warn("subscriber vanished mid-cycle", logx.Int64("subscriber", listed.ID))
				continue
			}
			e.log.Error("subscriber read failed", logx.Int64("subscriber", listed.ID), logx.Err(err))
			continue
		}
		if !sub.Enabled {
			continue
		}

		outcome, err := e.validate(ctx, sub)
		if err != nil {
			// Cannot confirm validity; leave the subscriber enabled and
			// skip it this cycle.
			e.log.Warn("validation skipped", logx.Int64("subscriber", sub.ID), logx.Err(err))
			continue
		}
		if outcome.Kind != OutcomeValid {
			e.disableStale(ctx, sub, outcome)
			continue
		}

		codes, err := e.catalog.CodesAfter(ctx, sub.Cursor, true)
		if err != nil {
			e.log.Error("delta query failed", logx.Int64("subscriber", sub.ID), logx.Err(err))
			continue
		}
		if len(codes) == 0 {
			continue
		}
		deltas = append(deltas, Delta{
			Subscriber:  sub.ID,
			Codes:       codes,
			Destination: sub.Destination,
			Mention:     sub.Mention,
		})
	}
	return deltas, nil
}

// disableStale sends one advisory to the group's fallback destination and
// disables the subscriber. The subscriber receives nothing further until an
// operator re-enables it.
func (e *Engine) disableStale(ctx context.Context, sub storage.Subscriber, outcome Outcome) {
	e.log.Warn("subscriber has stale configuration",
		logx.Int64("subscriber", sub.ID),
		logx.Int("outcome", int(outcome.Kind)),
		logx.Int64("destination", outcome.Destination),
		logx.Int64("mention", outcome.Mention))

	fallback, err := e.oracle.FallbackDestination(ctx, sub.ID)
	if err != nil {
		e.log.Error("no fallback destination for advisory", logx.Int64("subscriber", sub.ID), logx.Err(err))
	} else if err := e.alerter.Alert(ctx, fallback, outcome.Advisory()); err != nil {
		e.log.Error("advisory send failed", logx.Int64("subscriber", sub.ID), logx.Err(err))
	}

	if err := e.registry.SetEnabled(ctx, sub.ID, false); err != nil {
		e.log.Error("auto-disable failed", logx.Int64("subscriber", sub.ID), logx.Err(err))
	}
}

// Commit advances the subscriber's cursor after a confirmed delivery.
// highest == 0 means nothing was delivered and is a no-op.
func (e *Engine) Commit(ctx context.Context, subscriber int64, highest uint64) error {
	if highest == 0 {
		return nil
	}
	if err := e.registry.AdvanceCursor(ctx, subscriber, highest); err != nil {
		return fmt.Errorf("commit subscriber %d: %w", subscriber, err)
	}
	return nil
}

func kindOf(obs Observation) storage.Kind {
	if obs.Limited {
		return storage.KindLimited
	}
	return storage.KindOrdinary
}
