// Package poller implements delta polling over the action buffer: an
// interval loop that picks up records validated since the last tick
// and feeds them to documentation-originated propagation.
//
// The watermark belongs to the running poller, advances to each tick's
// start time, and never regresses. Records validated while a tick is
// in flight land after the new watermark and are picked up next tick.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trancendos/syncbridge/internal/buffer"
	"github.com/trancendos/syncbridge/internal/logging"
	"github.com/trancendos/syncbridge/internal/metrics"
	"github.com/trancendos/syncbridge/internal/platform"
)

// startupLookback is how far behind process start the initial
// watermark sits, so records validated just before a restart are not
// lost to the gap.
const startupLookback = 5 * time.Minute

// DocPropagator consumes documentation-side changes. Satisfied by the
// orchestrator.
type DocPropagator interface {
	PropagateFromDoc(ctx context.Context, page platform.DocPage) error
}

// Poller drives the delta loop.
type Poller struct {
	store      buffer.Store
	propagator DocPropagator
	log        *logging.Logger
	metrics    *metrics.Metrics
	interval   time.Duration

	mu        sync.Mutex
	watermark time.Time

	now func() time.Time
}

// New creates a poller. The watermark starts startupLookback behind
// the current time.
func New(store buffer.Store, propagator DocPropagator, log *logging.Logger, m *metrics.Metrics, interval time.Duration) *Poller {
	p := &Poller{
		store:      store,
		propagator: propagator,
		log:        log.Named("poller"),
		metrics:    m,
		interval:   interval,
		now:        time.Now,
	}
	p.watermark = p.now().Add(-startupLookback)
	return p
}

// Watermark returns the current watermark.
func (p *Poller) Watermark() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watermark
}

// Run ticks until the context is canceled. Tick errors are logged and
// the loop keeps going; only cancellation stops it.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info(ctx, "delta poller started",
		zap.Duration("interval", p.interval),
		zap.Time("watermark", p.Watermark()))

	for {
		select {
		case <-ctx.Done():
			p.log.Info(ctx, "delta poller stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Tick(ctx); err != nil {
				p.log.Error(ctx, "poll tick failed", zap.Error(err))
			}
		}
	}
}

// Tick processes one delta window and advances the watermark to the
// tick's start time. Per-record propagation failures are logged, not
// returned; the error covers buffer access only, and a failed query
// leaves the watermark where it was.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	tickStart := p.now()

	p.mu.Lock()
	since := p.watermark
	p.mu.Unlock()

	records, err := p.store.Query(ctx, buffer.Filter{ValidatedAfter: &since})
	if err != nil {
		return 0, err
	}

	for _, rec := range records {
		if err := p.propagator.PropagateFromDoc(ctx, docPageFor(rec)); err != nil {
			p.log.Debug(ctx, "doc propagation not applied",
				zap.String("record", rec.ID), zap.Error(err))
		}
	}

	p.mu.Lock()
	if tickStart.After(p.watermark) {
		p.metrics.WatermarkAgeSeconds.Set(tickStart.Sub(p.watermark).Seconds())
		p.watermark = tickStart
	}
	p.mu.Unlock()

	if len(records) > 0 {
		p.log.Info(ctx, "delta window processed",
			zap.Int("records", len(records)),
			zap.Time("watermark", tickStart))
	}
	return len(records), nil
}

// docPageFor projects a validated record onto the doc-propagation
// surface. The doc-side id falls back to the record id when the record
// was never mirrored.
func docPageFor(rec buffer.ActionRecord) platform.DocPage {
	id := rec.Correlations.Notion
	if id == "" {
		id = rec.ID
	}
	page := platform.DocPage{
		ID:          id,
		Title:       rec.Description,
		Description: rec.Description,
	}
	if rec.LastValidatedAt != nil {
		page.LastEdited = *rec.LastValidatedAt
	}
	return page
}
