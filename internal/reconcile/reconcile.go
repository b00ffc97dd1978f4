// Package reconcile runs the periodic validation loop over the action
// buffer. Each cycle revisits every unresolved record, checks the
// correlated entities against their platforms, and moves the record
// through the Pending/Synced/Failed/Conflict state machine. No state
// is terminal; Failed and Conflict records are revisited every cycle.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trancendos/syncbridge/internal/buffer"
	"github.com/trancendos/syncbridge/internal/logging"
	"github.com/trancendos/syncbridge/internal/metrics"
	"github.com/trancendos/syncbridge/internal/platform"
	"github.com/trancendos/syncbridge/internal/resolve"
)

// conflictMismatch is the conflict reason recorded when the correlated
// entities disagree about existence.
const conflictMismatch = "Cross-platform mismatch detected"

// CycleResult summarizes one reconciliation cycle.
type CycleResult struct {
	Processed int           `json:"processed"`
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Conflicts int           `json:"conflicts"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"-"`
}

// Reconciler validates buffered records against the upstream platforms.
type Reconciler struct {
	store       buffer.Store
	source      platform.SourceClient
	tracker     platform.TrackerClient
	log         *logging.Logger
	metrics     *metrics.Metrics
	concurrency int

	// newBackoff builds the retry policy for one upstream call.
	// Swappable so tests do not sleep.
	newBackoff func() backoff.BackOff
}

// New creates a reconciler with the given record-level concurrency.
func New(store buffer.Store, source platform.SourceClient, tracker platform.TrackerClient, log *logging.Logger, m *metrics.Metrics, concurrency int) *Reconciler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reconciler{
		store:       store,
		source:      source,
		tracker:     tracker,
		log:         log.Named("reconcile"),
		metrics:     m,
		concurrency: concurrency,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			return backoff.WithMaxRetries(b, 2)
		},
	}
}

// outcome is the reconciler's verdict on one record.
type outcome struct {
	status    buffer.SyncStatus
	validated bool
	errorLog  string
	// skip means the record is left untouched entirely.
	skip bool
}

// RunCycle validates every unresolved record once. Record-level
// failures become Failed records, never a cycle error; the returned
// error covers only buffer access.
func (r *Reconciler) RunCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()

	records, err := r.store.Query(ctx, buffer.Filter{Unresolved: true})
	if err != nil {
		return CycleResult{}, fmt.Errorf("querying unresolved records: %w", err)
	}

	var (
		mu     sync.Mutex
		result CycleResult
	)
	result.Processed = len(records)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			out := r.validateRecord(gctx, rec)

			mu.Lock()
			switch {
			case out.skip:
				result.Skipped++
			case out.status == buffer.StatusSynced:
				result.Synced++
			case out.status == buffer.StatusFailed:
				result.Failed++
			case out.status == buffer.StatusConflict:
				result.Conflicts++
			}
			mu.Unlock()

			if out.skip {
				r.metrics.RecordsValidatedTotal.WithLabelValues("skipped").Inc()
				return nil
			}
			r.metrics.RecordsValidatedTotal.WithLabelValues(strings.ToLower(string(out.status))).Inc()
			if err := r.store.UpdateStatus(gctx, rec.ID, out.status, out.validated, out.errorLog); err != nil {
				return fmt.Errorf("updating record %s: %w", rec.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	r.metrics.ReconcileCyclesTotal.Inc()
	r.metrics.ReconcileCycleDuration.Observe(result.Duration.Seconds())
	r.log.Info(ctx, "reconciliation cycle complete",
		zap.Int("processed", result.Processed),
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed),
		zap.Int("conflicts", result.Conflicts),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// validateRecord applies the four-case algorithm. A panic in platform
// code marks the record Failed rather than killing the cycle.
func (r *Reconciler) validateRecord(ctx context.Context, rec buffer.ActionRecord) (out outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error(ctx, "panic validating record",
				zap.String("record", rec.ID), zap.Any("panic", p))
			out = outcome{status: buffer.StatusFailed, errorLog: fmt.Sprintf("validation panic: %v", p)}
		}
	}()

	sourceID := rec.Correlations.GitHub
	trackerID := rec.Correlations.Linear

	switch {
	case sourceID != "" && trackerID != "":
		return r.validateBoth(ctx, sourceID, trackerID)
	case sourceID != "":
		return r.validateSingle(ctx, "GitHub", func() (bool, error) {
			return r.validateSource(ctx, sourceID)
		})
	case trackerID != "":
		return r.validateSingle(ctx, "Linear", func() (bool, error) {
			return r.validateTracker(ctx, trackerID)
		})
	default:
		// Nothing to validate against. The record stays Pending until a
		// correlated observation arrives.
		return outcome{skip: true}
	}
}

func (r *Reconciler) validateBoth(ctx context.Context, sourceID, trackerID string) outcome {
	sourceOK, sourceErr := r.validateSource(ctx, sourceID)
	trackerOK, trackerErr := r.validateTracker(ctx, trackerID)

	// An unresolvable id on one side falls back to single-platform
	// validation on the other.
	if errors.Is(sourceErr, platform.ErrNotImplemented) && trackerErr == nil {
		out := r.singleOutcome("Linear", trackerOK)
		if out.status == buffer.StatusSynced {
			out.errorLog = fmt.Sprintf("GitHub id not resolvable: %v", sourceErr)
		}
		return out
	}
	if errors.Is(trackerErr, platform.ErrNotImplemented) && sourceErr == nil {
		out := r.singleOutcome("GitHub", sourceOK)
		if out.status == buffer.StatusSynced {
			out.errorLog = fmt.Sprintf("Linear id not resolvable: %v", trackerErr)
		}
		return out
	}

	if sourceErr != nil || trackerErr != nil {
		return outcome{
			status:   buffer.StatusFailed,
			errorLog: errors.Join(sourceErr, trackerErr).Error(),
		}
	}

	// Any invalid side is a cross-platform mismatch, including both
	// sides invalid: the record claims entities that cannot be
	// confirmed anywhere, which is a correlation conflict, not an
	// upstream failure.
	if sourceOK && trackerOK {
		return outcome{status: buffer.StatusSynced, validated: true}
	}
	return outcome{status: buffer.StatusConflict, errorLog: conflictMismatch}
}

func (r *Reconciler) validateSingle(ctx context.Context, platformName string, check func() (bool, error)) outcome {
	ok, err := check()
	if errors.Is(err, platform.ErrNotImplemented) {
		// Explicitly unresolvable: the record stays Pending with the
		// reason on it, rather than flapping to Failed every cycle.
		return outcome{
			status:   buffer.StatusPending,
			errorLog: fmt.Sprintf("cannot validate on %s: %v", platformName, err),
		}
	}
	if err != nil {
		return outcome{status: buffer.StatusFailed, errorLog: err.Error()}
	}
	return r.singleOutcome(platformName, ok)
}

func (r *Reconciler) singleOutcome(platformName string, exists bool) outcome {
	if exists {
		return outcome{status: buffer.StatusSynced, validated: true}
	}
	return outcome{
		status:   buffer.StatusFailed,
		errorLog: fmt.Sprintf("entity not found on %s", platformName),
	}
}

// validateSource checks existence on the source platform with retries
// on transient failures. ErrNotFound and ErrNotImplemented are never
// retried.
func (r *Reconciler) validateSource(ctx context.Context, entityID string) (bool, error) {
	var exists bool
	err := backoff.Retry(func() error {
		var err error
		exists, err = r.source.ValidateEntity(ctx, entityID)
		if errors.Is(err, platform.ErrNotFound) || errors.Is(err, platform.ErrNotImplemented) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(r.newBackoff(), ctx))
	return exists, err
}

// validateTracker checks existence on the tracker platform by its
// native id.
func (r *Reconciler) validateTracker(ctx context.Context, issueID string) (bool, error) {
	var exists bool
	err := backoff.Retry(func() error {
		_, err := r.tracker.GetIssue(ctx, issueID)
		if errors.Is(err, platform.ErrNotFound) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	}, backoff.WithContext(r.newBackoff(), ctx))
	return exists, err
}

// SyncEntity is the manual sync path behind POST /api/sync. It logs a
// Sync-typed record for the entity and returns the record id; the
// remote mutation itself is an extension point, reported as
// ErrNotImplemented so callers can surface "recorded, not yet synced".
func (r *Reconciler) SyncEntity(ctx context.Context, entityID string, entityType buffer.EntityType) (string, error) {
	id, err := r.store.Append(ctx, buffer.Input{
		Platform:    authorityPlatform(entityType),
		ActionType:  buffer.ActionSync,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: fmt.Sprintf("Manual sync requested for %s %s", entityType, entityID),
		ObservedAt:  time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("recording sync request: %w", err)
	}
	r.metrics.RecordsAppendedTotal.WithLabelValues(string(authorityPlatform(entityType)), string(entityType)).Inc()
	return id, fmt.Errorf("remote sync of %s %s: %w", entityType, entityID, platform.ErrNotImplemented)
}

// Stats reports buffer aggregates for the status endpoint.
func (r *Reconciler) Stats(ctx context.Context) (buffer.Stats, error) {
	return r.store.Stats(ctx)
}

// authorityPlatform attributes a manual sync record to the platform
// that owns the entity type's truth.
func authorityPlatform(entityType buffer.EntityType) buffer.Platform {
	if order, ok := resolve.DefaultPolicy()[entityType]; ok && len(order) > 0 {
		return order[0]
	}
	return buffer.PlatformGitHub
}
