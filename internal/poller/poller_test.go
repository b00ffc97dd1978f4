package poller

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trancendos/syncbridge/internal/buffer"
	"github.com/trancendos/syncbridge/internal/logging"
	"github.com/trancendos/syncbridge/internal/metrics"
	"github.com/trancendos/syncbridge/internal/platform"
)

type recordingPropagator struct {
	mu    sync.Mutex
	pages []platform.DocPage
	err   error
}

func (r *recordingPropagator) PropagateFromDoc(_ context.Context, page platform.DocPage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = append(r.pages, page)
	return r.err
}

func openTestStore(t *testing.T) buffer.Store {
	t.Helper()
	store, err := buffer.OpenSQLite(filepath.Join(t.TempDir(), "buffer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func appendValidated(t *testing.T, store buffer.Store) string {
	t.Helper()
	id, err := store.Append(context.Background(), buffer.Input{
		Platform:    buffer.PlatformGitHub,
		ActionType:  buffer.ActionUpdate,
		EntityType:  buffer.EntityIssue,
		EntityID:    "#1",
		Description: "Issue edited",
		ObservedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(context.Background(), id, buffer.StatusSynced, true, ""))
	return id
}

func newTestPoller(store buffer.Store, prop DocPropagator) *Poller {
	return New(store, prop, logging.NewNop(), metrics.New(), time.Minute)
}

func TestWatermarkStartsBehindNow(t *testing.T) {
	p := newTestPoller(openTestStore(t), &recordingPropagator{})
	age := time.Since(p.Watermark())
	assert.Greater(t, age, 4*time.Minute)
	assert.Less(t, age, 6*time.Minute)
}

func TestTickPicksUpNewlyValidatedRecords(t *testing.T) {
	store := openTestStore(t)
	prop := &recordingPropagator{}
	p := newTestPoller(store, prop)

	appendValidated(t, store)

	n, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, prop.pages, 1)
	assert.Equal(t, "Issue edited", prop.pages[0].Title)
}

func TestTickAdvancesWatermarkMonotonically(t *testing.T) {
	store := openTestStore(t)
	p := newTestPoller(store, &recordingPropagator{})

	first := p.Watermark()
	_, err := p.Tick(context.Background())
	require.NoError(t, err)
	second := p.Watermark()
	assert.True(t, second.After(first))

	_, err = p.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, p.Watermark().Before(second))
}

func TestRecordIsNotReprocessedAfterWatermarkAdvance(t *testing.T) {
	store := openTestStore(t)
	prop := &recordingPropagator{}
	p := newTestPoller(store, prop)

	appendValidated(t, store)

	n, err := p.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Nothing newly validated since the last tick.
	n, err = p.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, prop.pages, 1)
}

func TestPropagationFailureDoesNotStallTheTick(t *testing.T) {
	store := openTestStore(t)
	prop := &recordingPropagator{err: platform.ErrNotImplemented}
	p := newTestPoller(store, prop)

	appendValidated(t, store)
	appendValidated(t, store)

	n, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, prop.pages, 2)

	before := p.Watermark()
	_, err = p.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, p.Watermark().Before(before))
}

func TestQueryFailureLeavesWatermark(t *testing.T) {
	store := openTestStore(t)
	p := newTestPoller(store, &recordingPropagator{})

	require.NoError(t, store.Close())
	before := p.Watermark()

	_, err := p.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, before, p.Watermark())
}

func TestRunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	p := New(store, &recordingPropagator{}, logging.NewNop(), metrics.New(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
