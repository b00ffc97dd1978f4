package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trancendos/syncbridge/internal/buffer"
	"github.com/trancendos/syncbridge/internal/logging"
	"github.com/trancendos/syncbridge/internal/metrics"
	"github.com/trancendos/syncbridge/internal/platform"
)

type sourceResult struct {
	ok  bool
	err error
}

type fakeSource struct {
	results map[string]sourceResult
	panicOn string
}

func (f *fakeSource) ValidateEntity(_ context.Context, id string) (bool, error) {
	if f.panicOn != "" && id == f.panicOn {
		panic("validator exploded")
	}
	if res, ok := f.results[id]; ok {
		return res.ok, res.err
	}
	return false, fmt.Errorf("%w: cannot resolve entity id %q without a repo qualifier", platform.ErrNotImplemented, id)
}

func (f *fakeSource) GetIssue(context.Context, string, int) (*platform.SourceIssue, error) {
	return nil, platform.ErrNotFound
}

func (f *fakeSource) GetPullRequest(context.Context, string, int) (*platform.SourcePull, error) {
	return nil, platform.ErrNotFound
}

func (f *fakeSource) UpdateLabels(context.Context, string, int, []string) error { return nil }

func (f *fakeSource) CreateComment(context.Context, string, int, string) error { return nil }

func (f *fakeSource) GetCommit(context.Context, string, string) (*platform.SourceCommit, error) {
	return nil, platform.ErrNotFound
}

type fakeTracker struct {
	issues map[string]*platform.TrackerIssue
	errOn  map[string]error
}

func (f *fakeTracker) GetIssue(_ context.Context, id string) (*platform.TrackerIssue, error) {
	if err, ok := f.errOn[id]; ok {
		return nil, err
	}
	if issue, ok := f.issues[id]; ok {
		return issue, nil
	}
	return nil, platform.ErrNotFound
}

func (f *fakeTracker) GetIssueByIdentifier(context.Context, string) (*platform.TrackerIssue, error) {
	return nil, platform.ErrNotFound
}

func (f *fakeTracker) CreateComment(context.Context, string, string) error { return nil }

func (f *fakeTracker) UpdateState(context.Context, string, string) error { return nil }

func (f *fakeTracker) GetTeamStates(context.Context, string) ([]platform.TrackerState, error) {
	return nil, nil
}

func openTestStore(t *testing.T) buffer.Store {
	t.Helper()
	store, err := buffer.OpenSQLite(filepath.Join(t.TempDir(), "buffer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestReconciler(store buffer.Store, source *fakeSource, tracker *fakeTracker) *Reconciler {
	r := New(store, source, tracker, logging.NewNop(), metrics.New(), 4)
	r.newBackoff = func() backoff.BackOff { return &backoff.StopBackOff{} }
	return r
}

func appendRecord(t *testing.T, store buffer.Store, corr buffer.CorrelationIDs) string {
	t.Helper()
	id, err := store.Append(context.Background(), buffer.Input{
		Platform:     buffer.PlatformGitHub,
		ActionType:   buffer.ActionUpdate,
		EntityType:   buffer.EntityPullRequest,
		EntityID:     "#7",
		Description:  "PR closed: test",
		Correlations: corr,
		ObservedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	return id
}

func recordByID(t *testing.T, store buffer.Store, id string) buffer.ActionRecord {
	t.Helper()
	records, err := store.Query(context.Background(), buffer.Filter{})
	require.NoError(t, err)
	for _, rec := range records {
		if rec.ID == id {
			return rec
		}
	}
	t.Fatalf("record %s not found", id)
	return buffer.ActionRecord{}
}

func TestRunCycleBothPlatformsValid(t *testing.T) {
	store := openTestStore(t)
	source := &fakeSource{results: map[string]sourceResult{"acme/widgets#7": {ok: true}}}
	tracker := &fakeTracker{issues: map[string]*platform.TrackerIssue{"uuid-1": {ID: "uuid-1"}}}
	r := newTestReconciler(store, source, tracker)

	id := appendRecord(t, store, buffer.CorrelationIDs{GitHub: "acme/widgets#7", Linear: "uuid-1"})

	result, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Synced)

	rec := recordByID(t, store, id)
	assert.Equal(t, buffer.StatusSynced, rec.SyncStatus)
	assert.True(t, rec.Validated)
	assert.Empty(t, rec.ErrorLog)
	require.NotNil(t, rec.LastValidatedAt)
}

func TestRunCycleMismatchIsConflict(t *testing.T) {
	store := openTestStore(t)
	source := &fakeSource{results: map[string]sourceResult{"acme/widgets#7": {ok: true}}}
	tracker := &fakeTracker{} // linear entity gone
	r := newTestReconciler(store, source, tracker)

	id := appendRecord(t, store, buffer.CorrelationIDs{GitHub: "acme/widgets#7", Linear: "uuid-gone"})

	result, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)

	rec := recordByID(t, store, id)
	assert.Equal(t, buffer.StatusConflict, rec.SyncStatus)
	assert.False(t, rec.Validated)
	assert.Equal(t, "Cross-platform mismatch detected", rec.ErrorLog)
}

func TestRunCycleMissingOnBothIsConflict(t *testing.T) {
	store := openTestStore(t)
	// Both ids resolve but neither entity can be confirmed; that is a
	// mismatch like any other invalid side, not a Failed record.
	source := &fakeSource{results: map[string]sourceResult{"acme/widgets#7": {ok: false}}}
	tracker := &fakeTracker{}
	r := newTestReconciler(store, source, tracker)

	id := appendRecord(t, store, buffer.CorrelationIDs{GitHub: "acme/widgets#7", Linear: "uuid-gone"})

	result, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)

	rec := recordByID(t, store, id)
	assert.Equal(t, buffer.StatusConflict, rec.SyncStatus)
	assert.False(t, rec.Validated)
	assert.Equal(t, "Cross-platform mismatch detected", rec.ErrorLog)
}

func TestRunCycleSingleID(t *testing.T) {
	tests := []struct {
		name       string
		corr       buffer.CorrelationIDs
		tracker    *fakeTracker
		wantStatus buffer.SyncStatus
	}{
		{
			name:       "tracker entity exists",
			corr:       buffer.CorrelationIDs{Linear: "uuid-1"},
			tracker:    &fakeTracker{issues: map[string]*platform.TrackerIssue{"uuid-1": {ID: "uuid-1"}}},
			wantStatus: buffer.StatusSynced,
		},
		{
			name:       "tracker entity missing",
			corr:       buffer.CorrelationIDs{Linear: "uuid-gone"},
			tracker:    &fakeTracker{},
			wantStatus: buffer.StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openTestStore(t)
			r := newTestReconciler(store, &fakeSource{}, tt.tracker)
			id := appendRecord(t, store, tt.corr)

			_, err := r.RunCycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, recordByID(t, store, id).SyncStatus)
		})
	}
}

func TestRunCycleNoCorrelationsStaysUntouched(t *testing.T) {
	store := openTestStore(t)
	r := newTestReconciler(store, &fakeSource{}, &fakeTracker{})

	id := appendRecord(t, store, buffer.CorrelationIDs{})

	result, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)

	rec := recordByID(t, store, id)
	assert.Equal(t, buffer.StatusPending, rec.SyncStatus)
	assert.Nil(t, rec.LastValidatedAt)
}

func TestRunCycleUnresolvableIDStaysPendingWithReason(t *testing.T) {
	store := openTestStore(t)
	// Bare "#42" has no repo qualifier; the fake mirrors the real
	// client and reports it unresolvable.
	r := newTestReconciler(store, &fakeSource{}, &fakeTracker{})

	id := appendRecord(t, store, buffer.CorrelationIDs{GitHub: "#42"})

	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)

	rec := recordByID(t, store, id)
	assert.Equal(t, buffer.StatusPending, rec.SyncStatus)
	assert.False(t, rec.Validated)
	assert.Contains(t, rec.ErrorLog, "cannot validate on GitHub")
}

func TestRunCycleUnresolvableSourceFallsBackToTracker(t *testing.T) {
	store := openTestStore(t)
	tracker := &fakeTracker{issues: map[string]*platform.TrackerIssue{"uuid-1": {ID: "uuid-1"}}}
	r := newTestReconciler(store, &fakeSource{}, tracker)

	id := appendRecord(t, store, buffer.CorrelationIDs{GitHub: "#42", Linear: "uuid-1"})

	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)

	rec := recordByID(t, store, id)
	assert.Equal(t, buffer.StatusSynced, rec.SyncStatus)
	assert.True(t, rec.Validated)
	assert.Contains(t, rec.ErrorLog, "GitHub id not resolvable")
}

func TestRunCyclePanicBecomesFailed(t *testing.T) {
	store := openTestStore(t)
	source := &fakeSource{panicOn: "acme/widgets#666"}
	r := newTestReconciler(store, source, &fakeTracker{})

	bad := appendRecord(t, store, buffer.CorrelationIDs{GitHub: "acme/widgets#666"})
	source.results = map[string]sourceResult{"acme/widgets#1": {ok: true}}
	good := appendRecord(t, store, buffer.CorrelationIDs{GitHub: "acme/widgets#1"})

	result, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)

	assert.Equal(t, buffer.StatusFailed, recordByID(t, store, bad).SyncStatus)
	assert.Contains(t, recordByID(t, store, bad).ErrorLog, "panic")
	assert.Equal(t, buffer.StatusSynced, recordByID(t, store, good).SyncStatus)
}

func TestRunCycleUpstreamErrorBecomesFailed(t *testing.T) {
	store := openTestStore(t)
	tracker := &fakeTracker{errOn: map[string]error{"uuid-1": errors.New("upstream 500")}}
	r := newTestReconciler(store, &fakeSource{}, tracker)

	id := appendRecord(t, store, buffer.CorrelationIDs{Linear: "uuid-1"})

	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)

	rec := recordByID(t, store, id)
	assert.Equal(t, buffer.StatusFailed, rec.SyncStatus)
	assert.Contains(t, rec.ErrorLog, "upstream 500")
}

func TestFailedRecordsAreRevisited(t *testing.T) {
	store := openTestStore(t)
	tracker := &fakeTracker{}
	r := newTestReconciler(store, &fakeSource{}, tracker)

	id := appendRecord(t, store, buffer.CorrelationIDs{Linear: "uuid-1"})

	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, buffer.StatusFailed, recordByID(t, store, id).SyncStatus)

	// The entity appears; the next cycle converges the record.
	tracker.issues = map[string]*platform.TrackerIssue{"uuid-1": {ID: "uuid-1"}}

	_, err = r.RunCycle(context.Background())
	require.NoError(t, err)

	rec := recordByID(t, store, id)
	assert.Equal(t, buffer.StatusSynced, rec.SyncStatus)
	assert.True(t, rec.Validated)
	assert.Empty(t, rec.ErrorLog)
}

func TestSyncEntityRecordsAndReportsExtensionPoint(t *testing.T) {
	store := openTestStore(t)
	r := newTestReconciler(store, &fakeSource{}, &fakeTracker{})

	id, err := r.SyncEntity(context.Background(), "TRA-49", buffer.EntityIssue)
	require.ErrorIs(t, err, platform.ErrNotImplemented)
	require.NotEmpty(t, id)

	rec := recordByID(t, store, id)
	assert.Equal(t, buffer.ActionSync, rec.ActionType)
	assert.Equal(t, buffer.PlatformLinear, rec.Platform)
	assert.Equal(t, "TRA-49", rec.EntityID)
	assert.Equal(t, buffer.StatusPending, rec.SyncStatus)
}

func TestStatsDelegatesToBuffer(t *testing.T) {
	store := openTestStore(t)
	r := newTestReconciler(store, &fakeSource{}, &fakeTracker{})

	appendRecord(t, store, buffer.CorrelationIDs{})

	stats, err := r.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Pending)
}
