package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trancendos/syncbridge/internal/buffer"
)

func TestResolveAuthorityOrder(t *testing.T) {
	policy := DefaultPolicy()
	all := Snapshots{
		Source:  Snapshot{Exists: true},
		Tracker: Snapshot{Exists: true},
		Doc:     Snapshot{Exists: true},
	}

	tests := []struct {
		entityType buffer.EntityType
		wantWinner buffer.Platform
	}{
		{buffer.EntityCommit, buffer.PlatformGitHub},
		{buffer.EntityPullRequest, buffer.PlatformGitHub},
		{buffer.EntityIssue, buffer.PlatformLinear},
		{buffer.EntityPage, buffer.PlatformNotion},
		{buffer.EntityDatabase, buffer.PlatformNotion},
	}

	for _, tt := range tests {
		t.Run(string(tt.entityType), func(t *testing.T) {
			outcome, ok := policy.Resolve(tt.entityType, all)
			require.True(t, ok)
			assert.Equal(t, tt.wantWinner, outcome.Winner)
			assert.Len(t, outcome.Actions, 2)
			for _, action := range outcome.Actions {
				assert.NotEqual(t, outcome.Winner, action.Target)
			}
		})
	}
}

func TestResolveSkipsAbsentPlatforms(t *testing.T) {
	policy := DefaultPolicy()

	// The tracker does not have the PR; GitHub still wins, and the only
	// action targets the doc platform.
	outcome, ok := policy.Resolve(buffer.EntityPullRequest, Snapshots{
		Source: Snapshot{Exists: true},
		Doc:    Snapshot{Exists: true},
	})
	require.True(t, ok)
	assert.Equal(t, buffer.PlatformGitHub, outcome.Winner)
	require.Len(t, outcome.Actions, 1)
	assert.Equal(t, buffer.PlatformNotion, outcome.Actions[0].Target)
	assert.Equal(t, PropagateContent, outcome.Actions[0].Kind)
}

func TestResolveFallsBackWhenAuthorityAbsent(t *testing.T) {
	policy := DefaultPolicy()

	// Issue authority is the tracker, but only GitHub has the entity.
	outcome, ok := policy.Resolve(buffer.EntityIssue, Snapshots{
		Source: Snapshot{Exists: true},
	})
	require.True(t, ok)
	assert.Equal(t, buffer.PlatformGitHub, outcome.Winner)
	assert.Empty(t, outcome.Actions)
}

func TestResolveNoSnapshots(t *testing.T) {
	policy := DefaultPolicy()
	_, ok := policy.Resolve(buffer.EntityIssue, Snapshots{})
	assert.False(t, ok)
}

func TestResolveUnknownEntityType(t *testing.T) {
	policy := DefaultPolicy()
	_, ok := policy.Resolve(buffer.EntityType("Widget"), Snapshots{
		Source: Snapshot{Exists: true},
	})
	assert.False(t, ok)
}

func TestDetectConflictTypes(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		source  Snapshot
		tracker Snapshot
		want    []ConflictKind
	}{
		{
			name:    "identical and far apart in time",
			source:  Snapshot{Status: "open", Title: "T", UpdatedAt: base},
			tracker: Snapshot{Status: "open", Title: "T", UpdatedAt: base.Add(time.Hour)},
			want:    nil,
		},
		{
			name:    "status mismatch",
			source:  Snapshot{Status: "closed", Title: "T", UpdatedAt: base},
			tracker: Snapshot{Status: "started", Title: "T", UpdatedAt: base.Add(time.Hour)},
			want:    []ConflictKind{StatusMismatch},
		},
		{
			name:    "title mismatch",
			source:  Snapshot{Status: "open", Title: "A", UpdatedAt: base},
			tracker: Snapshot{Status: "open", Title: "B", UpdatedAt: base.Add(time.Hour)},
			want:    []ConflictKind{TitleMismatch},
		},
		{
			name:    "simultaneous update just inside the window",
			source:  Snapshot{Status: "open", Title: "T", UpdatedAt: base},
			tracker: Snapshot{Status: "open", Title: "T", UpdatedAt: base.Add(59999 * time.Millisecond)},
			want:    []ConflictKind{SimultaneousUpdate},
		},
		{
			name:    "exactly sixty seconds apart is not simultaneous",
			source:  Snapshot{Status: "open", Title: "T", UpdatedAt: base},
			tracker: Snapshot{Status: "open", Title: "T", UpdatedAt: base.Add(60 * time.Second)},
			want:    nil,
		},
		{
			name:    "window is symmetric",
			source:  Snapshot{Status: "open", Title: "T", UpdatedAt: base.Add(30 * time.Second)},
			tracker: Snapshot{Status: "open", Title: "T", UpdatedAt: base},
			want:    []ConflictKind{SimultaneousUpdate},
		},
		{
			name:    "everything diverges",
			source:  Snapshot{Status: "closed", Title: "A", UpdatedAt: base},
			tracker: Snapshot{Status: "started", Title: "B", UpdatedAt: base.Add(time.Second)},
			want:    []ConflictKind{StatusMismatch, TitleMismatch, SimultaneousUpdate},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectConflictTypes(tt.source, tt.tracker, Snapshot{})
			assert.Equal(t, tt.want, got)
		})
	}
}
