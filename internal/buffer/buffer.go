// Package buffer implements the append-only cross-platform action log.
//
// The buffer is a log, not a snapshot: one logical change observed on
// several platforms produces several records, correlated through their
// per-platform ids and never merged. Records are never deleted.
// Ingestion always writes Pending/unvalidated; only the reconciliation
// path moves a record's status.
package buffer

import (
	"context"
	"time"
)

// Platform identifies which system emitted an event.
type Platform string

const (
	PlatformGitHub Platform = "GitHub"
	PlatformLinear Platform = "Linear"
	PlatformNotion Platform = "Notion"
)

// ActionType classifies what happened to the entity.
type ActionType string

const (
	ActionCreate ActionType = "Create"
	ActionUpdate ActionType = "Update"
	ActionDelete ActionType = "Delete"
	ActionSync   ActionType = "Sync"
)

// EntityType classifies the entity an event refers to.
type EntityType string

const (
	EntityIssue       EntityType = "Issue"
	EntityPullRequest EntityType = "PullRequest"
	EntityPage        EntityType = "Page"
	EntityDatabase    EntityType = "Database"
	EntityCommit      EntityType = "Commit"
)

// SyncStatus is the per-record state machine position.
//
// Pending -> Synced | Failed | Conflict. Failed and Conflict are not
// terminal: the reconciler revisits them every cycle until they
// converge or are cleared by hand.
type SyncStatus string

const (
	StatusPending  SyncStatus = "Pending"
	StatusSynced   SyncStatus = "Synced"
	StatusFailed   SyncStatus = "Failed"
	StatusConflict SyncStatus = "Conflict"
)

// CorrelationIDs link one logical change across the three platforms.
// Any subset may be set.
type CorrelationIDs struct {
	GitHub string `json:"github,omitempty"`
	Linear string `json:"linear,omitempty"`
	Notion string `json:"notion,omitempty"`
}

// ActionRecord is one logged observation of a platform event.
type ActionRecord struct {
	ID              string         `json:"id"`
	Platform        Platform       `json:"platform"`
	ActionType      ActionType     `json:"actionType"`
	EntityType      EntityType     `json:"entityType"`
	EntityID        string         `json:"entityId"`
	Description     string         `json:"description"`
	Correlations    CorrelationIDs `json:"correlationIds"`
	ObservedAt      time.Time      `json:"observedAt"`
	SyncStatus      SyncStatus     `json:"syncStatus"`
	Validated       bool           `json:"validated"`
	ErrorLog        string         `json:"errorLog,omitempty"`
	LastValidatedAt *time.Time     `json:"lastValidatedAt,omitempty"`
}

// Input is the append-side subset of an ActionRecord. The store
// assigns the id and forces SyncStatus=Pending, Validated=false.
type Input struct {
	Platform     Platform
	ActionType   ActionType
	EntityType   EntityType
	EntityID     string
	Description  string
	Correlations CorrelationIDs
	ObservedAt   time.Time
}

// Filter selects records from the buffer. The zero value matches all.
type Filter struct {
	// Unresolved selects records with validated=false OR status=Pending.
	Unresolved bool
	// ValidatedAfter selects records whose lastValidatedAt is after T.
	ValidatedAfter *time.Time
	Platform       Platform
	SyncStatus     SyncStatus
}

// Stats summarizes the buffer for the status endpoint.
type Stats struct {
	Total          int        `json:"total"`
	Pending        int        `json:"pending"`
	Synced         int        `json:"synced"`
	Failed         int        `json:"failed"`
	Conflicts      int        `json:"conflicts"`
	Validated      int        `json:"validated"`
	LastValidation *time.Time `json:"lastValidation,omitempty"`
}

// TallyStats computes aggregate counts over a record set. Used by
// stores without server-side aggregation.
func TallyStats(records []ActionRecord) Stats {
	st := Stats{Total: len(records)}
	for i := range records {
		switch records[i].SyncStatus {
		case StatusPending:
			st.Pending++
		case StatusSynced:
			st.Synced++
		case StatusFailed:
			st.Failed++
		case StatusConflict:
			st.Conflicts++
		}
		if records[i].Validated {
			st.Validated++
		}
		if t := records[i].LastValidatedAt; t != nil {
			if st.LastValidation == nil || t.After(*st.LastValidation) {
				st.LastValidation = t
			}
		}
	}
	return st
}

// Store is the durable action buffer. Implementations must make every
// successful Append and UpdateStatus durable before returning and must
// tolerate concurrent appends.
type Store interface {
	// Append inserts a record and returns its assigned id. Repeated
	// identical inputs each produce a new record; idempotency is the
	// caller's concern via correlation, not the buffer's.
	Append(ctx context.Context, in Input) (string, error)

	// UpdateStatus overwrites the four mutable fields and stamps
	// lastValidatedAt with the current time.
	UpdateStatus(ctx context.Context, id string, status SyncStatus, validated bool, errorLog string) error

	// Query returns records matching the filter, oldest first.
	Query(ctx context.Context, f Filter) ([]ActionRecord, error)

	// Stats returns aggregate counts.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}
