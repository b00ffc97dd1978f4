// Package platform holds the thin clients for the three upstream
// systems and the narrow interfaces the core consumes them through.
//
// The core never sees raw API payloads; each client maps its
// platform's responses into the small snapshot structs below. Upstream
// failures are ordinary errors for the caller to convert into buffer
// state, never fatal to the process.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/trancendos/syncbridge/internal/buffer"
)

var (
	// ErrNotFound means the platform has no entity with that id.
	ErrNotFound = errors.New("platform: entity not found")

	// ErrNotImplemented marks an explicit extension point. Callers can
	// distinguish "not wired up" from "validated true".
	ErrNotImplemented = errors.New("platform: not implemented")
)

// SourceIssue is a snapshot of an issue on the source platform.
type SourceIssue struct {
	Number    int
	Title     string
	Body      string
	State     string
	URL       string
	UpdatedAt time.Time
}

// SourcePull is a snapshot of a pull request on the source platform.
type SourcePull struct {
	Number    int
	Title     string
	Body      string
	State     string
	Merged    bool
	URL       string
	UpdatedAt time.Time
}

// SourceCommit is a snapshot of a commit on the source platform.
type SourceCommit struct {
	SHA     string
	Message string
	URL     string
}

// SourceClient is the source-control platform collaborator.
type SourceClient interface {
	GetIssue(ctx context.Context, repo string, number int) (*SourceIssue, error)
	GetPullRequest(ctx context.Context, repo string, number int) (*SourcePull, error)
	UpdateLabels(ctx context.Context, repo string, number int, labels []string) error
	CreateComment(ctx context.Context, repo string, number int, body string) error
	GetCommit(ctx context.Context, repo, sha string) (*SourceCommit, error)

	// ValidateEntity checks that the entity behind a correlation id
	// still exists. Ids without a repo qualifier cannot be resolved and
	// return ErrNotImplemented.
	ValidateEntity(ctx context.Context, entityID string) (bool, error)
}

// TrackerState is one workflow state of a tracker team.
type TrackerState struct {
	ID   string
	Name string
	Type string
}

// TrackerIssue is a snapshot of a tracker issue.
type TrackerIssue struct {
	ID          string
	Identifier  string
	Title       string
	Description string
	URL         string
	TeamID      string
	State       TrackerState
	UpdatedAt   time.Time
}

// TrackerClient is the issue-tracker platform collaborator.
type TrackerClient interface {
	GetIssue(ctx context.Context, id string) (*TrackerIssue, error)
	GetIssueByIdentifier(ctx context.Context, identifier string) (*TrackerIssue, error)
	CreateComment(ctx context.Context, issueID, body string) error
	UpdateState(ctx context.Context, issueID, stateID string) error
	GetTeamStates(ctx context.Context, teamID string) ([]TrackerState, error)
}

// DocPage identifies a documentation page for doc-originated
// propagation.
type DocPage struct {
	ID          string
	Title       string
	LastEdited  time.Time
	Description string
}

// DocClient is the documentation platform collaborator. Its operations
// are the action-log dashboard: the documentation workspace is where
// the audit trail is published.
type DocClient interface {
	CreateLogEntry(ctx context.Context, in buffer.Input) (string, error)
	UpdateLogEntryStatus(ctx context.Context, id string, status buffer.SyncStatus, validated bool, errorLog string) error
	QueryLogEntries(ctx context.Context, f buffer.Filter) ([]buffer.ActionRecord, error)
}
