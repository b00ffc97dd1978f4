// Package resolve decides which platform wins when cross-platform
// state diverges. It is pure decision logic: resolution returns an
// intent for the orchestrator to execute and never touches a platform
// itself.
package resolve

import (
	"time"

	"github.com/trancendos/syncbridge/internal/buffer"
)

// Snapshot is the minimal view of an entity on one platform, as seen
// at validation time. For the tracker platform Status carries the
// workflow state type (backlog, started, completed, ...).
type Snapshot struct {
	Exists    bool
	Status    string
	Title     string
	UpdatedAt time.Time
}

// Snapshots groups the per-platform views of one logical entity.
type Snapshots struct {
	Source  Snapshot
	Tracker Snapshot
	Doc     Snapshot
}

// ConflictKind names one detected divergence.
type ConflictKind string

const (
	StatusMismatch     ConflictKind = "Status mismatch between GitHub and Linear"
	TitleMismatch      ConflictKind = "Title mismatch between platforms"
	SimultaneousUpdate ConflictKind = "Simultaneous updates detected"
)

// simultaneousWindow is the concurrent-write race heuristic: two
// updates closer together than this are flagged regardless of value
// equality. Exactly the window apart is not flagged.
const simultaneousWindow = 60 * time.Second

// PropagationKind is the mutation the orchestrator should perform on
// a losing platform.
type PropagationKind string

const (
	PropagateState   PropagationKind = "update-state"
	PropagateLabels  PropagationKind = "update-labels"
	PropagateContent PropagationKind = "update-content"
)

// PropagationAction is one intended mutation.
type PropagationAction struct {
	Target buffer.Platform
	Kind   PropagationKind
}

// Outcome is a resolution decision.
type Outcome struct {
	Winner  buffer.Platform
	Actions []PropagationAction
}

// Policy ranks platforms by descending authority per entity type.
// It is global configuration, never stored per record.
type Policy map[buffer.EntityType][]buffer.Platform

// DefaultPolicy encodes the standing priority: source control owns
// code truth, the tracker owns issue state, the documentation
// workspace owns pages and databases.
func DefaultPolicy() Policy {
	return Policy{
		buffer.EntityCommit:      {buffer.PlatformGitHub, buffer.PlatformLinear, buffer.PlatformNotion},
		buffer.EntityPullRequest: {buffer.PlatformGitHub, buffer.PlatformLinear, buffer.PlatformNotion},
		buffer.EntityIssue:       {buffer.PlatformLinear, buffer.PlatformGitHub, buffer.PlatformNotion},
		buffer.EntityPage:        {buffer.PlatformNotion, buffer.PlatformGitHub, buffer.PlatformLinear},
		buffer.EntityDatabase:    {buffer.PlatformNotion, buffer.PlatformGitHub, buffer.PlatformLinear},
	}
}

// Resolve picks the winning platform for an entity type and returns
// the mutations that would bring the losing platforms in line. The
// winner is the highest-authority platform that actually has the
// entity; losing platforms without the entity get no action.
func (p Policy) Resolve(entityType buffer.EntityType, snaps Snapshots) (Outcome, bool) {
	order, ok := p[entityType]
	if !ok {
		return Outcome{}, false
	}

	var winner buffer.Platform
	for _, platform := range order {
		if snapshotFor(snaps, platform).Exists {
			winner = platform
			break
		}
	}
	if winner == "" {
		return Outcome{}, false
	}

	outcome := Outcome{Winner: winner}
	for _, platform := range order {
		if platform == winner || !snapshotFor(snaps, platform).Exists {
			continue
		}
		outcome.Actions = append(outcome.Actions, PropagationAction{
			Target: platform,
			Kind:   propagationKind(platform),
		})
	}
	return outcome, true
}

// DetectConflictTypes reports divergences between the platform views.
// The doc snapshot is accepted for signature parity but takes no part
// in detection yet; documentation conflicts resolve by authority only.
func DetectConflictTypes(source, tracker, _ Snapshot) []ConflictKind {
	var conflicts []ConflictKind

	if source.Status != tracker.Status {
		conflicts = append(conflicts, StatusMismatch)
	}
	if source.Title != tracker.Title {
		conflicts = append(conflicts, TitleMismatch)
	}

	delta := source.UpdatedAt.Sub(tracker.UpdatedAt)
	if delta < 0 {
		delta = -delta
	}
	if delta < simultaneousWindow {
		conflicts = append(conflicts, SimultaneousUpdate)
	}

	return conflicts
}

func snapshotFor(snaps Snapshots, platform buffer.Platform) Snapshot {
	switch platform {
	case buffer.PlatformGitHub:
		return snaps.Source
	case buffer.PlatformLinear:
		return snaps.Tracker
	case buffer.PlatformNotion:
		return snaps.Doc
	}
	return Snapshot{}
}

// propagationKind maps a losing platform to the mutation that carries
// state onto it: tracker issues move workflow state, source issues
// carry status labels, documentation pages get content updates.
func propagationKind(target buffer.Platform) PropagationKind {
	switch target {
	case buffer.PlatformLinear:
		return PropagateState
	case buffer.PlatformGitHub:
		return PropagateLabels
	default:
		return PropagateContent
	}
}
