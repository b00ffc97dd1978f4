// Package classify turns decoded platform events into action-buffer
// inputs. Classification is pure: no I/O, no clock, independently
// testable without HTTP plumbing.
//
// Events are tagged variants decoded once at the webhook boundary; the
// rest of the pipeline never touches untyped payload maps.
package classify

import (
	"fmt"
	"time"

	"github.com/trancendos/syncbridge/internal/buffer"
)

// SourceEvent is a decoded source-platform webhook event.
type SourceEvent interface {
	sourceEvent()
}

// Commit is one commit in a push event.
type Commit struct {
	SHA     string
	Message string
}

// PushEvent is a push to a source-platform repository.
type PushEvent struct {
	Repo    string // "owner/repo"
	Ref     string
	HeadSHA string
	Commits []Commit
}

// IssueEvent is an issue lifecycle event.
type IssueEvent struct {
	Repo   string
	Action string
	Number int
	Title  string
	Body   string
	URL    string
}

// PullRequestEvent is a pull request lifecycle event.
type PullRequestEvent struct {
	Repo   string
	Action string
	Number int
	Title  string
	Body   string
	URL    string
	Merged bool
}

func (PushEvent) sourceEvent()        {}
func (IssueEvent) sourceEvent()       {}
func (PullRequestEvent) sourceEvent() {}

// TrackerEvent is a decoded tracker-platform webhook event.
type TrackerEvent struct {
	// Type names the entity kind the tracker reports, e.g. "Issue".
	Type   string
	Action string // create, update, remove
	Data   TrackerEventData
}

// TrackerEventData is the entity payload of a tracker event.
type TrackerEventData struct {
	ID          string
	Identifier  string
	Title       string
	Name        string
	Description string
	URL         string
	StateName   string
	StateType   string
}

// ClassifySource maps a source event to a buffer input. ok is false
// for event kinds the buffer does not log.
func ClassifySource(ev SourceEvent, observedAt time.Time) (buffer.Input, bool) {
	switch e := ev.(type) {
	case PushEvent:
		return buffer.Input{
			Platform:    buffer.PlatformGitHub,
			ActionType:  buffer.ActionUpdate,
			EntityType:  buffer.EntityCommit,
			EntityID:    e.HeadSHA,
			Description: fmt.Sprintf("Push to %s: %d commits", e.Ref, len(e.Commits)),
			Correlations: buffer.CorrelationIDs{
				GitHub: e.HeadSHA,
			},
			ObservedAt: observedAt,
		}, true

	case IssueEvent:
		return buffer.Input{
			Platform:     buffer.PlatformGitHub,
			ActionType:   actionForSource(e.Action),
			EntityType:   buffer.EntityIssue,
			EntityID:     fmt.Sprintf("#%d", e.Number),
			Description:  fmt.Sprintf("Issue %s: %s", e.Action, e.Title),
			Correlations: sourceCorrelation(e.Repo, e.Number),
			ObservedAt:   observedAt,
		}, true

	case PullRequestEvent:
		return buffer.Input{
			Platform:     buffer.PlatformGitHub,
			ActionType:   actionForSource(e.Action),
			EntityType:   buffer.EntityPullRequest,
			EntityID:     fmt.Sprintf("#%d", e.Number),
			Description:  fmt.Sprintf("PR %s: %s", e.Action, e.Title),
			Correlations: sourceCorrelation(e.Repo, e.Number),
			ObservedAt:   observedAt,
		}, true
	}
	return buffer.Input{}, false
}

// ClassifyTracker maps a tracker event to a buffer input.
func ClassifyTracker(ev TrackerEvent, observedAt time.Time) buffer.Input {
	var actionType buffer.ActionType
	switch ev.Action {
	case "create":
		actionType = buffer.ActionCreate
	case "remove":
		actionType = buffer.ActionDelete
	default:
		actionType = buffer.ActionUpdate
	}

	title := ev.Data.Title
	if title == "" {
		title = ev.Data.Name
	}
	if title == "" {
		title = ev.Data.Identifier
	}

	return buffer.Input{
		Platform:    buffer.PlatformLinear,
		ActionType:  actionType,
		EntityType:  buffer.EntityIssue,
		EntityID:    ev.Data.Identifier,
		Description: fmt.Sprintf("%s %s: %s", ev.Action, ev.Type, title),
		Correlations: buffer.CorrelationIDs{
			Linear: ev.Data.ID,
		},
		ObservedAt: observedAt,
	}
}

func actionForSource(action string) buffer.ActionType {
	if action == "opened" {
		return buffer.ActionCreate
	}
	return buffer.ActionUpdate
}

// sourceCorrelation builds a fully qualified "owner/repo#N" id when
// the repo is known, so later validation can resolve the entity.
func sourceCorrelation(repo string, number int) buffer.CorrelationIDs {
	if repo == "" {
		return buffer.CorrelationIDs{GitHub: fmt.Sprintf("#%d", number)}
	}
	return buffer.CorrelationIDs{GitHub: fmt.Sprintf("%s#%d", repo, number)}
}
