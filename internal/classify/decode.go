package classify

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-github/v57/github"
)

// DecodeSource converts a parsed GitHub webhook event into a tagged
// variant. ok is false for event kinds the pipeline ignores.
func DecodeSource(event any) (SourceEvent, bool) {
	switch e := event.(type) {
	case *github.PushEvent:
		commits := make([]Commit, 0, len(e.Commits))
		for _, c := range e.Commits {
			commits = append(commits, Commit{SHA: c.GetID(), Message: c.GetMessage()})
		}
		return PushEvent{
			Repo:    e.GetRepo().GetFullName(),
			Ref:     e.GetRef(),
			HeadSHA: e.GetAfter(),
			Commits: commits,
		}, true

	case *github.IssuesEvent:
		return IssueEvent{
			Repo:   e.GetRepo().GetFullName(),
			Action: e.GetAction(),
			Number: e.GetIssue().GetNumber(),
			Title:  e.GetIssue().GetTitle(),
			Body:   e.GetIssue().GetBody(),
			URL:    e.GetIssue().GetHTMLURL(),
		}, true

	case *github.PullRequestEvent:
		return PullRequestEvent{
			Repo:   e.GetRepo().GetFullName(),
			Action: e.GetAction(),
			Number: e.GetPullRequest().GetNumber(),
			Title:  e.GetPullRequest().GetTitle(),
			Body:   e.GetPullRequest().GetBody(),
			URL:    e.GetPullRequest().GetHTMLURL(),
			Merged: e.GetPullRequest().GetMerged(),
		}, true
	}
	return nil, false
}

// trackerWire is the tracker webhook wire format.
type trackerWire struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID          string `json:"id"`
		Identifier  string `json:"identifier"`
		Title       string `json:"title"`
		Name        string `json:"name"`
		Description string `json:"description"`
		URL         string `json:"url"`
		State       struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"state"`
	} `json:"data"`
}

// DecodeTracker decodes a tracker webhook body.
func DecodeTracker(payload []byte) (TrackerEvent, error) {
	var wire trackerWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return TrackerEvent{}, fmt.Errorf("decoding tracker event: %w", err)
	}
	return TrackerEvent{
		Type:   wire.Type,
		Action: wire.Action,
		Data: TrackerEventData{
			ID:          wire.Data.ID,
			Identifier:  wire.Data.Identifier,
			Title:       wire.Data.Title,
			Name:        wire.Data.Name,
			Description: wire.Data.Description,
			URL:         wire.Data.URL,
			StateName:   wire.Data.State.Name,
			StateType:   wire.Data.State.Type,
		},
	}, nil
}
