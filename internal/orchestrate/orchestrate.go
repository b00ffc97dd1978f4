// Package orchestrate translates one platform's event into the
// mutations the other platforms need: contextual comments, status
// labels, and workflow-state transitions.
//
// Every propagation is independent per extracted reference. A failing
// reference is logged and counted, and the remaining references are
// still processed; the caller gets the joined errors for visibility
// but never a short-circuit.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/trancendos/syncbridge/internal/classify"
	"github.com/trancendos/syncbridge/internal/extract"
	"github.com/trancendos/syncbridge/internal/logging"
	"github.com/trancendos/syncbridge/internal/metrics"
	"github.com/trancendos/syncbridge/internal/platform"
)

// stateLabels is the deterministic tracker-state to source-label
// mapping.
var stateLabels = map[string]string{
	"backlog":   "status: backlog",
	"unstarted": "status: todo",
	"started":   "status: in-progress",
	"completed": "status: done",
	"canceled":  "status: canceled",
}

// LabelsForState returns the source-platform label set for a tracker
// workflow state type. Unknown states map to no labels.
func LabelsForState(stateType string) []string {
	if label, ok := stateLabels[stateType]; ok {
		return []string{label}
	}
	return nil
}

// Orchestrator executes cross-platform propagation.
type Orchestrator struct {
	source  platform.SourceClient
	tracker platform.TrackerClient
	log     *logging.Logger
	metrics *metrics.Metrics
}

// New creates an orchestrator over the platform collaborators.
func New(source platform.SourceClient, tracker platform.TrackerClient, log *logging.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		source:  source,
		tracker: tracker,
		log:     log.Named("orchestrate"),
		metrics: m,
	}
}

// PropagateFromSource pushes a source-platform event onto referenced
// tracker issues: a contextual comment per reference, and on a merged
// pull request a transition to the team's completed state when the
// team has one.
func (o *Orchestrator) PropagateFromSource(ctx context.Context, ev classify.SourceEvent) error {
	o.metrics.PropagationsTotal.WithLabelValues("source_to_tracker").Inc()

	refs := extract.TrackerRefs(sourceEventText(ev))
	if len(refs) == 0 {
		// Absence of references is a valid terminal outcome.
		return nil
	}

	var errs []error
	for _, ref := range refs {
		if err := o.propagateToTrackerIssue(ctx, ref, ev); err != nil {
			o.metrics.PropagationFailedTotal.WithLabelValues("source_to_tracker").Inc()
			o.log.Warn(ctx, "propagation to tracker issue failed",
				zap.String("ref", ref), zap.Error(err))
			errs = append(errs, fmt.Errorf("ref %s: %w", ref, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) propagateToTrackerIssue(ctx context.Context, ref string, ev classify.SourceEvent) error {
	issue, err := o.tracker.GetIssueByIdentifier(ctx, ref)
	if errors.Is(err, platform.ErrNotFound) {
		o.log.Warn(ctx, "tracker issue not found", zap.String("ref", ref))
		return nil
	}
	if err != nil {
		return err
	}

	comment, completesIssue := sourceEventComment(ev)
	if comment == "" {
		return nil
	}
	if err := o.tracker.CreateComment(ctx, issue.ID, comment); err != nil {
		return err
	}

	if !completesIssue {
		return nil
	}
	return o.transitionToCompleted(ctx, issue)
}

// transitionToCompleted moves the issue to its team's completed state.
// Teams without a completed state get no transition, which is not an
// error.
func (o *Orchestrator) transitionToCompleted(ctx context.Context, issue *platform.TrackerIssue) error {
	states, err := o.tracker.GetTeamStates(ctx, issue.TeamID)
	if err != nil {
		return fmt.Errorf("looking up team states: %w", err)
	}
	for _, state := range states {
		if state.Type == "completed" {
			if err := o.tracker.UpdateState(ctx, issue.ID, state.ID); err != nil {
				return fmt.Errorf("transitioning %s to %s: %w", issue.Identifier, state.Name, err)
			}
			o.log.Info(ctx, "tracker issue completed",
				zap.String("identifier", issue.Identifier),
				zap.String("state", state.Name))
			return nil
		}
	}
	return nil
}

// PropagateFromTracker pushes a tracker issue's state onto referenced
// source entities: a status label set and a summary comment per
// qualified reference. Bare "#123" references carry no repo and are
// skipped.
func (o *Orchestrator) PropagateFromTracker(ctx context.Context, issue platform.TrackerIssue) error {
	o.metrics.PropagationsTotal.WithLabelValues("tracker_to_source").Inc()

	var errs []error
	for _, ref := range extract.SourceRefs(issue.Description) {
		if ref.Repo == "" {
			o.log.Debug(ctx, "skipping unqualified source ref",
				zap.Int("number", ref.Number), zap.String("issue", issue.Identifier))
			continue
		}
		if err := o.propagateToSourceEntity(ctx, ref, issue); err != nil {
			o.metrics.PropagationFailedTotal.WithLabelValues("tracker_to_source").Inc()
			o.log.Warn(ctx, "propagation to source entity failed",
				zap.String("repo", ref.Repo), zap.Int("number", ref.Number), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s#%d: %w", ref.Repo, ref.Number, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) propagateToSourceEntity(ctx context.Context, ref extract.SourceRef, issue platform.TrackerIssue) error {
	if labels := LabelsForState(issue.State.Type); len(labels) > 0 {
		if err := o.source.UpdateLabels(ctx, ref.Repo, ref.Number, labels); err != nil {
			return err
		}
	}

	comment := fmt.Sprintf("Linear issue updated: [%s](%s)\nStatus: %s",
		issue.Identifier, issue.URL, issue.State.Name)
	return o.source.CreateComment(ctx, ref.Repo, ref.Number, comment)
}

// PropagateFromDoc is the documentation-originated propagation
// surface. It is an explicit extension point: callers and tests can
// tell "not wired up" apart from a successful no-op.
func (o *Orchestrator) PropagateFromDoc(ctx context.Context, page platform.DocPage) error {
	o.metrics.PropagationsTotal.WithLabelValues("doc_to_others").Inc()
	return fmt.Errorf("doc propagation for page %s: %w", page.ID, platform.ErrNotImplemented)
}

// sourceEventText gathers the text to scan for tracker references.
func sourceEventText(ev classify.SourceEvent) string {
	switch e := ev.(type) {
	case classify.PushEvent:
		var sb strings.Builder
		for _, c := range e.Commits {
			sb.WriteString(c.Message)
			sb.WriteString("\n")
		}
		return sb.String()
	case classify.IssueEvent:
		return e.Title + " " + e.Body
	case classify.PullRequestEvent:
		return e.Title + " " + e.Body
	}
	return ""
}

// sourceEventComment renders the tracker comment for an event, and
// reports whether the event completes the referenced issue.
func sourceEventComment(ev classify.SourceEvent) (string, bool) {
	switch e := ev.(type) {
	case classify.PushEvent:
		return fmt.Sprintf("GitHub commits pushed: %d commits to %s", len(e.Commits), e.Ref), false
	case classify.IssueEvent:
		if e.Action == "opened" {
			return fmt.Sprintf("🔗 GitHub Issue Created: [%s#%d](%s)\n\n%s", e.Repo, e.Number, e.URL, e.Title), false
		}
	case classify.PullRequestEvent:
		switch {
		case e.Action == "opened":
			return fmt.Sprintf("🔀 GitHub PR Opened: [%s#%d](%s)\n\n%s", e.Repo, e.Number, e.URL, e.Title), false
		case e.Action == "closed" && e.Merged:
			return fmt.Sprintf("✅ GitHub PR Merged: [%s#%d](%s)", e.Repo, e.Number, e.URL), true
		}
	}
	return "", false
}
