// Package extract parses cross-platform entity references out of free
// text. All functions are pure and total: no input produces an error,
// and text without references yields an empty result.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	trackerRefPattern = regexp.MustCompile(`\b([A-Z]{2,}-\d+)\b`)
	bareSourcePattern = regexp.MustCompile(`#(\d+)`)
	fullSourcePattern = regexp.MustCompile(`([a-zA-Z0-9_-]+)/([a-zA-Z0-9_-]+)#(\d+)`)
	docRefPattern     = regexp.MustCompile(`notion\.so/([a-f0-9]{32})`)
	commitTypePattern = regexp.MustCompile(`^(feat|fix|docs|style|refactor|test|chore|perf)(\(.+\))?:`)
)

// SourceRef identifies an issue or pull request on the source platform.
// Repo is "owner/repo" for qualified references and empty for bare
// "#123" references, which resolve against the current repository.
type SourceRef struct {
	Repo   string
	Number int
}

// TrackerRefs returns deduplicated tracker issue identifiers such as
// "TRA-49". Matching is case-sensitive: lowercase or mixed-case team
// keys are not references.
func TrackerRefs(text string) []string {
	seen := make(map[string]struct{})
	var refs []string
	for _, m := range trackerRefPattern.FindAllString(text, -1) {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		refs = append(refs, m)
	}
	return refs
}

// SourceRefs returns source-platform references in both bare "#123"
// and qualified "owner/repo#123" forms.
//
// A qualified reference also matches the bare pattern, so one
// occurrence of "acme/widgets#12" yields two entries. This mirrors the
// behavior the rest of the pipeline was built against; callers that
// need one entry per number must collapse the result themselves.
func SourceRefs(text string) []SourceRef {
	var refs []SourceRef
	for _, m := range bareSourcePattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		refs = append(refs, SourceRef{Number: n})
	}
	for _, m := range fullSourcePattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		refs = append(refs, SourceRef{Repo: m[1] + "/" + m[2], Number: n})
	}
	return refs
}

// DocRefs returns deduplicated 32-hex documentation page ids found in
// notion.so URLs.
func DocRefs(text string) []string {
	seen := make(map[string]struct{})
	var refs []string
	for _, m := range docRefPattern.FindAllStringSubmatch(text, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		refs = append(refs, m[1])
	}
	return refs
}

// CommitInfo is the parsed form of a commit message.
type CommitInfo struct {
	Subject     string
	Body        string
	Type        string
	TrackerRefs []string
	SourceRefs  []SourceRef
}

// ParseCommitMessage splits a commit message into subject and body,
// detects the conventional-commit type (falling back to "other"), and
// extracts all platform references from the full message.
func ParseCommitMessage(message string) CommitInfo {
	subject, body, _ := strings.Cut(message, "\n")
	body = strings.TrimSpace(body)

	commitType := "other"
	if m := commitTypePattern.FindStringSubmatch(subject); m != nil {
		commitType = m[1]
	}

	return CommitInfo{
		Subject:     subject,
		Body:        body,
		Type:        commitType,
		TrackerRefs: TrackerRefs(message),
		SourceRefs:  SourceRefs(message),
	}
}
