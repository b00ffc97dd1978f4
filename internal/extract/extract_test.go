package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerRefs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "single reference",
			input:    "Fixes TRA-49",
			expected: []string{"TRA-49"},
		},
		{
			name:     "lowercase prefix not matched",
			input:    "fix TRA-49 and tra-50",
			expected: []string{"TRA-49"},
		},
		{
			name:     "mixed case prefix not matched",
			input:    "Tra-49 is not a reference",
			expected: nil,
		},
		{
			name:     "deduplicated",
			input:    "TRA-49 relates to TRA-49 and ENG-102",
			expected: []string{"TRA-49", "ENG-102"},
		},
		{
			name:     "single letter key not matched",
			input:    "A-1 is too short",
			expected: nil,
		},
		{
			name:     "empty input",
			input:    "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.expected, TrackerRefs(tt.input))
		})
	}
}

func TestSourceRefs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []SourceRef
	}{
		{
			name:     "bare reference",
			input:    "see #123",
			expected: []SourceRef{{Number: 123}},
		},
		{
			name:     "qualified reference matches both forms",
			input:    "see acme/widgets#12",
			expected: []SourceRef{{Number: 12}, {Repo: "acme/widgets", Number: 12}},
		},
		{
			name:  "bare and qualified stay distinct",
			input: "relates to #12 and acme/widgets#12",
			expected: []SourceRef{
				{Number: 12},
				{Number: 12},
				{Repo: "acme/widgets", Number: 12},
			},
		},
		{
			name:     "no references",
			input:    "nothing to see here",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SourceRefs(tt.input))
		})
	}
}

func TestDocRefs(t *testing.T) {
	input := "docs at https://notion.so/0123456789abcdef0123456789abcdef and " +
		"https://www.notion.so/0123456789abcdef0123456789abcdef again"
	assert.Equal(t, []string{"0123456789abcdef0123456789abcdef"}, DocRefs(input))

	assert.Empty(t, DocRefs("notion.so/tooshort"))
	assert.Empty(t, DocRefs(""))
}

func TestParseCommitMessage(t *testing.T) {
	tests := []struct {
		name        string
		message     string
		wantType    string
		wantSubject string
		wantBody    string
		wantTracker []string
	}{
		{
			name:        "conventional fix with scope",
			message:     "fix(sync): handle TRA-7 retries\n\nCloses acme/widgets#3",
			wantType:    "fix",
			wantSubject: "fix(sync): handle TRA-7 retries",
			wantBody:    "Closes acme/widgets#3",
			wantTracker: []string{"TRA-7"},
		},
		{
			name:        "non conventional subject",
			message:     "Update readme",
			wantType:    "other",
			wantSubject: "Update readme",
		},
		{
			name:        "feat without scope",
			message:     "feat: add poller",
			wantType:    "feat",
			wantSubject: "feat: add poller",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseCommitMessage(tt.message)
			assert.Equal(t, tt.wantType, info.Type)
			assert.Equal(t, tt.wantSubject, info.Subject)
			assert.Equal(t, tt.wantBody, info.Body)
			assert.ElementsMatch(t, tt.wantTracker, info.TrackerRefs)
		})
	}
}
