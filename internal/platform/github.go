package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

var qualifiedEntityPattern = regexp.MustCompile(`^([a-zA-Z0-9._-]+)/([a-zA-Z0-9._-]+)#(\d+)$`)

// GitHubClient implements SourceClient over the GitHub REST API.
// Repos are addressed by bare name within the configured owner
// organization, or fully qualified as "owner/repo".
type GitHubClient struct {
	client *github.Client
	owner  string
}

// NewGitHubClient creates a source client authenticated with token.
func NewGitHubClient(token, owner string) *GitHubClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubClient{
		client: github.NewClient(oauth2.NewClient(context.Background(), ts)),
		owner:  owner,
	}
}

// splitRepo resolves "repo" or "owner/repo" against the configured owner.
func (c *GitHubClient) splitRepo(repo string) (string, string) {
	if owner, name, ok := strings.Cut(repo, "/"); ok {
		return owner, name
	}
	return c.owner, repo
}

// GetIssue implements SourceClient.
func (c *GitHubClient) GetIssue(ctx context.Context, repo string, number int) (*SourceIssue, error) {
	owner, name := c.splitRepo(repo)
	issue, resp, err := c.client.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return nil, wrapGitHubErr(resp, fmt.Errorf("getting issue %s#%d: %w", repo, number, err))
	}
	return &SourceIssue{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		State:     issue.GetState(),
		URL:       issue.GetHTMLURL(),
		UpdatedAt: issue.GetUpdatedAt().Time,
	}, nil
}

// GetPullRequest implements SourceClient.
func (c *GitHubClient) GetPullRequest(ctx context.Context, repo string, number int) (*SourcePull, error) {
	owner, name := c.splitRepo(repo)
	pr, resp, err := c.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, wrapGitHubErr(resp, fmt.Errorf("getting pull request %s#%d: %w", repo, number, err))
	}
	return &SourcePull{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		Body:      pr.GetBody(),
		State:     pr.GetState(),
		Merged:    pr.GetMerged(),
		URL:       pr.GetHTMLURL(),
		UpdatedAt: pr.GetUpdatedAt().Time,
	}, nil
}

// UpdateLabels implements SourceClient. The label set replaces any
// existing labels on the issue.
func (c *GitHubClient) UpdateLabels(ctx context.Context, repo string, number int, labels []string) error {
	owner, name := c.splitRepo(repo)
	_, resp, err := c.client.Issues.ReplaceLabelsForIssue(ctx, owner, name, number, labels)
	if err != nil {
		return wrapGitHubErr(resp, fmt.Errorf("updating labels on %s#%d: %w", repo, number, err))
	}
	return nil
}

// CreateComment implements SourceClient.
func (c *GitHubClient) CreateComment(ctx context.Context, repo string, number int, body string) error {
	owner, name := c.splitRepo(repo)
	_, resp, err := c.client.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return wrapGitHubErr(resp, fmt.Errorf("commenting on %s#%d: %w", repo, number, err))
	}
	return nil
}

// GetCommit implements SourceClient.
func (c *GitHubClient) GetCommit(ctx context.Context, repo, sha string) (*SourceCommit, error) {
	owner, name := c.splitRepo(repo)
	commit, resp, err := c.client.Repositories.GetCommit(ctx, owner, name, sha, nil)
	if err != nil {
		return nil, wrapGitHubErr(resp, fmt.Errorf("getting commit %s@%s: %w", repo, sha, err))
	}
	return &SourceCommit{
		SHA:     commit.GetSHA(),
		Message: commit.GetCommit().GetMessage(),
		URL:     commit.GetHTMLURL(),
	}, nil
}

// ValidateEntity implements SourceClient.
//
// Only fully qualified "owner/repo#N" ids carry enough context to
// resolve; bare "#N" ids and commit SHAs have no repo attached and are
// an explicit extension point (ErrNotImplemented), not a silent pass.
func (c *GitHubClient) ValidateEntity(ctx context.Context, entityID string) (bool, error) {
	m := qualifiedEntityPattern.FindStringSubmatch(entityID)
	if m == nil {
		return false, fmt.Errorf("%w: cannot resolve entity id %q without a repo qualifier", ErrNotImplemented, entityID)
	}
	number, err := strconv.Atoi(m[3])
	if err != nil {
		return false, fmt.Errorf("parsing entity number in %q: %w", entityID, err)
	}

	// Issues.Get resolves pull requests too; GitHub numbers them in the
	// same space.
	_, err = c.GetIssue(ctx, m[1]+"/"+m[2], number)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func wrapGitHubErr(resp *github.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
