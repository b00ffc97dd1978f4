package platform

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultLinearEndpoint is the public Linear GraphQL endpoint.
const DefaultLinearEndpoint = "https://api.linear.app/graphql"

// LinearClient implements TrackerClient against the Linear GraphQL
// API. Linear ships no Go SDK; the API is a single GraphQL endpoint,
// so the client POSTs query documents over a plain http.Client.
type LinearClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

// NewLinearClient creates a tracker client authenticated with apiKey.
// endpoint may be empty to use the public API; tests point it at a
// local server.
func NewLinearClient(apiKey, endpoint string) *LinearClient {
	if endpoint == "" {
		endpoint = DefaultLinearEndpoint
	}
	return &LinearClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

// VerifyLinearSignature checks the hex HMAC-SHA256 signature Linear
// sends in the Linear-Signature header against the raw request body.
// Comparison is constant time. Missing secret or signature never
// verifies.
func VerifyLinearSignature(body []byte, secret, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

func (c *LinearClient) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encoding graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling tracker api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading tracker response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tracker api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decoding tracker response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("tracker api error: %s", envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decoding tracker data: %w", err)
		}
	}
	return nil
}

type linearIssue struct {
	ID          string    `json:"id"`
	Identifier  string    `json:"identifier"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Team        struct {
		ID string `json:"id"`
	} `json:"team"`
	State struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"state"`
}

func (li *linearIssue) toTrackerIssue() *TrackerIssue {
	return &TrackerIssue{
		ID:          li.ID,
		Identifier:  li.Identifier,
		Title:       li.Title,
		Description: li.Description,
		URL:         li.URL,
		TeamID:      li.Team.ID,
		State: TrackerState{
			ID:   li.State.ID,
			Name: li.State.Name,
			Type: li.State.Type,
		},
		UpdatedAt: li.UpdatedAt,
	}
}

const issueFields = `id identifier title description url updatedAt team { id } state { id name type }`

// GetIssue implements TrackerClient.
func (c *LinearClient) GetIssue(ctx context.Context, id string) (*TrackerIssue, error) {
	var data struct {
		Issue *linearIssue `json:"issue"`
	}
	query := fmt.Sprintf(`query Issue($id: String!) { issue(id: $id) { %s } }`, issueFields)
	if err := c.do(ctx, query, map[string]any{"id": id}, &data); err != nil {
		return nil, fmt.Errorf("getting tracker issue %s: %w", id, err)
	}
	if data.Issue == nil {
		return nil, fmt.Errorf("%w: tracker issue %s", ErrNotFound, id)
	}
	return data.Issue.toTrackerIssue(), nil
}

// GetIssueByIdentifier implements TrackerClient. The identifier has
// the "KEY-123" shape; the lookup filters by team key and number.
func (c *LinearClient) GetIssueByIdentifier(ctx context.Context, identifier string) (*TrackerIssue, error) {
	teamKey, numberPart, ok := strings.Cut(identifier, "-")
	if !ok {
		return nil, fmt.Errorf("malformed tracker identifier %q", identifier)
	}
	number, err := strconv.Atoi(numberPart)
	if err != nil {
		return nil, fmt.Errorf("malformed tracker identifier %q: %w", identifier, err)
	}

	var data struct {
		Issues struct {
			Nodes []linearIssue `json:"nodes"`
		} `json:"issues"`
	}
	query := fmt.Sprintf(`query IssueByIdentifier($teamKey: String!, $number: Float!) {
		issues(filter: { team: { key: { eq: $teamKey } }, number: { eq: $number } }) {
			nodes { %s }
		}
	}`, issueFields)
	if err := c.do(ctx, query, map[string]any{"teamKey": teamKey, "number": number}, &data); err != nil {
		return nil, fmt.Errorf("getting tracker issue %s: %w", identifier, err)
	}
	if len(data.Issues.Nodes) == 0 {
		return nil, fmt.Errorf("%w: tracker issue %s", ErrNotFound, identifier)
	}
	return data.Issues.Nodes[0].toTrackerIssue(), nil
}

// CreateComment implements TrackerClient.
func (c *LinearClient) CreateComment(ctx context.Context, issueID, body string) error {
	var data struct {
		CommentCreate struct {
			Success bool `json:"success"`
		} `json:"commentCreate"`
	}
	query := `mutation CommentCreate($issueId: String!, $body: String!) {
		commentCreate(input: { issueId: $issueId, body: $body }) { success }
	}`
	if err := c.do(ctx, query, map[string]any{"issueId": issueID, "body": body}, &data); err != nil {
		return fmt.Errorf("commenting on tracker issue %s: %w", issueID, err)
	}
	if !data.CommentCreate.Success {
		return fmt.Errorf("tracker rejected comment on issue %s", issueID)
	}
	return nil
}

// UpdateState implements TrackerClient.
func (c *LinearClient) UpdateState(ctx context.Context, issueID, stateID string) error {
	var data struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	query := `mutation IssueUpdate($id: String!, $stateId: String!) {
		issueUpdate(id: $id, input: { stateId: $stateId }) { success }
	}`
	if err := c.do(ctx, query, map[string]any{"id": issueID, "stateId": stateID}, &data); err != nil {
		return fmt.Errorf("updating state of tracker issue %s: %w", issueID, err)
	}
	if !data.IssueUpdate.Success {
		return fmt.Errorf("tracker rejected state update on issue %s", issueID)
	}
	return nil
}

// GetTeamStates implements TrackerClient.
func (c *LinearClient) GetTeamStates(ctx context.Context, teamID string) ([]TrackerState, error) {
	var data struct {
		Team struct {
			States struct {
				Nodes []TrackerState `json:"nodes"`
			} `json:"states"`
		} `json:"team"`
	}
	query := `query TeamStates($id: String!) {
		team(id: $id) { states { nodes { id name type } } }
	}`
	if err := c.do(ctx, query, map[string]any{"id": teamID}, &data); err != nil {
		return nil, fmt.Errorf("getting states for team %s: %w", teamID, err)
	}
	return data.Team.States.Nodes, nil
}
