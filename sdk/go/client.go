package brieflinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Briefline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Generation calls can take a while,
// so the default timeout is generous.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   2 * time.Minute,
	}
}

// Brief represents the API brief model.
type Brief struct {
	ID                 string   `json:"id"`
	ProjectID          string   `json:"project_id"`
	DisplayID          string   `json:"display_id"`
	Title              string   `json:"title"`
	Objective          string   `json:"objective,omitempty"`
	Outcomes           string   `json:"outcomes,omitempty"`
	Scope              string   `json:"scope,omitempty"`
	RiskOfInaction     string   `json:"risk_of_inaction,omitempty"`
	HappyPath          string   `json:"happy_path,omitempty"`
	Exceptions         string   `json:"exceptions,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	StakeholderImpact  string   `json:"stakeholder_impact,omitempty"`
	DepartmentImpact   string   `json:"department_impact,omitempty"`
	TechnologyImpact   string   `json:"technology_impact,omitempty"`
	Status             string   `json:"status"`
	CreatedAt          string   `json:"created_at"`
}

// BriefInput carries the fields of a new brief.
type BriefInput struct {
	Title              string   `json:"title"`
	Objective          string   `json:"objective,omitempty"`
	Outcomes           string   `json:"outcomes,omitempty"`
	Scope              string   `json:"scope,omitempty"`
	RiskOfInaction     string   `json:"risk_of_inaction,omitempty"`
	HappyPath          string   `json:"happy_path,omitempty"`
	Exceptions         string   `json:"exceptions,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	StakeholderImpact  string   `json:"stakeholder_impact,omitempty"`
	DepartmentImpact   string   `json:"department_impact,omitempty"`
	TechnologyImpact   string   `json:"technology_impact,omitempty"`
	Draft              bool     `json:"draft,omitempty"`
}

// FieldAssessment is the verdict on one brief field.
type FieldAssessment struct {
	Field       string   `json:"field"`
	Critical    bool     `json:"critical"`
	Score       int      `json:"score"`
	Grade       string   `json:"grade"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions"`
}

// Assessment represents a brief quality assessment.
type Assessment struct {
	BriefID          string            `json:"brief_id"`
	OverallScore     float64           `json:"overall_score"`
	OverallGrade     string            `json:"overall_grade"`
	Fields           []FieldAssessment `json:"fields"`
	ApprovalRequired bool              `json:"approval_required"`
	Summary          string            `json:"summary"`
	Mode             string            `json:"assessment_mode"`
}

// Item represents an Initiative, Feature, Epic or Story.
type Item struct {
	ID                 string   `json:"id"`
	ProjectID          string   `json:"project_id"`
	Level              string   `json:"level"`
	ParentID           string   `json:"parent_id"`
	ParentLevel        string   `json:"parent_level"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Rationale          string   `json:"rationale,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Priority           string   `json:"priority"`
	Status             string   `json:"status"`
	Source             string   `json:"source"`
}

// Rejection is a generated candidate that was discarded.
type Rejection struct {
	Title  string `json:"title,omitempty"`
	Reason string `json:"reason"`
}

// Generation is the result of one generate call.
type Generation struct {
	Saved       []Item      `json:"saved"`
	Rejected    []Rejection `json:"rejected"`
	Warnings    []string    `json:"warnings"`
	TargetLevel string      `json:"target_level"`
	Iterations  int         `json:"iterations"`
	TokensUsed  int         `json:"tokens_used"`
	Truncated   bool        `json:"truncated"`
}

// GenerateRequest asks for the children of a brief or item.
type GenerateRequest struct {
	ParentID    string `json:"parent_id"`
	ParentLevel string `json:"parent_level,omitempty"`
	MinCount    int    `json:"min_count,omitempty"`
	Extra       string `json:"extra,omitempty"`
}

// TraceNode is one ancestor of an item.
type TraceNode struct {
	ID        string `json:"id"`
	DisplayID string `json:"display_id,omitempty"`
	Level     string `json:"level"`
	Title     string `json:"title"`
	Status    string `json:"status"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// SubmitBrief stores a brief.
func (c *Client) SubmitBrief(ctx context.Context, b BriefInput) (Brief, error) {
	var resp Brief
	err := c.do(ctx, http.MethodPost, c.projectPath("briefs"), b, &resp)
	return resp, err
}

// GetBrief fetches a brief by id or display id.
func (c *Client) GetBrief(ctx context.Context, id string) (Brief, error) {
	var resp Brief
	err := c.do(ctx, http.MethodGet, c.projectPath("briefs/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// SetBriefStatus moves a brief through its lifecycle.
func (c *Client) SetBriefStatus(ctx context.Context, id, status string, force bool) (Brief, error) {
	body := map[string]any{"status": status, "force": force}
	var resp Brief
	err := c.do(ctx, http.MethodPatch, c.projectPath("briefs/"+url.PathEscape(id)+"/status"), body, &resp)
	return resp, err
}

// AssessBrief grades and records a stored brief. useModel asks the server's
// configured model instead of the heuristic.
func (c *Client) AssessBrief(ctx context.Context, id string, useModel bool) (Assessment, error) {
	body := map[string]any{"use_model": useModel}
	var resp Assessment
	err := c.do(ctx, http.MethodPost, c.projectPath("briefs/"+url.PathEscape(id)+"/assess"), body, &resp)
	return resp, err
}

// Generate creates and saves the children of a brief or item.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	var resp Generation
	err := c.do(ctx, http.MethodPost, c.projectPath("generate"), req, &resp)
	return resp, err
}

// Items lists items at a level, optionally under one parent.
func (c *Client) Items(ctx context.Context, level, parentID string) ([]Item, error) {
	q := url.Values{}
	if level != "" {
		q.Set("level", level)
	}
	if parentID != "" {
		q.Set("parent_id", parentID)
	}
	endpoint := c.projectPath("items")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Item `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Trace returns the ancestor chain of an item, root first.
func (c *Client) Trace(ctx context.Context, itemID string) ([]TraceNode, error) {
	var resp struct {
		Chain []TraceNode `json:"chain"`
	}
	err := c.do(ctx, http.MethodGet, c.projectPath("items/"+url.PathEscape(itemID)+"/trace"), nil, &resp)
	return resp.Chain, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
