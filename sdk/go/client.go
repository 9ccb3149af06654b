package qcsdk

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

// Client is a minimal qcline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type ChecklistItem struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Severity     string `json:"severity"`
	IsRequired   bool   `json:"is_required,omitempty"`
	DefaultScore int    `json:"default_score,omitempty"`
	Position     int    `json:"position,omitempty"`
}

type Checklist struct {
	ID                         string          `json:"id,omitempty"`
	Name                       string          `json:"name"`
	Type                       string          `json:"type"`
	Category                   string          `json:"category"`
	Status                     string          `json:"status,omitempty"`
	ScoringMode                string          `json:"scoring_mode"`
	OutputType                 string          `json:"qc_output_type"`
	PassThreshold              int             `json:"pass_threshold"`
	ReworkThreshold            int             `json:"rework_threshold,omitempty"`
	AutoFailOnRequiredItemFail bool            `json:"auto_fail_on_required_item_fail,omitempty"`
	AutoFailOnCriticalItemFail bool            `json:"auto_fail_on_critical_item_fail,omitempty"`
	LinkedModules              []string        `json:"linked_modules,omitempty"`
	Items                      []ChecklistItem `json:"items,omitempty"`
	CreatedAt                  string          `json:"created_at,omitempty"`
	UpdatedAt                  string          `json:"updated_at,omitempty"`
}

// Asset is the API asset record.
type Asset struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Classification string  `json:"classification"`
	Status         string  `json:"status"`
	QCStatus       *string `json:"qc_status,omitempty"`
	QCScore        *int    `json:"qc_score,omitempty"`
	QCRemarks      string  `json:"qc_remarks,omitempty"`
	CreatedBy      string  `json:"created_by"`
	DesignedBy     string  `json:"designed_by,omitempty"`
	SubmittedBy    string  `json:"submitted_by,omitempty"`
	ReworkCount    int     `json:"rework_count"`
	LinkingActive  bool    `json:"linking_active"`
	Version        int64   `json:"version"`
}

type Evaluation struct {
	ItemID  string `json:"item_id"`
	Outcome string `json:"outcome"`
}

type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Decision struct {
	Outcome  string    `json:"outcome"`
	Score    int       `json:"score"`
	Warnings []Warning `json:"warnings,omitempty"`
}

type Review struct {
	ID          string       `json:"id"`
	AssetID     string       `json:"asset_id"`
	ReviewerID  string       `json:"reviewer_id"`
	ChecklistID string       `json:"checklist_id"`
	Evaluations []Evaluation `json:"evaluations"`
	Score       int          `json:"score"`
	Outcome     string       `json:"outcome"`
	Remarks     string       `json:"remarks,omitempty"`
	FromStatus  string       `json:"from_status"`
	ToStatus    string       `json:"to_status"`
	CreatedAt   string       `json:"created_at"`
}

type ReviewResult struct {
	Asset    Asset    `json:"asset"`
	Decision Decision `json:"decision"`
	Review   Review   `json:"review"`
}

// APIError wraps non-2xx responses. Code is the envelope's error code when
// the body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateChecklist(ctx context.Context, cl Checklist) (Checklist, error) {
	var resp Checklist
	err := c.do(ctx, http.MethodPost, "checklists", cl, &resp)
	return resp, err
}

func (c *Client) ListChecklists(ctx context.Context, module string) ([]Checklist, error) {
	endpoint := "checklists"
	if module != "" {
		endpoint += "?module=" + url.QueryEscape(module)
	}
	var resp struct {
		Items []Checklist `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// ApplicableChecklist returns the checklist reviewers fill in for a
// classification.
func (c *Client) ApplicableChecklist(ctx context.Context, classification string) (Checklist, error) {
	var resp Checklist
	err := c.do(ctx, http.MethodGet, "checklists/applicable?classification="+url.QueryEscape(classification), nil, &resp)
	return resp, err
}

func (c *Client) CreateAsset(ctx context.Context, id, title, classification string) (Asset, error) {
	body := map[string]string{
		"title":          title,
		"classification": classification,
	}
	if id != "" {
		body["id"] = id
	}
	var resp Asset
	err := c.do(ctx, http.MethodPost, "assets", body, &resp)
	return resp, err
}

func (c *Client) GetAsset(ctx context.Context, id string) (Asset, error) {
	var resp Asset
	err := c.do(ctx, http.MethodGet, "assets/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// SubmitForQC moves a Draft asset into the review queue.
func (c *Client) SubmitForQC(ctx context.Context, id string) (Asset, error) {
	var resp Asset
	err := c.do(ctx, http.MethodPost, "assets/"+url.PathEscape(id)+"/submit", nil, &resp)
	return resp, err
}

func (c *Client) SubmitReview(ctx context.Context, assetID string, evals []Evaluation, requested, remarks string) (ReviewResult, error) {
	body := map[string]any{
		"evaluations":        evals,
		"requested_decision": requested,
	}
	if remarks != "" {
		body["remarks"] = remarks
	}
	var resp ReviewResult
	err := c.do(ctx, http.MethodPost, "assets/"+url.PathEscape(assetID)+"/reviews", body, &resp)
	return resp, err
}

func (c *Client) ListReviews(ctx context.Context, assetID string) ([]Review, error) {
	var resp struct {
		Items []Review `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "assets/"+url.PathEscape(assetID)+"/reviews", nil, &resp)
	return resp.Items, err
}

func (c *Client) Resubmit(ctx context.Context, assetID string) (Asset, error) {
	var resp Asset
	err := c.do(ctx, http.MethodPost, "assets/"+url.PathEscape(assetID)+"/resubmit", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
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
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
