package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ignite/alertflow/internal/config"
	"github.com/ignite/alertflow/internal/pkg/httpretry"
)

// teamFieldID is the custom field carrying the owning team on issues.
const teamFieldID = "customfield_10001"

// openStatuses are the status names that mean a ticket is still being
// worked. Anything else, including an unreadable status, counts as
// closed: creating one ticket too many beats missing an incident.
var openStatuses = map[string]bool{
	"open":        true,
	"in progress": true,
	"to do":       true,
	"new":         true,
	"reopened":    true,
	"pending":     true,
	"waiting":     true,
	"in review":   true,
}

// Client is a Jira Cloud REST client.
type Client struct {
	baseURL    string
	email      string
	apiToken   string
	projectKey string
	issueType  string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a Jira client from config.
func NewClient(cfg config.JiraConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		email:      cfg.Email,
		apiToken:   cfg.APIToken,
		projectKey: cfg.ProjectKey,
		issueType:  cfg.IssueType,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
	}
}

func (c *Client) authHeader() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.email+":"+c.apiToken))
}

// doRequest makes an authenticated JSON request to the Jira API.
func (c *Client) doRequest(ctx context.Context, method, path string, payload interface{}) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshaling payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// CreateIssueInput is what a new incident ticket needs.
type CreateIssueInput struct {
	Summary     string
	Description string
	Priority    string // pipeline priority, converted to a Jira name
}

type createIssueResponse struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// CreateIssue opens a ticket and returns its key.
func (c *Client) CreateIssue(ctx context.Context, in CreateIssueInput) (string, error) {
	payload := map[string]interface{}{
		"fields": map[string]interface{}{
			"project":     map[string]string{"key": c.projectKey},
			"summary":     in.Summary,
			"description": in.Description,
			"issuetype":   map[string]string{"name": c.issueType},
			"priority":    map[string]string{"name": PriorityName(in.Priority)},
		},
	}
	body, status, err := c.doRequest(ctx, http.MethodPost, "/rest/api/2/issue", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create issue: status %d: %s", status, string(body))
	}
	var resp createIssueResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("create issue response: %w", err)
	}
	return resp.Key, nil
}

type issueStatusResponse struct {
	Fields struct {
		Status struct {
			Name string `json:"name"`
		} `json:"status"`
	} `json:"fields"`
}

// GetStatus reads the human-readable status of a ticket.
func (c *Client) GetStatus(ctx context.Context, key string) (string, error) {
	body, status, err := c.doRequest(ctx, http.MethodGet,
		"/rest/api/2/issue/"+url.PathEscape(key)+"?fields=status", nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("get issue %s: status %d", key, status)
	}
	var resp issueStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("issue status response: %w", err)
	}
	return resp.Fields.Status.Name, nil
}

// IsOpen reports whether the ticket is still being worked. An
// unreadable status counts as closed.
func (c *Client) IsOpen(ctx context.Context, key string) bool {
	status, err := c.GetStatus(ctx, key)
	if err != nil {
		log.Printf("[Jira] status of %s unreadable, treating as closed: %v", key, err)
		return false
	}
	return IsOpenStatus(status)
}

// IsOpenStatus classifies a status name against the open set.
func IsOpenStatus(status string) bool {
	return openStatuses[lower(status)]
}

type userSearchResult struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

// AssignByEmail looks up the account for an email address and assigns
// the ticket to it. Returns the display name of the assignee.
func (c *Client) AssignByEmail(ctx context.Context, key, email string) (string, error) {
	q := url.Values{}
	q.Set("query", email)
	q.Set("maxResults", "1")
	body, status, err := c.doRequest(ctx, http.MethodGet, "/rest/api/2/user/search?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("user search: status %d", status)
	}
	var users []userSearchResult
	if err := json.Unmarshal(body, &users); err != nil {
		return "", fmt.Errorf("user search response: %w", err)
	}
	if len(users) == 0 {
		return "", fmt.Errorf("no Jira user for %s", email)
	}

	payload := map[string]string{"accountId": users[0].AccountID}
	_, status, err = c.doRequest(ctx, http.MethodPut,
		"/rest/api/2/issue/"+url.PathEscape(key)+"/assignee", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusNoContent {
		return "", fmt.Errorf("assign %s: status %d", key, status)
	}
	return users[0].DisplayName, nil
}

// SetTeamField writes the owning team onto the ticket's team field.
// Teams without a known UUID are skipped; never fatal.
func (c *Client) SetTeamField(ctx context.Context, key, teamName string) bool {
	if teamName == "" {
		return false
	}
	teamID, ok := config.TeamUUIDMap[teamName]
	if !ok {
		log.Printf("[Jira] team %q has no UUID, skipping team assignment for %s", teamName, key)
		return false
	}

	payload := map[string]interface{}{
		"fields": map[string]interface{}{teamFieldID: teamID},
	}
	_, status, err := c.doRequest(ctx, http.MethodPut, "/rest/api/2/issue/"+url.PathEscape(key), payload)
	if err != nil || status != http.StatusNoContent {
		log.Printf("[Jira] set team %q on %s failed (status %d): %v", teamName, key, status, err)
		return false
	}
	return true
}

// AttachFile uploads the original alert email onto the ticket. A
// missing or empty file is logged and skipped; attachment problems
// never fail the ticket.
func (c *Client) AttachFile(ctx context.Context, key, path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		log.Printf("[Jira] attachment %s not found for %s: %v", path, key, err)
		return false
	}
	if info.Size() == 0 {
		log.Printf("[Jira] attachment %s is empty, skipping for %s", path, key)
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		log.Printf("[Jira] attachment open %s: %v", path, err)
		return false
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", SanitizeFilename(filepath.Base(path)))
	if err != nil {
		log.Printf("[Jira] attachment form: %v", err)
		return false
	}
	if _, err := io.Copy(part, f); err != nil {
		log.Printf("[Jira] attachment read %s: %v", path, err)
		return false
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/rest/api/2/issue/"+url.PathEscape(key)+"/attachments", &buf)
	if err != nil {
		log.Printf("[Jira] attachment request: %v", err)
		return false
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("X-Atlassian-Token", "no-check")
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Jira] attachment upload to %s: %v", key, err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Jira] attachment upload to %s: status %d", key, resp.StatusCode)
		return false
	}
	log.Printf("[Jira] attached %s to %s", filepath.Base(path), key)
	return true
}
