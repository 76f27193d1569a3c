// Package github implements the GitHub Issues backend.
//
// GitHub has no native status beyond open/closed, so roadmap statuses other
// than open and closed are carried as "status:<name>" labels. The headline is
// the first line of the issue body.
package github

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for rate-limited or
	// failed requests.
	MaxRetries = 3

	// RetryDelay is the initial delay between retries (exponential backoff).
	RetryDelay = time.Second

	// MaxPageSize is the maximum number of items to fetch per page.
	MaxPageSize = 100

	// MaxPages stops pagination that never ends because of a malformed
	// Link header.
	MaxPages = 1000

	// StatusLabelPrefix prefixes labels that encode a roadmap status.
	StatusLabelPrefix = "status:"
)

// Client provides methods to interact with the GitHub REST API.
type Client struct {
	Token      string       // GitHub personal access token
	Owner      string       // Repository owner (user or org)
	Repo       string       // Repository name
	BaseURL    string       // API base URL (default: https://api.github.com)
	HTTPClient *http.Client // Optional custom HTTP client
	RetryDelay time.Duration
}

// Issue represents an issue from the GitHub API.
type Issue struct {
	ID          int        `json:"id"`
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	State       string     `json:"state"` // "open" or "closed"
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	Labels      []Label    `json:"labels"`
	Assignee    *User      `json:"assignee,omitempty"`
	Assignees   []User     `json:"assignees,omitempty"`
	Milestone   *Milestone `json:"milestone,omitempty"`
	HTMLURL     string     `json:"html_url"`
	PullRequest *PullRef   `json:"pull_request,omitempty"` // Non-nil if this is a PR
}

// PullRef marks an issue that is actually a pull request. The issues
// endpoint returns PRs alongside issues.
type PullRef struct {
	URL string `json:"url,omitempty"`
}

// User represents a GitHub user.
type User struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
}

// Label represents a GitHub label.
type Label struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Milestone represents a GitHub milestone.
type Milestone struct {
	ID     int    `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
}

// IssueRequest is the body of a create or update call. Nil fields are left
// out; Milestone is always sent so it can be cleared with null.
type IssueRequest struct {
	Title     string   `json:"title,omitempty"`
	Body      *string  `json:"body,omitempty"`
	State     string   `json:"state,omitempty"`
	Labels    []string `json:"labels"`
	Assignees []string `json:"assignees"`
	Milestone *int     `json:"milestone"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s (status %d)", strings.TrimSpace(e.Body), e.StatusCode)
}

// LabelNames extracts label name strings from a slice of Label structs.
func LabelNames(labels []Label) []string {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return names
}
