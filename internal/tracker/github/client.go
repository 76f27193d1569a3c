package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roadmapper/roadmap/internal/debug"
)

// NewClient creates a new GitHub client.
func NewClient(token, owner, repo string) *Client {
	return &Client{
		Token:   token,
		Owner:   owner,
		Repo:    repo,
		BaseURL: DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		RetryDelay: RetryDelay,
	}
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	cp := *c
	cp.HTTPClient = httpClient
	return &cp
}

// WithBaseURL returns a new client with a custom base URL (for testing or
// GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	cp := *c
	cp.BaseURL = baseURL
	return &cp
}

func (c *Client) repoPath() string {
	return "/repos/" + c.Owner + "/" + c.Repo
}

func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}
	return u
}

// retryAfterBackOff lets a Retry-After header override the next exponential
// delay.
type retryAfterBackOff struct {
	backoff.BackOff
	next time.Duration
	set  bool
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop || !b.set {
		return d
	}
	b.set = false
	return b.next
}

func (c *Client) newBackOff(ctx context.Context) (*retryAfterBackOff, backoff.BackOff) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.RetryDelay
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = time.Millisecond
	}
	bo.MaxElapsedTime = 0
	ra := &retryAfterBackOff{BackOff: backoff.WithMaxRetries(bo, MaxRetries)}
	return ra, backoff.WithContext(ra, ctx)
}

// doRequest performs an authenticated request. Rate limits, 5xx responses
// and transport errors are retried; other failures are returned at once.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body any) ([]byte, http.Header, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var (
		respBody []byte
		headers  http.Header
		attempt  int
	)
	ra, bo := c.newBackOff(ctx)
	op := func() error {
		attempt++
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("request failed (attempt %d): %w", attempt, err)
		}
		const maxResponseSize = 50 * 1024 * 1024
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response (attempt %d): %w", attempt, err)
		}

		// GitHub signals rate limits with 429, or 403 plus an exhausted quota.
		if resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
			if s := resp.Header.Get("Retry-After"); s != "" {
				if secs, perr := strconv.Atoi(s); perr == nil && secs >= 0 {
					ra.next, ra.set = time.Duration(secs)*time.Second, true
				}
			}
			debug.Logf("github: rate limited on %s %s (attempt %d)\n", method, urlStr, attempt)
			return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		}
		if resp.StatusCode >= 500 {
			return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Body: string(data)})
		}
		respBody, headers = data, resp.Header
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && attempt > MaxRetries {
			return nil, nil, fmt.Errorf("max retries (%d) exceeded: %w", MaxRetries+1, err)
		}
		return nil, nil, err
	}
	return respBody, headers, nil
}

// linkNextPattern matches the "next" relation in GitHub Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextPage returns the next page URL from a Link header.
func nextPage(headers http.Header) (string, bool) {
	link := headers.Get("Link")
	if link == "" {
		return "", false
	}
	matches := linkNextPattern.FindStringSubmatch(link)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}

// getAll follows Link pagination from urlStr, decoding each page with add.
func (c *Client) getAll(ctx context.Context, urlStr string, add func([]byte) error) error {
	for page := 1; ; page++ {
		if page > MaxPages {
			return fmt.Errorf("pagination limit exceeded: stopped after %d pages", MaxPages)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		body, headers, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return err
		}
		if err := add(body); err != nil {
			return err
		}
		next, ok := nextPage(headers)
		if !ok {
			return nil
		}
		urlStr = next
	}
}

// FetchIssues retrieves every issue in the repository, open and closed.
// Pull requests are filtered out.
func (c *Client) FetchIssues(ctx context.Context) ([]Issue, error) {
	var all []Issue
	urlStr := c.buildURL(c.repoPath()+"/issues", map[string]string{
		"state":    "all",
		"per_page": strconv.Itoa(MaxPageSize),
	})
	err := c.getAll(ctx, urlStr, func(body []byte) error {
		var issues []Issue
		if err := json.Unmarshal(body, &issues); err != nil {
			return fmt.Errorf("failed to parse issues response: %w", err)
		}
		for i := range issues {
			if issues[i].PullRequest == nil {
				all = append(all, issues[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issues: %w", err)
	}
	return all, nil
}

// FetchIssueByNumber retrieves a single issue by its number.
func (c *Client) FetchIssueByNumber(ctx context.Context, number int) (*Issue, error) {
	urlStr := c.buildURL(c.repoPath()+"/issues/"+strconv.Itoa(number), nil)
	body, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issue #%d: %w", number, err)
	}
	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse issue response: %w", err)
	}
	return &issue, nil
}

// CreateIssue creates a new issue.
func (c *Client) CreateIssue(ctx context.Context, req *IssueRequest) (*Issue, error) {
	urlStr := c.buildURL(c.repoPath()+"/issues", nil)
	body, _, err := c.doRequest(ctx, http.MethodPost, urlStr, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse create response: %w", err)
	}
	return &issue, nil
}

// UpdateIssue patches an existing issue.
func (c *Client) UpdateIssue(ctx context.Context, number int, req *IssueRequest) (*Issue, error) {
	urlStr := c.buildURL(c.repoPath()+"/issues/"+strconv.Itoa(number), nil)
	body, _, err := c.doRequest(ctx, http.MethodPatch, urlStr, req)
	if err != nil {
		return nil, fmt.Errorf("failed to update issue #%d: %w", number, err)
	}
	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse update response: %w", err)
	}
	return &issue, nil
}

// ListMilestones retrieves every milestone, open and closed.
func (c *Client) ListMilestones(ctx context.Context) ([]Milestone, error) {
	var all []Milestone
	urlStr := c.buildURL(c.repoPath()+"/milestones", map[string]string{
		"state":    "all",
		"per_page": strconv.Itoa(MaxPageSize),
	})
	err := c.getAll(ctx, urlStr, func(body []byte) error {
		var ms []Milestone
		if err := json.Unmarshal(body, &ms); err != nil {
			return fmt.Errorf("failed to parse milestones response: %w", err)
		}
		all = append(all, ms...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	return all, nil
}
