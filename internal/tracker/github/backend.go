package github

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/roadmapper/roadmap/internal/debug"
	"github.com/roadmapper/roadmap/internal/tracker"
	"github.com/roadmapper/roadmap/internal/types"
)

// Name is the registry name of this backend.
const Name = "github"

func init() {
	tracker.Register(Name, func(cfg *tracker.Config) (tracker.Backend, error) {
		return NewFromConfig(cfg)
	})
}

// Backend adapts a Client to tracker.Backend.
type Backend struct {
	client *Client

	mu         sync.Mutex
	milestones map[string]int // title -> number, loaded lazily
}

// New returns a backend over client.
func New(client *Client) *Backend {
	return &Backend{client: client}
}

// NewFromConfig builds a backend from the github.* config section.
func NewFromConfig(cfg *tracker.Config) (*Backend, error) {
	token, err := cfg.GetRequired("token")
	if err != nil {
		return nil, err
	}
	owner, err := cfg.GetRequired("owner")
	if err != nil {
		return nil, err
	}
	repo, err := cfg.GetRequired("repo")
	if err != nil {
		return nil, err
	}
	client := NewClient(token, owner, repo)
	if u := cfg.Get("api_url"); u != "" {
		client = client.WithBaseURL(u)
	}
	return New(client), nil
}

func (b *Backend) Name() string { return Name }

// FetchAll returns every issue in the repository.
func (b *Backend) FetchAll(ctx context.Context) ([]*types.Issue, error) {
	ghIssues, err := b.client.FetchIssues(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Issue, 0, len(ghIssues))
	for i := range ghIssues {
		out = append(out, ToIssue(&ghIssues[i]))
	}
	debug.Logf("github: fetched %d issues from %s/%s\n", len(out), b.client.Owner, b.client.Repo)
	return out, nil
}

// Create opens a new issue and returns its number. GitHub ignores state on
// create, so closed issues are closed with a follow-up update.
func (b *Backend) Create(ctx context.Context, issue *types.Issue) (string, error) {
	ms, err := b.milestoneNumber(ctx, issue.Milestone)
	if err != nil {
		return "", err
	}
	req := ToRequest(issue, "", ms)
	state := req.State
	req.State = ""
	created, err := b.client.CreateIssue(ctx, req)
	if err != nil {
		return "", err
	}
	if state == "closed" {
		if _, err := b.client.UpdateIssue(ctx, created.Number, &IssueRequest{
			State:     state,
			Labels:    req.Labels,
			Assignees: req.Assignees,
			Milestone: ms,
		}); err != nil {
			return "", fmt.Errorf("created #%d but failed to close it: %w", created.Number, err)
		}
	}
	return strconv.Itoa(created.Number), nil
}

// Update applies fields to an existing issue. The current issue is read
// first so untouched fields and the body below the headline survive.
func (b *Backend) Update(ctx context.Context, remoteID string, fields map[types.Field]any) error {
	number, err := strconv.Atoi(remoteID)
	if err != nil {
		return fmt.Errorf("invalid GitHub issue number %q", remoteID)
	}
	cur, err := b.client.FetchIssueByNumber(ctx, number)
	if err != nil {
		return err
	}
	view := ToIssue(cur)
	for f, v := range fields {
		view.Set(f, v)
	}
	ms, err := b.milestoneNumber(ctx, view.Milestone)
	if err != nil {
		return err
	}
	_, err = b.client.UpdateIssue(ctx, number, ToRequest(view, cur.Body, ms))
	return err
}

// milestoneNumber resolves a milestone title. An empty title resolves to nil.
func (b *Backend) milestoneNumber(ctx context.Context, title string) (*int, error) {
	if title == "" {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.milestones[title]; ok {
		return &n, nil
	}
	ms, err := b.client.ListMilestones(ctx)
	if err != nil {
		return nil, err
	}
	b.milestones = make(map[string]int, len(ms))
	for _, m := range ms {
		b.milestones[m.Title] = m.Number
	}
	n, ok := b.milestones[title]
	if !ok {
		return nil, fmt.Errorf("milestone %q not found in %s/%s", title, b.client.Owner, b.client.Repo)
	}
	return &n, nil
}
