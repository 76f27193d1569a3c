package types

import "time"

// IssueBaseState is the tracked-field snapshot of an issue as it was at the
// last successful sync. The local flavor comes from version-control history;
// the remote flavor is embedded in the record's sync metadata.
type IssueBaseState struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Status    Status    `json:"status,omitempty" yaml:"status,omitempty"`
	Assignee  string    `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Milestone string    `json:"milestone,omitempty" yaml:"milestone,omitempty"`
	Headline  string    `json:"headline,omitempty" yaml:"headline,omitempty"`
	Labels    []string  `json:"labels,omitempty" yaml:"labels,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// BaseStateOf snapshots the tracked fields of issue. The snapshot's ID is the
// remote ID when one is known, otherwise the issue ID.
func BaseStateOf(issue *Issue) *IssueBaseState {
	if issue == nil {
		return nil
	}
	id := issue.RemoteID
	if id == "" {
		id = issue.ID
	}
	return &IssueBaseState{
		ID:        id,
		Title:     issue.Title,
		Status:    issue.Status,
		Assignee:  issue.Assignee,
		Milestone: issue.Milestone,
		Headline:  issue.Headline,
		Labels:    NormalizeLabels(issue.Labels),
		UpdatedAt: issue.UpdatedAt.UTC(),
	}
}

// Get returns the value of a tracked field, in the same representation as
// Issue.Get.
func (b *IssueBaseState) Get(f Field) any {
	return b.asIssue().Get(f)
}

// Equal reports whether both snapshots hold the same tracked-field values.
func (b *IssueBaseState) Equal(o *IssueBaseState) bool {
	if b == nil || o == nil {
		return b == o
	}
	for _, f := range TrackedFields {
		if !ValuesEqual(b.Get(f), o.Get(f)) {
			return false
		}
	}
	return true
}

func (b *IssueBaseState) asIssue() *Issue {
	return &Issue{
		ID:        b.ID,
		Title:     b.Title,
		Status:    b.Status,
		Assignee:  b.Assignee,
		Milestone: b.Milestone,
		Headline:  b.Headline,
		Labels:    b.Labels,
		UpdatedAt: b.UpdatedAt,
	}
}

// SyncState is the baseline view for one sync run. It is built fresh by a
// baseline provider and not mutated afterwards.
type SyncState struct {
	LastSync time.Time
	Backend  string
	Local    map[string]*IssueBaseState // keyed by local issue ID
	Remote   map[string]*IssueBaseState // keyed by local issue ID
}

// NewSyncState returns an empty state for backend.
func NewSyncState(backend string, lastSync time.Time) *SyncState {
	return &SyncState{
		LastSync: lastSync,
		Backend:  backend,
		Local:    make(map[string]*IssueBaseState),
		Remote:   make(map[string]*IssueBaseState),
	}
}
