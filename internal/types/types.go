// Package types defines core data structures for the roadmap sync engine.
package types

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// Issue represents a trackable work item, either a local record or a remote
// tracker item.
type Issue struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    Status    `json:"status,omitempty"`
	Assignee  string    `json:"assignee,omitempty"`
	Milestone string    `json:"milestone,omitempty"`
	Headline  string    `json:"headline,omitempty"`
	Labels    []string  `json:"labels,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// RemoteID is the remote tracker's identifier. Set on remote issues and
	// on local issues that have been linked.
	RemoteID string `json:"remote_id,omitempty"`
	// Path is the record file backing a local issue. Not a synced field.
	Path string `json:"-"`
}

// Validate checks if the issue has valid field values
func (i *Issue) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(i.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(i.Title))
	}
	if i.Status != "" && !i.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	return nil
}

// Clone returns a deep copy of the issue.
func (i *Issue) Clone() *Issue {
	if i == nil {
		return nil
	}
	c := *i
	c.Labels = slices.Clone(i.Labels)
	return &c
}

// Get returns the value of a tracked field.
func (i *Issue) Get(f Field) any {
	switch f {
	case FieldTitle:
		return i.Title
	case FieldStatus:
		return string(i.Status)
	case FieldAssignee:
		return i.Assignee
	case FieldMilestone:
		return i.Milestone
	case FieldHeadline:
		return i.Headline
	case FieldLabels:
		return NormalizeLabels(i.Labels)
	}
	return nil
}

// Set assigns a tracked field from a value produced by Get.
func (i *Issue) Set(f Field, v any) {
	switch f {
	case FieldTitle:
		i.Title, _ = v.(string)
	case FieldStatus:
		s, _ := v.(string)
		i.Status = Status(s)
	case FieldAssignee:
		i.Assignee, _ = v.(string)
	case FieldMilestone:
		i.Milestone, _ = v.(string)
	case FieldHeadline:
		i.Headline, _ = v.(string)
	case FieldLabels:
		labels, _ := v.([]string)
		i.Labels = NormalizeLabels(labels)
	}
}

// Status represents the current state of an issue
type Status string

// Issue status constants
const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
	StatusArchived   Status = "archived"
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusClosed, StatusArchived:
		return true
	}
	return false
}

// IsClosed reports whether the status represents finished work.
func (s Status) IsClosed() bool {
	return s == StatusClosed || s == StatusArchived
}

// Field names a tracked, synchronizable issue field.
type Field string

// Tracked fields, in the order they are analyzed.
const (
	FieldTitle     Field = "title"
	FieldStatus    Field = "status"
	FieldAssignee  Field = "assignee"
	FieldMilestone Field = "milestone"
	FieldHeadline  Field = "headline"
	FieldLabels    Field = "labels"
)

// TrackedFields lists every field the sync engine compares.
var TrackedFields = []Field{
	FieldTitle,
	FieldStatus,
	FieldAssignee,
	FieldMilestone,
	FieldHeadline,
	FieldLabels,
}

// NormalizeLabels returns labels sorted, trimmed, and de-duplicated.
// Labels behave as a set, so two issues with the same labels in different
// order compare equal.
func NormalizeLabels(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// ValuesEqual compares two tracked-field values as returned by Issue.Get.
func ValuesEqual(a, b any) bool {
	al, aIsList := a.([]string)
	bl, bIsList := b.([]string)
	if aIsList || bIsList {
		return slices.Equal(NormalizeLabels(al), NormalizeLabels(bl))
	}
	return a == b
}
