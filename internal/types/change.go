package types

import (
	"fmt"
	"sort"
	"strings"
)

// Direction says which replica a change flows toward.
type Direction string

const (
	DirectionNone Direction = ""
	DirectionPush Direction = "push" // local → remote
	DirectionPull Direction = "pull" // remote → local
)

// ChangeKind tags the variant held by a Change.
type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	ChangeCreate
	ChangeUpdate
	ChangeConflict
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreate:
		return "create"
	case ChangeUpdate:
		return "update"
	case ChangeConflict:
		return "conflict"
	}
	return "none"
}

// FieldChange is the classification of one tracked field.
type FieldChange struct {
	Old       any       `json:"old,omitempty"`
	New       any       `json:"new,omitempty"`
	Direction Direction `json:"direction"`
}

// Change is the analysis result for one entity. It is transient and never
// persisted.
//
//   - ChangeCreate: entity exists on one side only; Direction says where it
//     must be created.
//   - ChangeUpdate: FieldChanges holds the per-field push/pull decisions.
//   - ChangeConflict: ConflictingFields is non-empty; FieldChanges may still
//     hold non-conflicting fields, which are not applied.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	IssueID   string     `json:"issue_id"`
	RemoteID  string     `json:"remote_id,omitempty"`
	Title     string     `json:"title"`
	Direction Direction  `json:"direction,omitempty"`

	FieldChanges      map[Field]FieldChange `json:"field_changes,omitempty"`
	ConflictingFields map[Field]struct{}    `json:"-"`

	// Local and Remote are the current views, carried for the apply phase.
	Local  *Issue `json:"-"`
	Remote *Issue `json:"-"`
}

// HasConflict reports whether any field conflicts.
func (c *Change) HasConflict() bool {
	return len(c.ConflictingFields) > 0
}

// RequiresPush reports whether the remote side must be written.
func (c *Change) RequiresPush() bool {
	if c.HasConflict() {
		return false
	}
	if c.Kind == ChangeCreate {
		return c.Direction == DirectionPush
	}
	return len(c.fieldsToward(DirectionPush)) > 0
}

// RequiresPull reports whether the local side must be written.
func (c *Change) RequiresPull() bool {
	if c.HasConflict() {
		return false
	}
	if c.Kind == ChangeCreate {
		return c.Direction == DirectionPull
	}
	return len(c.fieldsToward(DirectionPull)) > 0
}

// PushFields returns the fields to write remotely, with their new values.
func (c *Change) PushFields() map[Field]any {
	return c.fieldsToward(DirectionPush)
}

// PullFields returns the fields to write locally, with their new values.
func (c *Change) PullFields() map[Field]any {
	return c.fieldsToward(DirectionPull)
}

// Conflicts returns the conflicting field names, sorted.
func (c *Change) Conflicts() []Field {
	out := make([]Field, 0, len(c.ConflictingFields))
	for f := range c.ConflictingFields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Change) fieldsToward(d Direction) map[Field]any {
	out := make(map[Field]any)
	for f, fc := range c.FieldChanges {
		if fc.Direction == d {
			out[f] = fc.New
		}
	}
	return out
}

// String renders a one-line summary, used for dry-run previews.
func (c *Change) String() string {
	switch c.Kind {
	case ChangeCreate:
		where := "remote"
		if c.Direction == DirectionPull {
			where = "local"
		}
		return fmt.Sprintf("create %s %q on %s", c.IssueID, c.Title, where)
	case ChangeConflict:
		names := make([]string, 0, len(c.ConflictingFields))
		for _, f := range c.Conflicts() {
			names = append(names, string(f))
		}
		return fmt.Sprintf("conflict %s %q: %s", c.IssueID, c.Title, strings.Join(names, ", "))
	case ChangeUpdate:
		var parts []string
		for _, f := range TrackedFields {
			fc, ok := c.FieldChanges[f]
			if !ok {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s:%s", fc.Direction, f))
		}
		return fmt.Sprintf("update %s %q: %s", c.IssueID, c.Title, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("unchanged %s", c.IssueID)
}
