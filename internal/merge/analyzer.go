// Package merge classifies per-field changes between the local and remote
// views of an issue against their last-synced baselines.
package merge

import (
	"github.com/roadmapper/roadmap/internal/types"
)

// Input is everything the analyzer needs for one entity. Any of the four
// views may be nil.
type Input struct {
	IssueID    string
	LocalBase  *types.IssueBaseState
	RemoteBase *types.IssueBaseState
	Local      *types.Issue
	Remote     *types.Issue
}

// Analyze classifies one entity. It is pure: the same input always yields the
// same change.
//
// Per field, with both sides present:
//   - equal on both sides: no-op, including convergent edits
//   - changed on one side only: push or pull toward the other
//   - changed on both sides: conflict
//
// When exactly one baseline is missing, the present one is the reference for
// both sides and any field on which the unbaselined side differs from it is a
// conflict. With no baseline at all, every differing field is a conflict.
func Analyze(in Input) *types.Change {
	c := &types.Change{
		IssueID:           in.IssueID,
		FieldChanges:      make(map[types.Field]types.FieldChange),
		ConflictingFields: make(map[types.Field]struct{}),
		Local:             in.Local,
		Remote:            in.Remote,
	}
	switch {
	case in.Local != nil:
		c.Title = in.Local.Title
		c.RemoteID = in.Local.RemoteID
	case in.Remote != nil:
		c.Title = in.Remote.Title
	}
	if in.Remote != nil && in.Remote.RemoteID != "" {
		c.RemoteID = in.Remote.RemoteID
	}

	switch {
	case in.Local == nil && in.Remote == nil:
		c.Kind = types.ChangeNone
		return c
	case in.Remote == nil:
		if in.RemoteBase != nil {
			// Synced before but absent from this fetch. Remote deletions
			// are not propagated.
			c.Kind = types.ChangeNone
			return c
		}
		c.Kind = types.ChangeCreate
		c.Direction = types.DirectionPush
		return c
	case in.Local == nil:
		c.Kind = types.ChangeCreate
		c.Direction = types.DirectionPull
		return c
	}

	for _, f := range types.TrackedFields {
		classifyField(c, f, in)
	}

	switch {
	case c.HasConflict():
		c.Kind = types.ChangeConflict
	case len(c.FieldChanges) > 0:
		c.Kind = types.ChangeUpdate
	default:
		c.Kind = types.ChangeNone
	}
	return c
}

func classifyField(c *types.Change, f types.Field, in Input) {
	local := in.Local.Get(f)
	remote := in.Remote.Get(f)
	if types.ValuesEqual(local, remote) {
		return
	}

	lb, rb := in.LocalBase, in.RemoteBase
	switch {
	case lb != nil && rb != nil:
		localChanged := !types.ValuesEqual(local, lb.Get(f))
		remoteChanged := !types.ValuesEqual(remote, rb.Get(f))
		switch {
		case localChanged && remoteChanged:
			c.ConflictingFields[f] = struct{}{}
		case localChanged:
			c.FieldChanges[f] = types.FieldChange{Old: remote, New: local, Direction: types.DirectionPush}
		case remoteChanged:
			c.FieldChanges[f] = types.FieldChange{Old: local, New: remote, Direction: types.DirectionPull}
		default:
			// Both match their own baseline yet differ from each other:
			// the baselines disagree, so neither side can be trusted.
			c.ConflictingFields[f] = struct{}{}
		}

	case lb != nil:
		base := lb.Get(f)
		if types.ValuesEqual(remote, base) {
			c.FieldChanges[f] = types.FieldChange{Old: remote, New: local, Direction: types.DirectionPush}
		} else {
			c.ConflictingFields[f] = struct{}{}
		}

	case rb != nil:
		base := rb.Get(f)
		if types.ValuesEqual(local, base) {
			c.FieldChanges[f] = types.FieldChange{Old: local, New: remote, Direction: types.DirectionPull}
		} else {
			c.ConflictingFields[f] = struct{}{}
		}

	default:
		c.ConflictingFields[f] = struct{}{}
	}
}

// AnalyzeAll runs Analyze over inputs and drops no-op results.
func AnalyzeAll(inputs []Input) []*types.Change {
	var out []*types.Change
	for _, in := range inputs {
		if c := Analyze(in); c.Kind != types.ChangeNone {
			out = append(out, c)
		}
	}
	return out
}
