// Package conflict detects and resolves textual merge-conflict markers left
// in record files by version-control merges.
//
// Only whole-file textual conflicts are handled here. Field-level conflicts
// found by the change analyzer are reported, never auto-resolved.
package conflict

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roadmapper/roadmap/internal/debug"
	"github.com/roadmapper/roadmap/internal/syncstate"
	"github.com/roadmapper/roadmap/internal/utils"
)

// Side selects which half of a conflict hunk is kept.
type Side string

const (
	Ours   Side = "ours"
	Theirs Side = "theirs"
)

// ParseSide parses "ours" or "theirs".
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case Ours:
		return Ours, nil
	case Theirs:
		return Theirs, nil
	}
	return "", fmt.Errorf("invalid side %q (valid: ours, theirs)", s)
}

var (
	markerStart = []byte("<<<<<<<")
	markerBase  = []byte("|||||||")
	markerSep   = []byte("=======")
	markerEnd   = []byte(">>>>>>>")
)

type markerKind int

const (
	notMarker markerKind = iota
	startMarker
	baseMarker
	sepMarker
	endMarker
)

func classify(line []byte) markerKind {
	trimmed := bytes.TrimRight(line, "\r\n")
	is := func(m []byte) bool {
		return bytes.Equal(trimmed, m) || (bytes.HasPrefix(trimmed, m) && len(trimmed) > len(m) && trimmed[len(m)] == ' ')
	}
	switch {
	case is(markerStart):
		return startMarker
	case is(markerBase):
		return baseMarker
	case bytes.Equal(trimmed, markerSep):
		return sepMarker
	case is(markerEnd):
		return endMarker
	}
	return notMarker
}

// HasConflictMarkers reports whether data contains a conflict start marker
// at the beginning of a line.
func HasConflictMarkers(data []byte) bool {
	for _, line := range bytes.SplitAfter(data, []byte("\n")) {
		if classify(line) == startMarker {
			return true
		}
	}
	return false
}

// Resolver resolves marker conflicts under Root and keeps the Tracker's
// conflict flags in step. Tracker may be nil.
type Resolver struct {
	Root    string
	Tracker *syncstate.Tracker
}

// New returns a Resolver for the records under root.
func New(root string, tracker *syncstate.Tracker) *Resolver {
	return &Resolver{Root: root, Tracker: tracker}
}

// DetectConflictMarkers walks dir and returns the files containing conflict
// markers, sorted. Dot directories are skipped.
func DetectConflictMarkers(dir string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path) // #nosec G304 -- walking the record directory
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if HasConflictMarkers(data) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan for conflict markers: %w", err)
	}
	sort.Strings(found)
	return found, nil
}

// ResolveBytes keeps the chosen side of every conflict hunk in data and drops
// the markers and any diff3 base section. ok is false for malformed input.
func ResolveBytes(data []byte, keep Side) (out []byte, ok bool) {
	const (
		outside = iota
		inOurs
		inBase
		inTheirs
	)
	state := outside
	var buf bytes.Buffer
	buf.Grow(len(data))
	for _, line := range bytes.SplitAfter(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		kind := classify(line)
		switch state {
		case outside:
			switch kind {
			case startMarker:
				state = inOurs
			case notMarker, sepMarker:
				buf.Write(line)
			default:
				return nil, false
			}
		case inOurs:
			switch kind {
			case notMarker:
				if keep == Ours {
					buf.Write(line)
				}
			case baseMarker:
				state = inBase
			case sepMarker:
				state = inTheirs
			default:
				return nil, false
			}
		case inBase:
			switch kind {
			case notMarker:
			case sepMarker:
				state = inTheirs
			default:
				return nil, false
			}
		case inTheirs:
			switch kind {
			case notMarker:
				if keep == Theirs {
					buf.Write(line)
				}
			case endMarker:
				state = outside
			default:
				return nil, false
			}
		}
	}
	if state != outside {
		return nil, false
	}
	return buf.Bytes(), true
}

// Resolve rewrites path keeping the chosen side of every hunk. It reports
// false on I/O errors or malformed markers and leaves the file untouched.
func (r *Resolver) Resolve(path string, keep Side) bool {
	if keep != Ours && keep != Theirs {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		debug.Logf("conflict: stat %s: %v\n", path, err)
		return false
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from DetectConflictMarkers or the user
	if err != nil {
		debug.Logf("conflict: read %s: %v\n", path, err)
		return false
	}
	out, ok := ResolveBytes(data, keep)
	if !ok {
		debug.Logf("conflict: malformed markers in %s\n", path)
		return false
	}
	if err := utils.WriteFileAtomic(path, out, info.Mode().Perm()); err != nil {
		debug.Logf("conflict: write %s: %v\n", path, err)
		return false
	}
	return true
}

// AutoResolveAll resolves every conflicted file under Root with policy. It
// returns true when no conflicted file remains. Files that could not be
// resolved stay flagged in the tracker.
func (r *Resolver) AutoResolveAll(ctx context.Context, policy Side) (bool, error) {
	files, err := DetectConflictMarkers(r.Root)
	if err != nil {
		return false, err
	}
	var remaining []string
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !r.Resolve(f, policy) {
			remaining = append(remaining, f)
		}
	}
	if r.Tracker != nil {
		if len(remaining) == 0 {
			err = r.Tracker.ClearConflicts(ctx)
		} else {
			err = r.Tracker.MarkConflictsDetected(ctx, remaining)
		}
		if err != nil {
			return len(remaining) == 0, fmt.Errorf("update conflict state: %w", err)
		}
	}
	return len(remaining) == 0, nil
}
