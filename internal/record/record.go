// Package record reads and writes the local work-item records: Markdown files
// with a YAML front matter header holding the tracked fields and the sync
// metadata block.
package record

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roadmapper/roadmap/internal/types"
)

const delimiter = "---"

// ErrNoFrontMatter is returned for files that do not start with a YAML header.
var ErrNoFrontMatter = errors.New("missing front matter")

// ParseError reports a record that could not be parsed. Callers isolate it to
// the one entity and keep going.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse record %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SyncMetadata is the per-record sync bookkeeping.
type SyncMetadata struct {
	LastSynced  time.Time             `yaml:"last_synced,omitempty"`
	RemoteState *types.IssueBaseState `yaml:"remote_state,omitempty"`
}

// Record is a parsed local record.
type Record struct {
	Path  string
	Issue *types.Issue
	Sync  *SyncMetadata
	// Body is everything after the front matter, preserved byte for byte.
	Body []byte
}

type frontMatter struct {
	ID           string        `yaml:"id"`
	Title        string        `yaml:"title"`
	Status       types.Status  `yaml:"status,omitempty"`
	Assignee     string        `yaml:"assignee,omitempty"`
	Milestone    string        `yaml:"milestone,omitempty"`
	Headline     string        `yaml:"headline,omitempty"`
	Labels       []string      `yaml:"labels,omitempty,flow"`
	Created      time.Time     `yaml:"created,omitempty"`
	Updated      time.Time     `yaml:"updated,omitempty"`
	SyncMetadata *SyncMetadata `yaml:"sync_metadata,omitempty"`
}

// Parse decodes record content. path is only used for error reporting and to
// populate Record.Path.
func Parse(path string, data []byte) (*Record, error) {
	header, body, err := split(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	var raw map[string]any
	if err := yaml.Unmarshal(header, &raw); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if err := validateFrontMatter(raw); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	var fm frontMatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if fm.Status == "" {
		fm.Status = types.StatusOpen
	}

	issue := &types.Issue{
		ID:        fm.ID,
		Title:     fm.Title,
		Status:    fm.Status,
		Assignee:  fm.Assignee,
		Milestone: fm.Milestone,
		Headline:  fm.Headline,
		Labels:    types.NormalizeLabels(fm.Labels),
		CreatedAt: fm.Created.UTC(),
		UpdatedAt: fm.Updated.UTC(),
		Path:      path,
	}
	if issue.UpdatedAt.IsZero() {
		issue.UpdatedAt = issue.CreatedAt
	}
	if fm.SyncMetadata != nil && fm.SyncMetadata.RemoteState != nil {
		issue.RemoteID = fm.SyncMetadata.RemoteState.ID
	}
	return &Record{Path: path, Issue: issue, Sync: fm.SyncMetadata, Body: body}, nil
}

// Marshal encodes a record. The body is appended unchanged.
func Marshal(rec *Record) ([]byte, error) {
	if rec == nil || rec.Issue == nil {
		return nil, fmt.Errorf("marshal record: nil issue")
	}
	is := rec.Issue
	fm := frontMatter{
		ID:           is.ID,
		Title:        is.Title,
		Status:       is.Status,
		Assignee:     is.Assignee,
		Milestone:    is.Milestone,
		Headline:     is.Headline,
		Labels:       types.NormalizeLabels(is.Labels),
		Created:      is.CreatedAt.UTC(),
		Updated:      is.UpdatedAt.UTC(),
		SyncMetadata: rec.Sync,
	}
	if fm.SyncMetadata != nil {
		sm := *fm.SyncMetadata
		sm.LastSynced = sm.LastSynced.UTC()
		if sm.RemoteState != nil {
			rs := *sm.RemoteState
			rs.Labels = types.NormalizeLabels(rs.Labels)
			rs.UpdatedAt = rs.UpdatedAt.UTC()
			sm.RemoteState = &rs
		}
		fm.SyncMetadata = &sm
	}

	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&fm); err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", is.ID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteString(delimiter + "\n")
	buf.Write(rec.Body)
	return buf.Bytes(), nil
}

// RemoteBaseline returns the embedded remote snapshot, or nil on first sync.
func (r *Record) RemoteBaseline() *types.IssueBaseState {
	if r.Sync == nil || r.Sync.RemoteState == nil {
		return nil
	}
	rs := *r.Sync.RemoteState
	return &rs
}

// LastSynced returns the record's last successful sync time, or zero.
func (r *Record) LastSynced() time.Time {
	if r.Sync == nil {
		return time.Time{}
	}
	return r.Sync.LastSynced
}

// SetRemoteState replaces the embedded remote snapshot and stamps the sync
// time. Called only for entities that synced without conflict.
func (r *Record) SetRemoteState(state *types.IssueBaseState, syncedAt time.Time) {
	r.Sync = &SyncMetadata{LastSynced: syncedAt.UTC(), RemoteState: state}
	if state != nil {
		r.Issue.RemoteID = state.ID
	}
}

func split(data []byte) (header, body []byte, err error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	first, rest, more := cutLine(data)
	if !isDelimiter(first) {
		return nil, nil, ErrNoFrontMatter
	}
	for pos := 0; more; {
		var line []byte
		line, _, more = cutLine(rest[pos:])
		if isDelimiter(line) {
			end := pos + len(line)
			if more {
				end++
			}
			return rest[:pos], rest[end:], nil
		}
		pos += len(line) + 1
	}
	return nil, nil, fmt.Errorf("unterminated front matter")
}

// cutLine splits off the first line (without its newline).
func cutLine(b []byte) (line, rest []byte, more bool) {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i], b[i+1:], true
	}
	return b, nil, false
}

func isDelimiter(line []byte) bool {
	return string(bytes.TrimRight(line, " \t\r")) == delimiter
}
