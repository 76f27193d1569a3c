package github

import (
	"strconv"
	"strings"

	"github.com/roadmapper/roadmap/internal/types"
)

// labelStatuses are the statuses carried as status labels. Open needs no
// label and closed is the issue state.
var labelStatuses = map[types.Status]bool{
	types.StatusInProgress: true,
	types.StatusBlocked:    true,
	types.StatusArchived:   true,
}

// ParseLabelName extracts prefix and value from a label like "status:blocked"
// or "status/blocked".
func ParseLabelName(label string) (prefix, value string) {
	if p, v, ok := strings.Cut(label, ":"); ok {
		return p, v
	}
	if p, v, ok := strings.Cut(label, "/"); ok {
		return p, v
	}
	return "", label
}

// statusFromLabel returns the status a status label encodes, or "".
func statusFromLabel(name string) types.Status {
	prefix, value := ParseLabelName(name)
	if prefix != "status" {
		return ""
	}
	s := types.Status(strings.ReplaceAll(strings.ToLower(value), "-", "_"))
	if labelStatuses[s] {
		return s
	}
	return ""
}

// StatusFromLabelsAndState determines the roadmap status. Closed state wins
// over status labels, except that an archived label marks a closed issue as
// archived.
func StatusFromLabelsAndState(labels []Label, state string) types.Status {
	var labeled types.Status
	for _, l := range labels {
		if s := statusFromLabel(l.Name); s != "" {
			labeled = s
			break
		}
	}
	if state == "closed" {
		if labeled == types.StatusArchived {
			return types.StatusArchived
		}
		return types.StatusClosed
	}
	if labeled != "" && labeled != types.StatusArchived {
		return labeled
	}
	return types.StatusOpen
}

// FilterStatusLabels returns labels without status:* entries.
func FilterStatusLabels(labels []string) []string {
	var out []string
	for _, l := range labels {
		if prefix, _ := ParseLabelName(l); prefix == "status" {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Headline returns the first line of body.
func Headline(body string) string {
	line, _, _ := strings.Cut(body, "\n")
	return strings.TrimSpace(strings.TrimSuffix(line, "\r"))
}

// WithHeadline replaces the first line of body with headline.
func WithHeadline(body, headline string) string {
	_, rest, found := strings.Cut(body, "\n")
	if !found {
		return headline
	}
	return headline + "\n" + rest
}

// ToIssue converts a GitHub issue to a roadmap remote issue.
func ToIssue(gh *Issue) *types.Issue {
	id := strconv.Itoa(gh.Number)
	is := &types.Issue{
		ID:       id,
		RemoteID: id,
		Title:    gh.Title,
		Status:   StatusFromLabelsAndState(gh.Labels, gh.State),
		Headline: Headline(gh.Body),
		Labels:   types.NormalizeLabels(FilterStatusLabels(LabelNames(gh.Labels))),
	}
	switch {
	case gh.Assignee != nil:
		is.Assignee = gh.Assignee.Login
	case len(gh.Assignees) > 0:
		is.Assignee = gh.Assignees[0].Login
	}
	if gh.Milestone != nil {
		is.Milestone = gh.Milestone.Title
	}
	if gh.CreatedAt != nil {
		is.CreatedAt = gh.CreatedAt.UTC()
	}
	if gh.UpdatedAt != nil {
		is.UpdatedAt = gh.UpdatedAt.UTC()
	}
	return is
}

// ToRequest builds the create/update body for issue. body is the current
// issue body, whose first line is replaced by the headline. milestone is
// the resolved milestone number, or nil to clear it.
func ToRequest(issue *types.Issue, body string, milestone *int) *IssueRequest {
	labels := make([]string, 0, len(issue.Labels)+1)
	labels = append(labels, FilterStatusLabels(issue.Labels)...)
	if labelStatuses[issue.Status] {
		labels = append(labels, StatusLabelPrefix+string(issue.Status))
	}

	state := "open"
	if issue.Status.IsClosed() {
		state = "closed"
	}

	assignees := make([]string, 0, 1)
	if issue.Assignee != "" {
		assignees = append(assignees, issue.Assignee)
	}

	b := WithHeadline(body, issue.Headline)
	return &IssueRequest{
		Title:     issue.Title,
		Body:      &b,
		State:     state,
		Labels:    labels,
		Assignees: assignees,
		Milestone: milestone,
	}
}
