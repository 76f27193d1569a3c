package github

import (
	"reflect"
	"testing"
	"time"

	"github.com/roadmapper/roadmap/internal/types"
)

func labels(names ...string) []Label {
	out := make([]Label, len(names))
	for i, n := range names {
		out[i] = Label{Name: n}
	}
	return out
}

func TestStatusFromLabelsAndState(t *testing.T) {
	tests := []struct {
		name   string
		labels []Label
		state  string
		want   types.Status
	}{
		{"open", nil, "open", types.StatusOpen},
		{"closed", nil, "closed", types.StatusClosed},
		{"in progress label", labels("bug", "status:in_progress"), "open", types.StatusInProgress},
		{"dashed label", labels("status/in-progress"), "open", types.StatusInProgress},
		{"blocked", labels("status:blocked"), "open", types.StatusBlocked},
		{"closed wins", labels("status:blocked"), "closed", types.StatusClosed},
		{"archived", labels("status:archived"), "closed", types.StatusArchived},
		{"archived label on open issue", labels("status:archived"), "open", types.StatusOpen},
		{"unknown status label", labels("status:wontfix"), "open", types.StatusOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFromLabelsAndState(tt.labels, tt.state); got != tt.want {
				t.Errorf("StatusFromLabelsAndState() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHeadline(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{"", ""},
		{"One line", "One line"},
		{"Summary\r\n\r\nDetails", "Summary"},
		{"  padded  \nrest", "padded"},
	}
	for _, tt := range tests {
		if got := Headline(tt.body); got != tt.want {
			t.Errorf("Headline(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestWithHeadline(t *testing.T) {
	tests := []struct {
		body, headline, want string
	}{
		{"", "New", "New"},
		{"Old", "New", "New"},
		{"Old\n\nDetails", "New", "New\n\nDetails"},
		{"Old\nDetails", "", "\nDetails"},
	}
	for _, tt := range tests {
		got := WithHeadline(tt.body, tt.headline)
		if got != tt.want {
			t.Errorf("WithHeadline(%q, %q) = %q, want %q", tt.body, tt.headline, got, tt.want)
		}
		if Headline(got) != tt.headline {
			t.Errorf("Headline(WithHeadline(%q, %q)) = %q", tt.body, tt.headline, Headline(got))
		}
	}
}

func TestToIssue(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	gh := &Issue{
		Number:    42,
		Title:     "Fix login",
		Body:      "Users cannot sign in\n\nSteps...",
		State:     "open",
		Labels:    labels("status:blocked", "ui", "bug"),
		Assignees: []User{{Login: "alice"}},
		Milestone: &Milestone{Number: 3, Title: "v1.0"},
		CreatedAt: &created,
		UpdatedAt: &created,
	}

	is := ToIssue(gh)
	if is.ID != "42" || is.RemoteID != "42" {
		t.Errorf("ID = %q, RemoteID = %q; want 42", is.ID, is.RemoteID)
	}
	if is.Status != types.StatusBlocked {
		t.Errorf("Status = %q, want blocked", is.Status)
	}
	if is.Assignee != "alice" {
		t.Errorf("Assignee = %q, want alice", is.Assignee)
	}
	if is.Milestone != "v1.0" {
		t.Errorf("Milestone = %q, want v1.0", is.Milestone)
	}
	if is.Headline != "Users cannot sign in" {
		t.Errorf("Headline = %q", is.Headline)
	}
	if want := []string{"bug", "ui"}; !reflect.DeepEqual(is.Labels, want) {
		t.Errorf("Labels = %v, want %v", is.Labels, want)
	}
	if !is.UpdatedAt.Equal(created) {
		t.Errorf("UpdatedAt = %v, want %v", is.UpdatedAt, created)
	}
}

func TestToRequest(t *testing.T) {
	ms := 3
	is := &types.Issue{
		Title:    "Fix login",
		Status:   types.StatusInProgress,
		Assignee: "bob",
		Headline: "New summary",
		Labels:   []string{"bug", "status:blocked"},
	}

	req := ToRequest(is, "Old summary\nDetails", &ms)
	if req.State != "open" {
		t.Errorf("State = %q, want open", req.State)
	}
	if want := []string{"bug", "status:in_progress"}; !reflect.DeepEqual(req.Labels, want) {
		t.Errorf("Labels = %v, want %v", req.Labels, want)
	}
	if want := []string{"bob"}; !reflect.DeepEqual(req.Assignees, want) {
		t.Errorf("Assignees = %v, want %v", req.Assignees, want)
	}
	if req.Body == nil || *req.Body != "New summary\nDetails" {
		t.Errorf("Body = %v", req.Body)
	}
	if req.Milestone == nil || *req.Milestone != 3 {
		t.Errorf("Milestone = %v, want 3", req.Milestone)
	}

	is.Status = types.StatusClosed
	is.Assignee = ""
	req = ToRequest(is, "", nil)
	if req.State != "closed" {
		t.Errorf("State = %q, want closed", req.State)
	}
	if len(req.Assignees) != 0 || req.Assignees == nil {
		t.Errorf("Assignees = %#v, want empty non-nil slice", req.Assignees)
	}
	if want := []string{"bug"}; !reflect.DeepEqual(req.Labels, want) {
		t.Errorf("Labels = %v, want %v", req.Labels, want)
	}
}

func TestRoundTripThroughRequest(t *testing.T) {
	is := &types.Issue{
		Title:    "Ship it",
		Status:   types.StatusArchived,
		Headline: "Done",
		Labels:   []string{"release"},
	}
	req := ToRequest(is, "", nil)

	gh := &Issue{Number: 1, Title: req.Title, Body: *req.Body, State: req.State, Labels: labels(req.Labels...)}
	back := ToIssue(gh)
	if back.Status != is.Status || back.Headline != is.Headline || !reflect.DeepEqual(back.Labels, is.Labels) {
		t.Errorf("round trip = %+v, want %+v", back, is)
	}
}
