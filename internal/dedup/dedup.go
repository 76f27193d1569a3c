// Package dedup collapses exact and fuzzy duplicate issues within a set and
// detects duplicates that appear in both the local and remote sets under
// different identities.
package dedup

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/roadmapper/roadmap/internal/types"
)

// Default policy values.
const (
	DefaultSimilarityThreshold = 0.9
	DefaultWindow              = 24 * time.Hour
)

// Policy configures duplicate detection.
type Policy struct {
	// SimilarityThreshold is the minimum token Jaccard similarity of two
	// normalized titles for them to count as duplicates.
	SimilarityThreshold float64
	// Window bounds how far apart two issues may have been created.
	Window time.Duration
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{SimilarityThreshold: DefaultSimilarityThreshold, Window: DefaultWindow}
}

// Removal records a collapsed duplicate and the issue that absorbed it.
type Removal struct {
	Removed    *types.Issue
	KeptID     string
	Similarity float64
}

// Result is the outcome of deduplicating one set.
type Result struct {
	Survivors []*types.Issue
	Removed   []Removal
	Before    int
	After     int
}

// ReductionPercent returns the share of the input that was collapsed.
func (r Result) ReductionPercent() float64 {
	if r.Before == 0 {
		return 0
	}
	return float64(r.Before-r.After) / float64(r.Before) * 100
}

// CrossSetPair is a local and a remote issue that look like the same work
// item but are not linked to each other.
type CrossSetPair struct {
	Local      *types.Issue
	Remote     *types.Issue
	Similarity float64
}

// Deduplicator applies a Policy. The zero value uses the default policy.
type Deduplicator struct {
	Policy Policy
}

// New returns a Deduplicator, filling unset policy fields with defaults.
func New(p Policy) *Deduplicator {
	if p.SimilarityThreshold <= 0 || p.SimilarityThreshold > 1 {
		p.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return &Deduplicator{Policy: p}
}

// DedupLocal collapses duplicates within the local set.
func (d *Deduplicator) DedupLocal(issues []*types.Issue) Result {
	return d.dedup(issues)
}

// DedupRemote collapses duplicates within the fetched remote set.
func (d *Deduplicator) DedupRemote(issues []*types.Issue) Result {
	return d.dedup(issues)
}

// dedup keeps, for every group of duplicates, the most recently updated
// issue. Ties go to the lexicographically smaller ID. Survivors keep their
// input order.
func (d *Deduplicator) dedup(issues []*types.Issue) Result {
	res := Result{Before: len(issues)}
	if len(issues) == 0 {
		return res
	}

	order := make([]int, len(issues))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return preferred(issues[order[a]], issues[order[b]])
	})

	tokens := make([]map[string]struct{}, len(issues))
	norms := make([]string, len(issues))
	for i, is := range issues {
		norms[i] = Normalize(is.Title)
		tokens[i] = tokenize(norms[i])
	}

	kept := make([]int, 0, len(issues))
	keep := make([]bool, len(issues))
	for _, i := range order {
		absorbed := false
		for _, k := range kept {
			sim, ok := d.match(issues[k], issues[i], norms[k], norms[i], tokens[k], tokens[i])
			if !ok {
				continue
			}
			res.Removed = append(res.Removed, Removal{Removed: issues[i], KeptID: issues[k].ID, Similarity: sim})
			absorbed = true
			break
		}
		if !absorbed {
			kept = append(kept, i)
			keep[i] = true
		}
	}

	for i, is := range issues {
		if keep[i] {
			res.Survivors = append(res.Survivors, is)
		}
	}
	res.After = len(res.Survivors)
	return res
}

// CrossSetDuplicates reports unlinked local/remote pairs that are judged
// duplicates. linked reports whether a local issue is already linked to a
// remote one; linked pairs are never reported. Nothing is merged.
func (d *Deduplicator) CrossSetDuplicates(local, remote []*types.Issue, linked func(localID, remoteID string) bool) []CrossSetPair {
	var pairs []CrossSetPair
	remoteNorms := make([]string, len(remote))
	remoteTokens := make([]map[string]struct{}, len(remote))
	for j, r := range remote {
		remoteNorms[j] = Normalize(r.Title)
		remoteTokens[j] = tokenize(remoteNorms[j])
	}
	for _, l := range local {
		if l.RemoteID != "" {
			continue
		}
		ln := Normalize(l.Title)
		lt := tokenize(ln)
		for j, r := range remote {
			if linked != nil && linked(l.ID, r.RemoteID) {
				continue
			}
			sim, ok := d.similar(ln, remoteNorms[j], lt, remoteTokens[j])
			if !ok || !d.withinWindow(l, r) {
				continue
			}
			pairs = append(pairs, CrossSetPair{Local: l, Remote: r, Similarity: sim})
		}
	}
	return pairs
}

func (d *Deduplicator) match(a, b *types.Issue, an, bn string, at, bt map[string]struct{}) (float64, bool) {
	if a.ID != "" && a.ID == b.ID {
		return 1, true
	}
	sim, ok := d.similar(an, bn, at, bt)
	if !ok {
		return 0, false
	}
	return sim, d.withinWindow(a, b)
}

func (d *Deduplicator) similar(an, bn string, at, bt map[string]struct{}) (float64, bool) {
	if an == "" || bn == "" {
		return 0, false
	}
	if an == bn {
		return 1, true
	}
	sim := jaccard(at, bt)
	return sim, sim >= d.threshold()
}

func (d *Deduplicator) withinWindow(a, b *types.Issue) bool {
	ta, tb := a.CreatedAt, b.CreatedAt
	if ta.IsZero() || tb.IsZero() {
		ta, tb = a.UpdatedAt, b.UpdatedAt
	}
	delta := ta.Sub(tb)
	if delta < 0 {
		delta = -delta
	}
	window := d.Policy.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return delta <= window
}

func (d *Deduplicator) threshold() float64 {
	if d.Policy.SimilarityThreshold <= 0 {
		return DefaultSimilarityThreshold
	}
	return d.Policy.SimilarityThreshold
}

// preferred reports whether a should survive over b.
func preferred(a, b *types.Issue) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

// Normalize lowercases s, turns every non-alphanumeric rune into a space and
// collapses runs of spaces.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(' ')
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tokenize(normalized string) map[string]struct{} {
	parts := strings.Fields(normalized)
	if len(parts) == 0 {
		return nil
	}
	tokens := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		tokens[p] = struct{}{}
	}
	return tokens
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
