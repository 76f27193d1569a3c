// Package git reads file content from version-control history. It shells out
// to the git binary and never writes to the repository.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/roadmapper/roadmap/internal/debug"
)

var (
	// ErrHistoryUnavailable means git is missing or the directory is not
	// inside a repository. Callers degrade to snapshot baselines.
	ErrHistoryUnavailable = errors.New("version-control history unavailable")

	// ErrRevisionNotFound means no revision satisfies the lookup.
	ErrRevisionNotFound = errors.New("revision not found")

	// ErrNoRevisions means the path has no history at all.
	ErrNoRevisions = fmt.Errorf("no revisions: %w", ErrRevisionNotFound)

	// ErrFileNotFoundAtRevision means the revision exists but the path did
	// not exist in it.
	ErrFileNotFoundAtRevision = errors.New("file not found at revision")
)

// FileNotFoundAtRevisionError carries the path and revision of a failed read.
type FileNotFoundAtRevisionError struct {
	Path     string
	Revision string
}

func (e *FileNotFoundAtRevisionError) Error() string {
	return fmt.Sprintf("%s not found at %s", e.Path, shortHash(e.Revision))
}

func (e *FileNotFoundAtRevisionError) Is(target error) bool {
	return target == ErrFileNotFoundAtRevision
}

// IsAbsence reports whether err is an informative "nothing there" result
// rather than a failure.
func IsAbsence(err error) bool {
	return errors.Is(err, ErrRevisionNotFound) || errors.Is(err, ErrFileNotFoundAtRevision)
}

// Revision identifies a commit.
type Revision struct {
	Hash string
	Time time.Time
	// Fallback is set when no commit existed at or before the requested
	// time and the earliest commit touching the path was used instead.
	Fallback bool
}

// Repo is a git working tree rooted at Dir.
type Repo struct {
	Dir string
}

// NewRepo returns a history reader for the working tree containing dir.
func NewRepo(dir string) *Repo {
	return &Repo{Dir: dir}
}

// IsUnderVersionControl reports whether dir is inside a git work tree.
func (r *Repo) IsUnderVersionControl(ctx context.Context, dir string) bool {
	out, err := r.run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// FindCommitAtOrBefore returns the newest commit touching path whose commit
// time is at or before ts. When none exists it falls back to the earliest
// commit touching path and marks the result as a fallback.
func (r *Repo) FindCommitAtOrBefore(ctx context.Context, ts time.Time, path string) (Revision, error) {
	dir, rel := r.split(path)
	out, err := r.run(ctx, dir, "log", "-1", "--format=%H %ct",
		"--before="+ts.UTC().Format(time.RFC3339), "--", rel)
	if err != nil {
		return Revision{}, err
	}
	if rev, ok := parseRevisionLine(out); ok {
		return rev, nil
	}

	out, err = r.run(ctx, dir, "log", "--reverse", "--format=%H %ct", "--", rel)
	if err != nil {
		return Revision{}, err
	}
	rev, ok := parseRevisionLine(out)
	if !ok {
		return Revision{}, fmt.Errorf("%s: %w", path, ErrNoRevisions)
	}
	rev.Fallback = true
	debug.Logf("Debug: no commit for %s at or before %s, using earliest revision %s\n",
		path, ts.UTC().Format(time.RFC3339), shortHash(rev.Hash))
	return rev, nil
}

// ReadFileAt returns the content of path as of revision.
func (r *Repo) ReadFileAt(ctx context.Context, path, revision string) ([]byte, error) {
	dir, rel := r.split(path)
	cmd := r.command(ctx, dir, "show", revision+":./"+filepath.ToSlash(rel))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		switch {
		case isMissingBinary(err):
			return nil, ErrHistoryUnavailable
		case strings.Contains(msg, "not a git repository"):
			return nil, fmt.Errorf("%s: %w", path, ErrHistoryUnavailable)
		case strings.Contains(msg, "does not exist in"), strings.Contains(msg, "exists on disk, but not in"):
			return nil, &FileNotFoundAtRevisionError{Path: path, Revision: revision}
		case strings.Contains(msg, "invalid object name"), strings.Contains(msg, "bad revision"):
			return nil, fmt.Errorf("%s at %s: %w", path, shortHash(revision), ErrRevisionNotFound)
		}
		return nil, fmt.Errorf("git show %s:%s: %w: %s", shortHash(revision), rel, err, strings.TrimSpace(msg))
	}
	return stdout.Bytes(), nil
}

// HeadRevision returns the commit HEAD points at.
func (r *Repo) HeadRevision(ctx context.Context) (string, error) {
	out, err := r.run(ctx, r.Dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ChangedFilesSince lists files under Dir that differ from revision, including
// uncommitted and untracked files. Paths are absolute.
func (r *Repo) ChangedFilesSince(ctx context.Context, revision string) (map[string]struct{}, error) {
	changed := make(map[string]struct{})
	diff, err := r.run(ctx, r.Dir, "diff", "--name-only", "--relative", revision, "--", ".")
	if err != nil {
		return nil, err
	}
	untracked, err := r.run(ctx, r.Dir, "ls-files", "--others", "--exclude-standard", "--", ".")
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(diff+"\n"+untracked, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		changed[filepath.Join(r.Dir, filepath.FromSlash(line))] = struct{}{}
	}
	return changed, nil
}

func (r *Repo) split(path string) (dir, rel string) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.Dir, path)
	}
	return filepath.Dir(path), filepath.Base(path)
}

func (r *Repo) command(ctx context.Context, dir string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_HOOKS_PATH=", "GIT_TEMPLATE_DIR=")
	return cmd
}

func (r *Repo) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := r.command(ctx, dir, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if isMissingBinary(err) {
			return "", ErrHistoryUnavailable
		}
		msg := stderr.String()
		if strings.Contains(msg, "not a git repository") {
			return "", fmt.Errorf("%s: %w", dir, ErrHistoryUnavailable)
		}
		if strings.Contains(msg, "does not have any commits") || strings.Contains(msg, "unknown revision") {
			return "", fmt.Errorf("%s: %w", strings.Join(args, " "), ErrNoRevisions)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(msg))
	}
	return stdout.String(), nil
}

func parseRevisionLine(out string) (Revision, bool) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	if line == "" {
		return Revision{}, false
	}
	hash, ts, _ := strings.Cut(line, " ")
	rev := Revision{Hash: hash}
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil {
		rev.Time = time.Unix(secs, 0).UTC()
	}
	return rev, true
}

func isMissingBinary(err error) bool {
	var execErr *exec.Error
	return errors.As(err, &execErr)
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
