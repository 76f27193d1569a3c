// Package tracker synchronizes the local record directory with a remote issue
// tracker. Remote systems plug in through the Backend interface and register
// themselves by name; the Engine runs one sync at a time as a state machine.
package tracker

import (
	"context"
	"errors"

	"github.com/roadmapper/roadmap/internal/types"
)

// ErrBackendUnreachable marks a run aborted because the remote could not be
// fetched.
var ErrBackendUnreachable = errors.New("backend unreachable")

// Backend is the interface every remote tracker adapter implements.
type Backend interface {
	// Name returns the lowercase identifier for this backend (e.g. "github").
	Name() string

	// FetchAll returns every remote issue. Returned issues carry RemoteID
	// and use it as their ID.
	FetchAll(ctx context.Context) ([]*types.Issue, error)

	// Create creates issue remotely and returns its remote ID.
	Create(ctx context.Context, issue *types.Issue) (string, error)

	// Update writes the given tracked fields to the remote issue.
	Update(ctx context.Context, remoteID string, fields map[types.Field]any) error
}
