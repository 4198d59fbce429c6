package process

import (
	"errors"
	"fmt"

	"github.com/devports/procwatch/pkg/models"
)

var (
	ErrToolNotInstalled    = errors.New("tool not installed")
	ErrSpawnFailure        = errors.New("spawn failure")
	ErrCrashedWhileRunning = errors.New("crashed while running")
	ErrHealthCheckFailed   = errors.New("health check failed")
)

var ErrNoLogs = errors.New("no logs available")

// Err turns the failure recorded in a status snapshot into an error wrapping
// the matching sentinel. It returns nil when no failure is recorded.
func Err(st models.Status) error {
	var base error
	switch st.ErrorKind {
	case models.ErrorToolNotInstalled:
		base = ErrToolNotInstalled
	case models.ErrorSpawnFailure:
		base = ErrSpawnFailure
	case models.ErrorCrashedWhileRunning:
		base = ErrCrashedWhileRunning
	}
	switch {
	case base == nil && st.LastError == "":
		return nil
	case base == nil:
		return errors.New(st.LastError)
	case st.LastError == "":
		return base
	}
	return fmt.Errorf("%w: %s", base, st.LastError)
}
