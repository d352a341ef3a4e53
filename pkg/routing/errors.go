package routing

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRunners indicates that no operational runner can serve the
	// requested model or class. Maps to a 503 at the HTTP surface.
	ErrNoRunners = errors.New("no operational runner available")
	// ErrConnectionFailed indicates a transport-level failure while proxying
	// to a runner. Maps to a 502 at the HTTP surface.
	ErrConnectionFailed = errors.New("connection to runner failed")
)

// RunnerError carries a runner's non-2xx reply verbatim.
type RunnerError struct {
	StatusCode int
	Body       []byte
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("runner returned status %d: %s", e.StatusCode, e.Body)
}
