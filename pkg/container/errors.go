package container

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotStarted is returned by operations that need a running process.
var ErrNotStarted = errors.New("process has not been started")

// InvalidStateError is returned when an operation is attempted in the wrong
// lifecycle state, e.g. joining a network after the process started.
type InvalidStateError struct {
	Op    string // Operation that was attempted
	Name  string // Process or network name
	State string // Observed state
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s: invalid state %q", e.Op, e.Name, e.State)
}

// NetworkInUseError is returned when a network is torn down while joined
// processes are still running.
type NetworkInUseError struct {
	Network string
	Running []string
}

func (e *NetworkInUseError) Error() string {
	return fmt.Sprintf("network %s is still in use by running processes: %s",
		e.Network, strings.Join(e.Running, ", "))
}
