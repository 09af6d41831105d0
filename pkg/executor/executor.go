package executor

import (
	"context"
	"time"

	"github.com/fleetpatch/fleetpatch/pkg/types"
)

// Privilege is the level a remote command runs at.
type Privilege uint8

const (
	PrivilegeUser Privilege = iota
	PrivilegeElevated
)

func (p Privilege) String() string {
	if p == PrivilegeElevated {
		return "elevated"
	}
	return "user"
}

// Outcome is the result of a remote command that actually ran. A non-zero
// exit code is an outcome, not an executor error; transport and auth
// problems surface as errors instead.
type Outcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Ok reports whether the command exited zero.
func (o *Outcome) Ok() bool {
	return o.ExitCode == 0
}

// Executor runs commands on remote hosts. Implementations must be safe
// for concurrent use across hosts and must not mix output streams
// between hosts.
type Executor interface {
	// Probe checks host reachability without running a command.
	Probe(ctx context.Context, host types.Host) error

	// Run executes a command on the host at the given privilege level.
	// Errors are host failures (unreachable, timeout, auth); command
	// failures come back as an Outcome with a non-zero ExitCode.
	Run(ctx context.Context, host types.Host, command string, privilege Privilege, timeout time.Duration) (*Outcome, error)
}
