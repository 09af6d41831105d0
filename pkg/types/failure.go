package types

import "fmt"

// FailureKind classifies why a host dropped out of the workflow.
type FailureKind uint8

const (
	FailureNone FailureKind = iota
	// FailureUnreachable - the host never answered the reachability probe
	FailureUnreachable
	// FailureAuth - credential install or use failed on the host
	FailureAuth
	// FailureTimeout - a remote command exceeded its deadline
	FailureTimeout
	// FailureInvalidSelection - a kept-kernel identifier matched nothing installed
	FailureInvalidSelection
	// FailureCommand - a remote command exited non-zero in a stage that cannot continue
	FailureCommand
	// FailureVerifyTimeout - the host did not come back within the reboot wait budget
	FailureVerifyTimeout
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureUnreachable:
		return "unreachable"
	case FailureAuth:
		return "auth-failure"
	case FailureTimeout:
		return "timeout"
	case FailureInvalidSelection:
		return "invalid-selection"
	case FailureCommand:
		return "command-failure"
	case FailureVerifyTimeout:
		return "verify-timeout"
	default:
		return "unknown"
	}
}

// Failure is a host-scoped workflow error carrying its taxonomy kind.
type Failure struct {
	Kind FailureKind
	Host string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Host, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", f.Host, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure wraps err as a host failure of the given kind.
func NewFailure(kind FailureKind, host string, err error) *Failure {
	return &Failure{Kind: kind, Host: host, Err: err}
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) FailureKind {
	for err != nil {
		if f, ok := err.(*Failure); ok {
			return f.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return FailureNone
}
