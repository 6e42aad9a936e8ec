// Package rallyerr classifies errors that cross component boundaries so
// callers can decide whether to retry, surface a modal, or abort.
package rallyerr

import "fmt"

// Kind classifies an error for the purposes of propagation and recovery.
type Kind int

const (
	// Unknown is the zero value; callers should avoid producing it directly.
	Unknown Kind = iota
	// TransientIO covers network, subprocess, and closed-channel failures.
	// Retried by user action.
	TransientIO
	// MalformedInput covers bad patches or bad JSON from an agent.
	// Reported per-item; does not abort.
	MalformedInput
	// InvariantViolation covers a cache-identity triple mismatch.
	// The offending result is discarded silently.
	InvariantViolation
	// ConfigError is surfaced at startup and aborts the process.
	ConfigError
	// AgentProtocolError means the agent's terminal JSON didn't match its schema.
	// The rally transitions to Failed with the raw payload preserved.
	AgentProtocolError
	// UserAbort is a clean, user-initiated terminal state.
	UserAbort
)

func (k Kind) String() string {
	switch k {
	case TransientIO:
		return "transient_io"
	case MalformedInput:
		return "malformed_input"
	case InvariantViolation:
		return "invariant_violation"
	case ConfigError:
		return "config_error"
	case AgentProtocolError:
		return "agent_protocol_error"
	case UserAbort:
		return "user_abort"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind for the given operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}
	return e.Kind == kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
