package sandbox

import (
	"context"
	"errors"
	"fmt"
)

// Op names a lifecycle operation. It appears in errors and span names.
type Op string

const (
	OpCreate    Op = "create"
	OpStatus    Op = "status"
	OpList      Op = "list"
	OpDelete    Op = "delete"
	OpPause     Op = "pause"
	OpResume    Op = "resume"
	OpExec      Op = "execute"
	OpConfigure Op = "configure"
)

// Target addresses a single sandbox.
type Target struct {
	Name      string
	Identity  string
	Namespace string
}

// Scope addresses the sandboxes owned by one identity in one namespace.
type Scope struct {
	Identity  string
	Namespace string
}

// Scope returns the owning scope of t.
func (t Target) Scope() Scope {
	return Scope{Identity: t.Identity, Namespace: t.Namespace}
}

// FailureKind classifies why a round trip did not succeed.
type FailureKind int

const (
	// FailureStatus means the backend answered with a non-success status.
	FailureStatus FailureKind = iota
	// FailureExit means the admin command exited non-zero.
	FailureExit
	// FailureUnreachable means the backend could not be reached or spawned.
	FailureUnreachable
	// FailureMalformed means a success response could not be parsed.
	FailureMalformed
	// FailureCancelled means the caller's context ended the round trip.
	FailureCancelled
)

func (k FailureKind) String() string {
	switch k {
	case FailureStatus:
		return "status"
	case FailureExit:
		return "exit"
	case FailureUnreachable:
		return "unreachable"
	case FailureMalformed:
		return "malformed"
	case FailureCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Failure is the transport-neutral error detail of a round trip.
type Failure struct {
	Kind FailureKind
	// Status is the HTTP (or API) status code for FailureStatus.
	Status int
	// ExitCode is the process exit code for FailureExit.
	ExitCode int
	// Message is the backend-provided detail text, verbatim.
	Message string
	Err     error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case FailureStatus:
		return fmt.Sprintf("status %d: %s", f.Status, f.Message)
	case FailureExit:
		return fmt.Sprintf("exit %d: %s", f.ExitCode, f.Message)
	default:
		if f.Message != "" {
			return f.Message
		}
		if f.Err != nil {
			return f.Err.Error()
		}
		return f.Kind.String()
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// StatusFailure reports a non-success backend answer.
func StatusFailure(status int, message string) *Failure {
	return &Failure{Kind: FailureStatus, Status: status, Message: message}
}

// ExitFailure reports a non-zero admin command exit.
func ExitFailure(exitCode int, stderr string) *Failure {
	return &Failure{Kind: FailureExit, ExitCode: exitCode, Message: stderr}
}

// MalformedFailure reports an unparsable success response.
func MalformedFailure(err error) *Failure {
	return &Failure{Kind: FailureMalformed, Message: err.Error(), Err: err}
}

// TransportFailure classifies an error raised before any backend answer. It is
// a cancellation when ctx has ended, otherwise the backend was unreachable.
func TransportFailure(ctx context.Context, err error) *Failure {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		cause := ctx.Err()
		if cause == nil {
			cause = err
		}
		return &Failure{Kind: FailureCancelled, Message: cause.Error(), Err: cause}
	}
	return &Failure{Kind: FailureUnreachable, Message: err.Error(), Err: err}
}

// Reply is the normalized outcome of one backend round trip: either a payload
// or a failure.
type Reply[T any] struct {
	Payload T
	Failure *Failure
}

// OK reports whether the round trip succeeded.
func (r Reply[T]) OK() bool {
	return r.Failure == nil
}

func Success[T any](payload T) Reply[T] {
	return Reply[T]{Payload: payload}
}

func Fail[T any](f *Failure) Reply[T] {
	return Reply[T]{Failure: f}
}

// Backend performs single round trips against a sandbox control plane. Every
// implementation reports results through Reply so the Client never branches on
// the active profile.
type Backend interface {
	// Profile names the backend profile, e.g. "proxy" or "kubectl".
	Profile() string
	Create(ctx context.Context, t Target, spec Spec) Reply[Record]
	Status(ctx context.Context, t Target) Reply[Record]
	List(ctx context.Context, s Scope) Reply[[]Record]
	Delete(ctx context.Context, t Target) Reply[struct{}]
	Pause(ctx context.Context, t Target) Reply[Record]
	Resume(ctx context.Context, t Target) Reply[Record]
	Exec(ctx context.Context, t Target, command string) Reply[ExecResult]
}

// Configurer is implemented by backends able to push runtime configuration
// into a running sandbox.
type Configurer interface {
	PushConfig(ctx context.Context, t Target, rec Record, cfg RuntimeConfig) error
}
