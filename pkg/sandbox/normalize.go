package sandbox

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/curaious/sandboxctl/internal/perrors"
)

// notFoundPattern matches the absence reports of cluster admin tooling, e.g.
// `Error from server (NotFound): deployments.apps "s1" not found`.
var notFoundPattern = regexp.MustCompile(`(?i)\(NotFound\)|\bnot found\b`)

// Normalize maps a round-trip failure onto the error taxonomy. The returned
// error is always a *perrors.Err.
func Normalize(op Op, name string, f *Failure) error {
	o := string(op)

	switch f.Kind {
	case FailureCancelled:
		return perrors.Cancelled(o, name, f.Err)
	case FailureMalformed:
		return perrors.BackendError(o, name, "malformed backend response: "+f.Message, f.Err)
	}

	if op == OpExec {
		return perrors.ExecutionFailed(o, name, describe(f), f.Err)
	}

	if f.Kind == FailureUnreachable {
		return perrors.TransportUnreachable(o, name, f.Err)
	}

	if op == OpCreate {
		return perrors.CreateRejected(o, name, message(f))
	}

	if isNotFound(f) {
		return perrors.NotFound(o, name, message(f))
	}

	return perrors.BackendError(o, name, describe(f), f.Err)
}

func isNotFound(f *Failure) bool {
	switch f.Kind {
	case FailureStatus:
		return f.Status == http.StatusNotFound
	case FailureExit:
		return notFoundPattern.MatchString(f.Message)
	default:
		return false
	}
}

// message is the backend detail verbatim, falling back to a generic status
// description when the backend sent none.
func message(f *Failure) string {
	if msg := strings.TrimSpace(f.Message); msg != "" {
		return msg
	}
	switch f.Kind {
	case FailureStatus:
		if text := http.StatusText(f.Status); text != "" {
			return text
		}
		return fmt.Sprintf("status %d", f.Status)
	case FailureExit:
		return fmt.Sprintf("command exited with code %d", f.ExitCode)
	default:
		return f.Error()
	}
}

// describe prefixes the backend detail with its status or exit code.
func describe(f *Failure) string {
	msg := strings.TrimSpace(f.Message)
	switch f.Kind {
	case FailureStatus:
		if msg == "" {
			msg = http.StatusText(f.Status)
		}
		return fmt.Sprintf("backend returned status %d: %s", f.Status, msg)
	case FailureExit:
		if msg == "" {
			return fmt.Sprintf("command exited with code %d", f.ExitCode)
		}
		return fmt.Sprintf("command exited with code %d: %s", f.ExitCode, msg)
	default:
		return message(f)
	}
}
