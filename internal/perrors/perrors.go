package perrors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

// ErrCode is one entry of the sandbox error taxonomy. Exit is the process
// exit code the CLI uses when an operation fails with this code.
type ErrCode struct {
	Code string `json:"code"`
	Exit int    `json:"-"`
}

var (
	ErrCodeConfigMissing        = ErrCode{"config_missing", 2}
	ErrCodeInvalidRequest       = ErrCode{"invalid_request", 3}
	ErrCodeNotFound             = ErrCode{"not_found", 4}
	ErrCodeCreateRejected       = ErrCode{"create_rejected", 5}
	ErrCodeBackendError         = ErrCode{"backend_error", 6}
	ErrCodeTransportUnreachable = ErrCode{"transport_unreachable", 7}
	ErrCodeCancelled            = ErrCode{"cancelled", 8}
	ErrCodeExecutionFailed      = ErrCode{"execution_failed", 9}
)

// Err is the single error type surfaced by the lifecycle client. Detail holds
// the backend-provided text verbatim when there is one.
type Err struct {
	Op         string   `json:"op,omitempty"`
	Sandbox    string   `json:"sandbox,omitempty"`
	Detail     string   `json:"error"`
	Code       ErrCode  `json:"code"`
	Cause      error    `json:"-"`
	Stacktrace []string `json:"-"`
}

func (e *Err) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Sandbox != "" {
			fmt.Fprintf(&b, " %q", e.Sandbox)
		}
		b.WriteString(": ")
	}
	b.WriteString(strings.ReplaceAll(e.Code.Code, "_", " "))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Err) Unwrap() error {
	return e.Cause
}

// Print logs the error with its context attributes.
func (e *Err) Print(ctx context.Context) {
	slog.ErrorContext(ctx, e.Error(),
		slog.String("code", e.Code.Code),
		slog.String("op", e.Op),
		slog.String("sandbox", e.Sandbox),
		slog.Any("stacktrace", e.Stacktrace),
	)
}

// New builds an Err. The detail is taken from cause when detail is empty.
func New(code ErrCode, op, sandbox, detail string, cause error) *Err {
	pc := make([]uintptr, 20)
	count := runtime.Callers(2, pc)
	frames := runtime.CallersFrames(pc[:count])

	var stacktrace []string
	for {
		frame, more := frames.Next()
		stacktrace = append(stacktrace, fmt.Sprintf("%s:%d", frame.File, frame.Line))
		if !more {
			break
		}
	}

	if detail == "" && cause != nil {
		detail = cause.Error()
	}

	return &Err{
		Op:         op,
		Sandbox:    sandbox,
		Detail:     detail,
		Code:       code,
		Cause:      cause,
		Stacktrace: stacktrace,
	}
}

// ConfigMissing reports an absent required setting, named by field.
func ConfigMissing(op, sandbox, field string) *Err {
	return New(ErrCodeConfigMissing, op, sandbox, fmt.Sprintf("required setting %s is not set", field), nil)
}

func InvalidRequest(op, sandbox, detail string) *Err {
	return New(ErrCodeInvalidRequest, op, sandbox, detail, nil)
}

func NotFound(op, sandbox, detail string) *Err {
	return New(ErrCodeNotFound, op, sandbox, detail, nil)
}

func CreateRejected(op, sandbox, detail string) *Err {
	return New(ErrCodeCreateRejected, op, sandbox, detail, nil)
}

func BackendError(op, sandbox, detail string, cause error) *Err {
	return New(ErrCodeBackendError, op, sandbox, detail, cause)
}

func TransportUnreachable(op, sandbox string, cause error) *Err {
	return New(ErrCodeTransportUnreachable, op, sandbox, "", cause)
}

func Cancelled(op, sandbox string, cause error) *Err {
	return New(ErrCodeCancelled, op, sandbox, "", cause)
}

func ExecutionFailed(op, sandbox, detail string, cause error) *Err {
	return New(ErrCodeExecutionFailed, op, sandbox, detail, cause)
}

// CodeOf returns the taxonomy code of err, or BackendError for foreign errors.
func CodeOf(err error) ErrCode {
	var perr *Err
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ErrCodeBackendError
}

// Is reports whether err carries the given taxonomy code.
func Is(err error, code ErrCode) bool {
	var perr *Err
	if errors.As(err, &perr) {
		return perr.Code == code
	}
	return false
}

// ExitCode maps err to a CLI exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var perr *Err
	if errors.As(err, &perr) {
		return perr.Code.Exit
	}
	return 1
}
