package sandbox

import (
	"strings"
	"time"
)

// ServiceAddressPending is reported as the service address until the
// backend has assigned a routable endpoint.
const ServiceAddressPending = "pending"

// ReadyState is the backend-reported readiness of a sandbox.
type ReadyState string

const (
	StatePending ReadyState = "Pending"
	StateReady   ReadyState = "Ready"
	StatePaused  ReadyState = "Paused"
	StateUnknown ReadyState = "Unknown"
)

// ParseReadyState maps a backend status string onto a ReadyState. Matching is
// case-insensitive; anything unrecognised is Unknown.
func ParseReadyState(s string) ReadyState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "creating", "provisioning", "starting", "scheduling":
		return StatePending
	case "ready", "running", "active":
		return StateReady
	case "paused", "suspended", "stopped":
		return StatePaused
	default:
		return StateUnknown
	}
}

// Spec describes a sandbox to create. Empty fields are filled from Settings.
type Spec struct {
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	Port      int    `json:"port,omitempty"`
	Identity  string `json:"identity,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// Record is a snapshot of backend-owned sandbox state.
type Record struct {
	Name           string     `json:"name"`
	Namespace      string     `json:"namespace"`
	Identity       string     `json:"identity,omitempty"`
	ServiceAddress string     `json:"service_address"`
	ReadyState     ReadyState `json:"ready_state"`
	CreatedAt      time.Time  `json:"created_at"`
}

// HasEndpoint reports whether the backend has assigned a service address.
func (r Record) HasEndpoint() bool {
	return r.ServiceAddress != "" && r.ServiceAddress != ServiceAddressPending
}

// ExitCodeUnreported is used when the backend did not return an exit code.
const ExitCodeUnreported = -1

// ExecResult is the outcome of a command that reached the sandbox. A non-zero
// ExitCode is data, not an error.
type ExecResult struct {
	Output    string `json:"output"`
	ExitCode  int    `json:"exit_code"`
	SessionID string `json:"session_id,omitempty"`
}

// RuntimeConfig is pushed into a freshly created sandbox once its endpoint is
// known.
type RuntimeConfig struct {
	Identity  string            `json:"identity"`
	Namespace string            `json:"namespace"`
	Env       map[string]string `json:"env,omitempty"`
}
