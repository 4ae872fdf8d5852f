// Package sandbox drives the lifecycle of remote sandboxes through a pluggable
// Backend. Backends only perform round trips; validation, readiness polling and
// error classification live in Client.
package sandbox
