package proxy_sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	json "github.com/bytedance/sonic"

	"github.com/curaious/sandboxctl/pkg/sandbox"
)

// recordPayload is the proxy's sandbox document. Either status or ready may
// carry readiness.
type recordPayload struct {
	Name           string `json:"name"`
	Namespace      string `json:"namespace"`
	Identity       string `json:"identity"`
	ServiceAddress string `json:"service_address"`
	Status         string `json:"status"`
	Ready          *bool  `json:"ready"`
	CreatedAt      string `json:"created_at"`
}

type recordEnvelope struct {
	Sandbox *recordPayload `json:"sandbox"`
	Data    *recordPayload `json:"data"`
}

type listEnvelope struct {
	Sandboxes *[]recordPayload `json:"sandboxes"`
	Data      *[]recordPayload `json:"data"`
}

type execPayload struct {
	Output    *string `json:"output"`
	ExitCode  *int    `json:"exit_code"`
	SessionID string  `json:"session_id"`
}

type execEnvelope struct {
	Data *execPayload `json:"data"`
}

func decodeRecord(body []byte) (sandbox.Record, error) {
	var env recordEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return sandbox.Record{}, fmt.Errorf("decode sandbox: %w", err)
	}

	var payload recordPayload
	switch {
	case env.Sandbox != nil:
		payload = *env.Sandbox
	case env.Data != nil:
		payload = *env.Data
	default:
		if err := json.Unmarshal(body, &payload); err != nil {
			return sandbox.Record{}, fmt.Errorf("decode sandbox: %w", err)
		}
	}
	return payload.toRecord()
}

// decodeCreated accepts a bare create acknowledgement: an empty body or a
// document without a name stands for the sandbox that was requested.
func decodeCreated(body []byte) (sandbox.Record, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return sandbox.Record{ReadyState: sandbox.StatePending}, nil
	}
	rec, err := decodeRecord(body)
	if errors.Is(err, errNoName) {
		return sandbox.Record{ReadyState: sandbox.StatePending}, nil
	}
	return rec, err
}

func decodeList(body []byte) ([]sandbox.Record, error) {
	var payloads []recordPayload

	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &payloads); err != nil {
			return nil, fmt.Errorf("decode sandbox list: %w", err)
		}
	} else {
		var env listEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode sandbox list: %w", err)
		}
		switch {
		case env.Sandboxes != nil:
			payloads = *env.Sandboxes
		case env.Data != nil:
			payloads = *env.Data
		default:
			return nil, errors.New("decode sandbox list: response has no sandboxes field")
		}
	}

	records := make([]sandbox.Record, 0, len(payloads))
	for i, p := range payloads {
		rec, err := p.toRecord()
		if err != nil {
			return nil, fmt.Errorf("sandbox %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeExec(body []byte) (sandbox.ExecResult, error) {
	var env execEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("decode exec result: %w", err)
	}

	var payload execPayload
	if env.Data != nil {
		payload = *env.Data
	} else if err := json.Unmarshal(body, &payload); err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("decode exec result: %w", err)
	}
	if payload.Output == nil {
		return sandbox.ExecResult{}, errors.New("decode exec result: response has no output field")
	}

	res := sandbox.ExecResult{
		Output:    *payload.Output,
		ExitCode:  sandbox.ExitCodeUnreported,
		SessionID: payload.SessionID,
	}
	if payload.ExitCode != nil {
		res.ExitCode = *payload.ExitCode
	}
	return res, nil
}

var errNoName = errors.New("sandbox document has no name")

func (p recordPayload) toRecord() (sandbox.Record, error) {
	if p.Name == "" {
		return sandbox.Record{}, errNoName
	}

	rec := sandbox.Record{
		Name:           p.Name,
		Namespace:      p.Namespace,
		Identity:       p.Identity,
		ServiceAddress: p.ServiceAddress,
		ReadyState:     sandbox.StateUnknown,
	}

	switch {
	case p.Status != "":
		rec.ReadyState = sandbox.ParseReadyState(p.Status)
	case p.Ready != nil && *p.Ready:
		rec.ReadyState = sandbox.StateReady
	case p.Ready != nil:
		rec.ReadyState = sandbox.StatePending
	}

	if p.CreatedAt != "" {
		createdAt, err := time.Parse(time.RFC3339, p.CreatedAt)
		if err != nil {
			return sandbox.Record{}, fmt.Errorf("sandbox %s: invalid created_at: %w", p.Name, err)
		}
		rec.CreatedAt = createdAt
	}
	return rec, nil
}
