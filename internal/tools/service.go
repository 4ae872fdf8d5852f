package tools

import (
	"context"
	"errors"

	json "github.com/bytedance/sonic"

	"github.com/curaious/sandboxctl/internal/perrors"
	"github.com/curaious/sandboxctl/pkg/sandbox"
)

// Service exposes the lifecycle operations as the outward JSON contract
// shared by the MCP tools and the CLI.
type Service struct {
	client *sandbox.Client
}

func NewService(client *sandbox.Client) *Service {
	return &Service{client: client}
}

type SandboxResponse struct {
	Success bool           `json:"success"`
	Sandbox sandbox.Record `json:"sandbox"`
}

type CreateResponse struct {
	Success      bool           `json:"success"`
	Sandbox      sandbox.Record `json:"sandbox"`
	PollState    string         `json:"poll_state"`
	PollAttempts int            `json:"poll_attempts"`
}

type ListResponse struct {
	Success   bool             `json:"success"`
	Sandboxes []sandbox.Record `json:"sandboxes"`
	Count     int              `json:"count"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Deleted string `json:"deleted"`
}

type ExecResponse struct {
	Success bool               `json:"success"`
	Sandbox string             `json:"sandbox"`
	Result  sandbox.ExecResult `json:"result"`
}

type FailureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func (s *Service) Create(ctx context.Context, spec sandbox.Spec) (*CreateResponse, error) {
	res, err := s.client.Create(ctx, spec)
	if err != nil {
		return nil, err
	}
	return &CreateResponse{
		Success:      true,
		Sandbox:      res.Record,
		PollState:    res.PollState.String(),
		PollAttempts: res.Attempts,
	}, nil
}

func (s *Service) Status(ctx context.Context, t sandbox.Target) (*SandboxResponse, error) {
	return s.record(s.client.Status(ctx, t))
}

func (s *Service) List(ctx context.Context, scope sandbox.Scope) (*ListResponse, error) {
	records, err := s.client.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	return &ListResponse{Success: true, Sandboxes: records, Count: len(records)}, nil
}

func (s *Service) Delete(ctx context.Context, t sandbox.Target) (*DeleteResponse, error) {
	if err := s.client.Delete(ctx, t); err != nil {
		return nil, err
	}
	return &DeleteResponse{Success: true, Deleted: t.Name}, nil
}

func (s *Service) Pause(ctx context.Context, t sandbox.Target) (*SandboxResponse, error) {
	return s.record(s.client.Pause(ctx, t))
}

func (s *Service) Resume(ctx context.Context, t sandbox.Target) (*SandboxResponse, error) {
	return s.record(s.client.Resume(ctx, t))
}

func (s *Service) Exec(ctx context.Context, t sandbox.Target, command string) (*ExecResponse, error) {
	res, err := s.client.Exec(ctx, t, command)
	if err != nil {
		return nil, err
	}
	return &ExecResponse{Success: true, Sandbox: t.Name, Result: *res}, nil
}

func (s *Service) record(rec *sandbox.Record, err error) (*SandboxResponse, error) {
	if err != nil {
		return nil, err
	}
	return &SandboxResponse{Success: true, Sandbox: *rec}, nil
}

// Failure converts any error into the structured failure document and logs
// it once.
func Failure(ctx context.Context, err error) FailureResponse {
	var perr *perrors.Err
	if errors.As(err, &perr) {
		perr.Print(ctx)
	}
	return FailureResponse{
		Success: false,
		Error:   err.Error(),
		Code:    perrors.CodeOf(err).Code,
	}
}

// Encode renders a response document, or a failure document when v does not
// encode.
func Encode(v any) string {
	out, err := json.MarshalString(v)
	if err != nil {
		out, _ = json.MarshalString(FailureResponse{Error: err.Error(), Code: perrors.ErrCodeBackendError.Code})
	}
	return out
}
