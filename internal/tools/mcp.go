package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/curaious/sandboxctl/internal/perrors"
	"github.com/curaious/sandboxctl/pkg/sandbox"
)

const (
	ToolCreate  = "create_sandbox"
	ToolStatus  = "get_sandbox_status"
	ToolList    = "list_sandboxes"
	ToolDelete  = "delete_sandbox"
	ToolPause   = "pause_sandbox"
	ToolResume  = "resume_sandbox"
	ToolExecute = "execute_in_sandbox"
)

// NewMCPServer builds an MCP server exposing every sandbox tool.
func NewMCPServer(svc *Service, version string) *server.MCPServer {
	s := server.NewMCPServer("sandboxctl", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	svc.Register(s)
	return s
}

// Register adds the sandbox tools to s.
func (svc *Service) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool(ToolCreate,
		mcp.WithDescription("Create a sandbox and wait until it is ready. Returns Pending if it is still provisioning when the wait ends."),
		nameArg(),
		mcp.WithString("image", mcp.Description("Container image. Defaults to the configured image.")),
		mcp.WithNumber("port", mcp.Description("Port the sandbox serves on. Defaults to the configured port.")),
		identityArg(),
		namespaceArg(),
	), svc.handleCreate)

	s.AddTool(mcp.NewTool(ToolStatus,
		mcp.WithDescription("Get the current state of a sandbox."),
		nameArg(), identityArg(), namespaceArg(),
	), svc.handleRecord(svc.Status))

	s.AddTool(mcp.NewTool(ToolList,
		mcp.WithDescription("List the sandboxes of an identity in a namespace."),
		identityArg(), namespaceArg(),
	), svc.handleList)

	s.AddTool(mcp.NewTool(ToolDelete,
		mcp.WithDescription("Delete a sandbox."),
		nameArg(), identityArg(), namespaceArg(),
	), svc.handleDelete)

	s.AddTool(mcp.NewTool(ToolPause,
		mcp.WithDescription("Pause a ready sandbox."),
		nameArg(), identityArg(), namespaceArg(),
	), svc.handleRecord(svc.Pause))

	s.AddTool(mcp.NewTool(ToolResume,
		mcp.WithDescription("Resume a paused sandbox."),
		nameArg(), identityArg(), namespaceArg(),
	), svc.handleRecord(svc.Resume))

	s.AddTool(mcp.NewTool(ToolExecute,
		mcp.WithDescription("Run a shell command in a ready sandbox. A non-zero exit code is reported in the result, not as a failure."),
		nameArg(),
		mcp.WithString("command", mcp.Required(), mcp.Description("Shell command to run.")),
		identityArg(), namespaceArg(),
	), svc.handleExecute)
}

func nameArg() mcp.ToolOption {
	return mcp.WithString("name", mcp.Required(), mcp.Description("Sandbox name (DNS-1123 label)."))
}

func identityArg() mcp.ToolOption {
	return mcp.WithString("identity", mcp.Description("Owning identity. Defaults to the configured identity."))
}

func namespaceArg() mcp.ToolOption {
	return mcp.WithString("namespace", mcp.Description("Namespace. Defaults to the configured namespace."))
}

func (svc *Service) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return failure(ctx, perrors.InvalidRequest(string(sandbox.OpCreate), "", err.Error())), nil
	}
	spec := sandbox.Spec{
		Name:      name,
		Image:     req.GetString("image", ""),
		Port:      req.GetInt("port", 0),
		Identity:  req.GetString("identity", ""),
		Namespace: req.GetString("namespace", ""),
	}
	res, err := svc.Create(ctx, spec)
	return result(ctx, res, err), nil
}

func (svc *Service) handleRecord(call func(context.Context, sandbox.Target) (*SandboxResponse, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, err := target(req)
		if err != nil {
			return failure(ctx, err), nil
		}
		res, err := call(ctx, t)
		return result(ctx, res, err), nil
	}
}

func (svc *Service) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope := sandbox.Scope{
		Identity:  req.GetString("identity", ""),
		Namespace: req.GetString("namespace", ""),
	}
	res, err := svc.List(ctx, scope)
	return result(ctx, res, err), nil
}

func (svc *Service) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, err := target(req)
	if err != nil {
		return failure(ctx, err), nil
	}
	res, err := svc.Delete(ctx, t)
	return result(ctx, res, err), nil
}

func (svc *Service) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, err := target(req)
	if err != nil {
		return failure(ctx, err), nil
	}
	command, err := req.RequireString("command")
	if err != nil {
		return failure(ctx, perrors.InvalidRequest(string(sandbox.OpExec), t.Name, err.Error())), nil
	}
	res, err := svc.Exec(ctx, t, command)
	return result(ctx, res, err), nil
}

func target(req mcp.CallToolRequest) (sandbox.Target, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return sandbox.Target{}, perrors.InvalidRequest(req.Params.Name, "", err.Error())
	}
	return sandbox.Target{
		Name:      name,
		Identity:  req.GetString("identity", ""),
		Namespace: req.GetString("namespace", ""),
	}, nil
}

// result turns an operation outcome into a tool result. Failures are
// error-flagged results, never protocol errors.
func result[T any](ctx context.Context, doc *T, err error) *mcp.CallToolResult {
	if err != nil {
		return failure(ctx, err)
	}
	return mcp.NewToolResultText(Encode(doc))
}

func failure(ctx context.Context, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(Encode(Failure(ctx, err)))
}
