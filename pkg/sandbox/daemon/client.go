package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	json "github.com/bytedance/sonic"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/curaious/sandboxctl/pkg/sandbox"
)

// Client talks to the daemon inside one sandbox.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client for the daemon at baseURL. A bare host:port
// is treated as http. httpClient may be nil.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   120 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// execReply keeps absent fields distinguishable from zero values.
type execReply struct {
	Output    *string `json:"output"`
	ExitCode  *int    `json:"exit_code"`
	SessionID string  `json:"session_id"`
}

// Exec runs command through the sandbox shell. A non-zero exit code is part
// of the result. A reply without output is malformed; one without an exit
// code reports sandbox.ExitCodeUnreported.
func (c *Client) Exec(ctx context.Context, command string) (sandbox.ExecResult, *sandbox.Failure) {
	var reply execReply
	if f := c.doJSON(ctx, http.MethodPost, "/v1/shell/exec", ExecRequest{Command: command}, &reply); f != nil {
		return sandbox.ExecResult{}, f
	}
	if reply.Output == nil {
		return sandbox.ExecResult{}, sandbox.MalformedFailure(errors.New("exec response has no output field"))
	}

	res := sandbox.ExecResult{
		Output:    *reply.Output,
		ExitCode:  sandbox.ExitCodeUnreported,
		SessionID: reply.SessionID,
	}
	if reply.ExitCode != nil {
		res.ExitCode = *reply.ExitCode
	}
	return res, nil
}

// PushConfig replaces the daemon's runtime configuration.
func (c *Client) PushConfig(ctx context.Context, cfg sandbox.RuntimeConfig) *sandbox.Failure {
	return c.doJSON(ctx, http.MethodPost, "/v1/config", cfg, nil)
}

// doJSON sends a JSON request and decodes a JSON response (if out is non-nil).
func (c *Client) doJSON(ctx context.Context, method, p string, in any, out any) *sandbox.Failure {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return sandbox.TransportFailure(ctx, err)
	}
	u.Path = path.Join(u.Path, p)

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return sandbox.TransportFailure(ctx, fmt.Errorf("marshal request: %w", err))
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return sandbox.TransportFailure(ctx, fmt.Errorf("new request: %w", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sandbox.TransportFailure(ctx, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return sandbox.TransportFailure(ctx, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return sandbox.StatusFailure(resp.StatusCode, daemonError(data))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return sandbox.MalformedFailure(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func daemonError(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
