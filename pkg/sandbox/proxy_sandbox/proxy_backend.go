package proxy_sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/curaious/sandboxctl/pkg/sandbox"
)

const maxResponseBytes = 8 << 20

// Config defines how the proxy is reached.
type Config struct {
	// Endpoint is the proxy base URL, e.g. "https://sandbox-proxy.internal".
	Endpoint string

	// Token is sent as a bearer credential when set.
	Token string

	Addressing sandbox.Addressing

	// Timeout bounds each request. Defaults to 120s.
	Timeout time.Duration

	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
}

// Backend talks to the sandbox proxy over HTTP.
type Backend struct {
	cfg        Config
	httpClient *http.Client
}

var (
	_ sandbox.Backend    = (*Backend)(nil)
	_ sandbox.Configurer = (*Backend)(nil)
)

// NewBackend constructs the proxy-HTTP profile.
func NewBackend(cfg Config) *Backend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Backend{cfg: cfg, httpClient: httpClient}
}

func (b *Backend) Profile() string {
	return "proxy"
}

type createRequest struct {
	Name      string `json:"name"`
	Identity  string `json:"identity"`
	Image     string `json:"image"`
	Port      int    `json:"port"`
	Namespace string `json:"namespace"`
}

type execRequest struct {
	Command string `json:"command"`
}

func (b *Backend) Create(ctx context.Context, t sandbox.Target, spec sandbox.Spec) sandbox.Reply[sandbox.Record] {
	in := createRequest{
		Name:      spec.Name,
		Identity:  spec.Identity,
		Image:     spec.Image,
		Port:      spec.Port,
		Namespace: spec.Namespace,
	}
	return b.record(ctx, sandbox.OpCreate, t, in)
}

func (b *Backend) Status(ctx context.Context, t sandbox.Target) sandbox.Reply[sandbox.Record] {
	return b.record(ctx, sandbox.OpStatus, t, nil)
}

func (b *Backend) List(ctx context.Context, s sandbox.Scope) sandbox.Reply[[]sandbox.Record] {
	route := b.cfg.Addressing.Route(sandbox.OpList, sandbox.Target{Identity: s.Identity, Namespace: s.Namespace})
	body, f := b.doJSON(ctx, route, nil)
	if f != nil {
		return sandbox.Fail[[]sandbox.Record](f)
	}
	records, err := decodeList(body)
	if err != nil {
		return sandbox.Fail[[]sandbox.Record](sandbox.MalformedFailure(err))
	}
	return sandbox.Success(records)
}

func (b *Backend) Delete(ctx context.Context, t sandbox.Target) sandbox.Reply[struct{}] {
	if _, f := b.doJSON(ctx, b.cfg.Addressing.Route(sandbox.OpDelete, t), nil); f != nil {
		return sandbox.Fail[struct{}](f)
	}
	return sandbox.Success(struct{}{})
}

func (b *Backend) Pause(ctx context.Context, t sandbox.Target) sandbox.Reply[sandbox.Record] {
	return b.record(ctx, sandbox.OpPause, t, nil)
}

func (b *Backend) Resume(ctx context.Context, t sandbox.Target) sandbox.Reply[sandbox.Record] {
	return b.record(ctx, sandbox.OpResume, t, nil)
}

func (b *Backend) Exec(ctx context.Context, t sandbox.Target, command string) sandbox.Reply[sandbox.ExecResult] {
	body, f := b.doJSON(ctx, b.cfg.Addressing.Route(sandbox.OpExec, t), execRequest{Command: command})
	if f != nil {
		return sandbox.Fail[sandbox.ExecResult](f)
	}
	res, err := decodeExec(body)
	if err != nil {
		return sandbox.Fail[sandbox.ExecResult](sandbox.MalformedFailure(err))
	}
	return sandbox.Success(res)
}

// PushConfig forwards runtime configuration to the sandbox through the proxy.
func (b *Backend) PushConfig(ctx context.Context, t sandbox.Target, _ sandbox.Record, cfg sandbox.RuntimeConfig) error {
	if _, f := b.doJSON(ctx, b.cfg.Addressing.Route(sandbox.OpConfigure, t), cfg); f != nil {
		return f
	}
	return nil
}

func (b *Backend) record(ctx context.Context, op sandbox.Op, t sandbox.Target, in any) sandbox.Reply[sandbox.Record] {
	body, f := b.doJSON(ctx, b.cfg.Addressing.Route(op, t), in)
	if f != nil {
		return sandbox.Fail[sandbox.Record](f)
	}
	decode := decodeRecord
	if op == sandbox.OpCreate {
		decode = decodeCreated
	}
	rec, err := decode(body)
	if err != nil {
		return sandbox.Fail[sandbox.Record](sandbox.MalformedFailure(err))
	}
	return sandbox.Success(rec)
}

// doJSON sends a JSON request and returns the raw success body. Non-2xx
// answers become status failures carrying the backend's error text.
func (b *Backend) doJSON(ctx context.Context, route sandbox.Route, in any) ([]byte, *sandbox.Failure) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, sandbox.TransportFailure(ctx, fmt.Errorf("marshal request: %w", err))
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, route.Method, route.URL(b.cfg.Endpoint), body)
	if err != nil {
		return nil, sandbox.TransportFailure(ctx, fmt.Errorf("new request: %w", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, sandbox.TransportFailure(ctx, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, sandbox.TransportFailure(ctx, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, sandbox.StatusFailure(resp.StatusCode, errorMessage(data))
	}
	return data, nil
}

// errorMessage extracts the error/message/detail field of a JSON error body,
// falling back to the raw text.
func errorMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, k := range []string{"error", "message", "detail"} {
			switch v := payload[k].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if msg, ok := v["message"].(string); ok && msg != "" {
					return msg
				}
			}
		}
	}
	return strings.TrimSpace(string(body))
}
