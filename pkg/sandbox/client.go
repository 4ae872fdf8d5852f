package sandbox

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/curaious/sandboxctl/internal/perrors"
)

var (
	tracer = otel.Tracer("SandboxClient")
)

// Settings are the resolved configuration values consumed by Client. They are
// built once at startup and never looked up again.
type Settings struct {
	// Endpoint is the control plane base URL. It is required unless
	// EndpointOptional is set by a profile that does not talk HTTP.
	Endpoint         string
	EndpointOptional bool
	Token            string

	DefaultImage     string
	DefaultPort      int
	DefaultIdentity  string
	DefaultNamespace string

	PollInterval time.Duration
	PollAttempts int

	// RuntimeEnv is pushed into new sandboxes once their endpoint is known.
	RuntimeEnv map[string]string
}

func (s Settings) validate(op Op, name string) error {
	o := string(op)
	if !s.EndpointOptional && strings.TrimSpace(s.Endpoint) == "" {
		return perrors.ConfigMissing(o, name, "endpoint")
	}
	if strings.TrimSpace(s.DefaultIdentity) == "" {
		return perrors.ConfigMissing(o, name, "default_identity")
	}
	if strings.TrimSpace(s.DefaultNamespace) == "" {
		return perrors.ConfigMissing(o, name, "default_namespace")
	}
	return nil
}

// CreateResult is the outcome of Client.Create. Record is Pending when the
// readiness wait timed out; that is not an error.
type CreateResult struct {
	Record    Record    `json:"sandbox"`
	PollState PollState `json:"-"`
	Attempts  int       `json:"poll_attempts"`
}

// Client is the sandbox lifecycle client. It holds no sandbox state; each call
// is an independent round trip and Client is safe for concurrent use.
type Client struct {
	settings Settings
	backend  Backend
	poller   Poller
}

type Option func(*Client)

// WithSleep replaces the poller's sleep function.
func WithSleep(sleep SleepFunc) Option {
	return func(c *Client) {
		c.poller.Sleep = sleep
	}
}

// NewClient builds a Client on top of backend.
func NewClient(settings Settings, backend Backend, opts ...Option) *Client {
	interval := settings.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := settings.PollAttempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}

	c := &Client{
		settings: settings,
		backend:  backend,
		poller: Poller{
			Interval: interval,
			Attempts: attempts,
			Sleep:    SleepContext,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Profile names the active backend profile.
func (c *Client) Profile() string {
	return c.backend.Profile()
}

// Create provisions a sandbox and waits for it to become ready.
func (c *Client) Create(ctx context.Context, spec Spec) (*CreateResult, error) {
	ctx, span := c.start(ctx, OpCreate, spec.Name)
	defer span.End()

	spec, err := c.resolveSpec(spec)
	if err != nil {
		return nil, fail(span, err)
	}
	target := Target{Name: spec.Name, Identity: spec.Identity, Namespace: spec.Namespace}

	reply := c.backend.Create(ctx, target, spec)
	if !reply.OK() {
		return nil, fail(span, Normalize(OpCreate, spec.Name, reply.Failure))
	}
	accepted := fillRecord(reply.Payload, target)

	poll := c.poller.Wait(ctx, func(ctx context.Context) Reply[Record] {
		return c.backend.Status(ctx, target)
	})
	span.SetAttributes(
		attribute.String("sandbox.poll_state", poll.State.String()),
		attribute.Int("sandbox.poll_attempts", poll.Attempts),
	)
	if poll.State == PollErrored {
		return nil, fail(span, Normalize(OpCreate, spec.Name, poll.Failure))
	}

	rec := accepted
	if poll.Last != nil {
		rec = fillRecord(*poll.Last, target)
	}

	if rec.HasEndpoint() {
		if cfg, ok := c.backend.(Configurer); ok {
			bestEffort(ctx, "push runtime config", func(ctx context.Context) error {
				return cfg.PushConfig(ctx, target, rec, RuntimeConfig{
					Identity:  target.Identity,
					Namespace: target.Namespace,
					Env:       c.settings.RuntimeEnv,
				})
			})
		}
	}

	if poll.State == PollTimedOut {
		slog.InfoContext(ctx, "sandbox still provisioning",
			slog.String("sandbox", spec.Name),
			slog.Int("attempts", poll.Attempts))
	}

	return &CreateResult{Record: rec, PollState: poll.State, Attempts: poll.Attempts}, nil
}

// Status returns the latest snapshot of a sandbox.
func (c *Client) Status(ctx context.Context, t Target) (*Record, error) {
	ctx, span := c.start(ctx, OpStatus, t.Name)
	defer span.End()

	t, err := c.resolveTarget(OpStatus, t)
	if err != nil {
		return nil, fail(span, err)
	}

	reply := c.backend.Status(ctx, t)
	if !reply.OK() {
		return nil, fail(span, Normalize(OpStatus, t.Name, reply.Failure))
	}
	rec := fillRecord(reply.Payload, t)
	return &rec, nil
}

// List returns the sandboxes in scope in backend order. An empty slice is a
// valid result.
func (c *Client) List(ctx context.Context, s Scope) ([]Record, error) {
	ctx, span := c.start(ctx, OpList, "")
	defer span.End()

	if err := c.settings.validate(OpList, ""); err != nil {
		return nil, fail(span, err)
	}
	s = c.resolveScope(s)

	reply := c.backend.List(ctx, s)
	if !reply.OK() {
		return nil, fail(span, Normalize(OpList, "", reply.Failure))
	}

	records := make([]Record, 0, len(reply.Payload))
	for _, rec := range reply.Payload {
		records = append(records, fillRecord(rec, Target{Identity: s.Identity, Namespace: s.Namespace}))
	}
	span.SetAttributes(attribute.Int("sandbox.count", len(records)))
	return records, nil
}

// Delete removes a sandbox. Deleting a sandbox that does not exist fails with
// a not_found error.
func (c *Client) Delete(ctx context.Context, t Target) error {
	ctx, span := c.start(ctx, OpDelete, t.Name)
	defer span.End()

	t, err := c.resolveTarget(OpDelete, t)
	if err != nil {
		return fail(span, err)
	}

	reply := c.backend.Delete(ctx, t)
	if !reply.OK() {
		return fail(span, Normalize(OpDelete, t.Name, reply.Failure))
	}
	return nil
}

// Pause asks the backend to pause a sandbox. Whether the transition is legal
// is decided by the backend.
func (c *Client) Pause(ctx context.Context, t Target) (*Record, error) {
	return c.transition(ctx, OpPause, t, c.backend.Pause)
}

// Resume asks the backend to resume a paused sandbox.
func (c *Client) Resume(ctx context.Context, t Target) (*Record, error) {
	return c.transition(ctx, OpResume, t, c.backend.Resume)
}

func (c *Client) transition(ctx context.Context, op Op, t Target, call func(context.Context, Target) Reply[Record]) (*Record, error) {
	ctx, span := c.start(ctx, op, t.Name)
	defer span.End()

	t, err := c.resolveTarget(op, t)
	if err != nil {
		return nil, fail(span, err)
	}

	reply := call(ctx, t)
	if !reply.OK() {
		return nil, fail(span, Normalize(op, t.Name, reply.Failure))
	}
	rec := fillRecord(reply.Payload, t)
	return &rec, nil
}

// Exec runs command inside a sandbox. A non-zero exit code of the remote
// command is returned as data; only a failed round trip is an error.
func (c *Client) Exec(ctx context.Context, t Target, command string) (*ExecResult, error) {
	ctx, span := c.start(ctx, OpExec, t.Name)
	defer span.End()

	t, err := c.resolveTarget(OpExec, t)
	if err != nil {
		return nil, fail(span, err)
	}
	if strings.TrimSpace(command) == "" {
		return nil, fail(span, perrors.InvalidRequest(string(OpExec), t.Name, "command must not be empty"))
	}

	reply := c.backend.Exec(ctx, t, command)
	if !reply.OK() {
		return nil, fail(span, Normalize(OpExec, t.Name, reply.Failure))
	}
	res := reply.Payload
	span.SetAttributes(attribute.Int("sandbox.exit_code", res.ExitCode))
	return &res, nil
}

func (c *Client) resolveSpec(spec Spec) (Spec, error) {
	o := string(OpCreate)
	if err := c.settings.validate(OpCreate, spec.Name); err != nil {
		return spec, err
	}
	if err := validateName(OpCreate, spec.Name); err != nil {
		return spec, err
	}

	if spec.Image == "" {
		spec.Image = c.settings.DefaultImage
	}
	if strings.TrimSpace(spec.Image) == "" {
		return spec, perrors.ConfigMissing(o, spec.Name, "default_image")
	}

	if spec.Port < 0 {
		return spec, perrors.InvalidRequest(o, spec.Name, "port must be a positive integer")
	}
	if spec.Port == 0 {
		spec.Port = c.settings.DefaultPort
	}
	if spec.Port <= 0 {
		return spec, perrors.ConfigMissing(o, spec.Name, "default_port")
	}

	if spec.Identity == "" {
		spec.Identity = c.settings.DefaultIdentity
	}
	if spec.Namespace == "" {
		spec.Namespace = c.settings.DefaultNamespace
	}
	return spec, nil
}

func (c *Client) resolveTarget(op Op, t Target) (Target, error) {
	if err := c.settings.validate(op, t.Name); err != nil {
		return t, err
	}
	if err := validateName(op, t.Name); err != nil {
		return t, err
	}
	s := c.resolveScope(t.Scope())
	t.Identity, t.Namespace = s.Identity, s.Namespace
	return t, nil
}

func (c *Client) resolveScope(s Scope) Scope {
	if s.Identity == "" {
		s.Identity = c.settings.DefaultIdentity
	}
	if s.Namespace == "" {
		s.Namespace = c.settings.DefaultNamespace
	}
	return s
}

// validateName requires a DNS-1123 label, the form every backend profile can
// use as a resource name.
func validateName(op Op, name string) error {
	if strings.TrimSpace(name) == "" {
		return perrors.InvalidRequest(string(op), name, "sandbox name must not be empty")
	}
	if errs := validation.IsDNS1123Label(name); len(errs) > 0 {
		return perrors.InvalidRequest(string(op), name, "invalid sandbox name: "+strings.Join(errs, "; "))
	}
	return nil
}

// fillRecord completes fields the backend left blank from the request target.
func fillRecord(rec Record, t Target) Record {
	if rec.Name == "" {
		rec.Name = t.Name
	}
	if rec.Namespace == "" {
		rec.Namespace = t.Namespace
	}
	if rec.Identity == "" {
		rec.Identity = t.Identity
	}
	if rec.ServiceAddress == "" {
		rec.ServiceAddress = ServiceAddressPending
	}
	if rec.ReadyState == "" {
		rec.ReadyState = StateUnknown
	}
	return rec
}

// bestEffort runs a step whose failure must never affect the surrounding
// operation. The error is logged and dropped here, explicitly.
func bestEffort(ctx context.Context, step string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		slog.WarnContext(ctx, "best-effort step failed",
			slog.String("step", step),
			slog.Any("error", err))
	}
}

func (c *Client) start(ctx context.Context, op Op, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sandbox."+string(op), trace.WithAttributes(
		attribute.String("sandbox.name", name),
		attribute.String("sandbox.backend", c.backend.Profile()),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
