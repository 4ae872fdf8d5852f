package sandbox

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curaious/sandboxctl/internal/perrors"
)

func testSettings() Settings {
	return Settings{
		Endpoint:         "http://proxy.test",
		DefaultImage:     "ghcr.io/example/sandbox:latest",
		DefaultPort:      8080,
		DefaultIdentity:  "alice",
		DefaultNamespace: "sandboxes",
		PollInterval:     5 * time.Second,
		PollAttempts:     12,
	}
}

// recordingSleep counts sleeps without blocking.
type recordingSleep struct {
	calls int
	total time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.calls++
	r.total += d
	return ctx.Err()
}

func newTestClient(t *testing.T, backend Backend, settings Settings) (*Client, *recordingSleep) {
	t.Helper()
	rs := &recordingSleep{}
	return NewClient(settings, backend, WithSleep(rs.sleep)), rs
}

func TestCreateThenStatus(t *testing.T) {
	backend := newFakeBackend()
	backend.readyAfter = 1
	client, _ := newTestClient(t, backend, testSettings())
	ctx := context.Background()

	res, err := client.Create(ctx, Spec{Name: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", res.Record.Name)

	rec, err := client.Status(ctx, Target{Name: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", rec.Name)
	assert.Contains(t, []ReadyState{StatePending, StateReady}, rec.ReadyState)
}

func TestCreateAppliesDefaults(t *testing.T) {
	backend := newFakeBackend()
	backend.readyAfter = 1
	client, _ := newTestClient(t, backend, testSettings())

	res, err := client.Create(context.Background(), Spec{Name: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Record.Identity)
	assert.Equal(t, "sandboxes", res.Record.Namespace)
}

func TestCreateReadyOnThirdAttempt(t *testing.T) {
	backend := newFakeBackend()
	backend.readyAfter = 3
	client, rs := newTestClient(t, backend, testSettings())

	res, err := client.Create(context.Background(), Spec{Name: "s1"})
	require.NoError(t, err)

	assert.Equal(t, StateReady, res.Record.ReadyState)
	assert.Equal(t, PollReady, res.PollState)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, backend.count(OpStatus))
	assert.Equal(t, 2, rs.calls)
}

func TestCreateTimesOutAsPending(t *testing.T) {
	backend := newFakeBackend()
	client, rs := newTestClient(t, backend, testSettings())

	res, err := client.Create(context.Background(), Spec{Name: "s1"})
	require.NoError(t, err)

	assert.Equal(t, StatePending, res.Record.ReadyState)
	assert.Equal(t, PollTimedOut, res.PollState)
	assert.Equal(t, 12, backend.count(OpStatus))
	assert.LessOrEqual(t, rs.total, 12*5*time.Second)
}

func TestCreateMissingEndpointMakesNoCalls(t *testing.T) {
	backend := newFakeBackend()
	settings := testSettings()
	settings.Endpoint = ""
	client, _ := newTestClient(t, backend, settings)

	_, err := client.Create(context.Background(), Spec{Name: "s1"})
	require.Error(t, err)

	assert.True(t, perrors.Is(err, perrors.ErrCodeConfigMissing))
	assert.Contains(t, err.Error(), "endpoint")
	assert.Zero(t, backend.totalCalls())
}

func TestCreateMissingImageMakesNoCalls(t *testing.T) {
	backend := newFakeBackend()
	settings := testSettings()
	settings.DefaultImage = ""
	client, _ := newTestClient(t, backend, settings)

	_, err := client.Create(context.Background(), Spec{Name: "s1"})
	assert.True(t, perrors.Is(err, perrors.ErrCodeConfigMissing))
	assert.Contains(t, err.Error(), "default_image")
	assert.Zero(t, backend.totalCalls())
}

func TestCreateValidatesName(t *testing.T) {
	backend := newFakeBackend()
	client, _ := newTestClient(t, backend, testSettings())

	for _, name := range []string{"", "Bad_Name", "-leading"} {
		_, err := client.Create(context.Background(), Spec{Name: name})
		assert.True(t, perrors.Is(err, perrors.ErrCodeInvalidRequest), "name %q", name)
	}
	assert.Zero(t, backend.totalCalls())
}

func TestCreateRejectedCarriesBackendMessage(t *testing.T) {
	backend := newFakeBackend()
	backend.createFailure = StatusFailure(http.StatusUnprocessableEntity, "quota exceeded for identity alice")
	client, _ := newTestClient(t, backend, testSettings())

	_, err := client.Create(context.Background(), Spec{Name: "s1"})
	require.Error(t, err)

	assert.True(t, perrors.Is(err, perrors.ErrCodeCreateRejected))
	assert.Contains(t, err.Error(), "quota exceeded for identity alice")
	assert.Contains(t, err.Error(), "s1")
	assert.Zero(t, backend.count(OpStatus))
}

func TestCreateDuplicateIsRejected(t *testing.T) {
	backend := newFakeBackend()
	backend.readyAfter = 1
	client, _ := newTestClient(t, backend, testSettings())

	_, err := client.Create(context.Background(), Spec{Name: "s1"})
	require.NoError(t, err)
	_, err = client.Create(context.Background(), Spec{Name: "s1"})
	assert.True(t, perrors.Is(err, perrors.ErrCodeCreateRejected))
}

func TestCreateToleratesTransientStatusFailures(t *testing.T) {
	backend := newFakeBackend()
	backend.readyAfter = 1
	backend.statusFailures = []*Failure{
		{Kind: FailureUnreachable, Message: "connection refused", Err: errBoom},
		StatusFailure(http.StatusBadGateway, "upstream not ready"),
	}
	client, _ := newTestClient(t, backend, testSettings())

	res, err := client.Create(context.Background(), Spec{Name: "s1"})
	require.NoError(t, err)
	assert.Equal(t, StateReady, res.Record.ReadyState)
	assert.Equal(t, 3, res.Attempts)
}

func TestCreateMalformedStatusIsBackendError(t *testing.T) {
	backend := newFakeBackend()
	backend.statusFailures = []*Failure{MalformedFailure(errors.New("unexpected end of JSON input"))}
	client, _ := newTestClient(t, backend, testSettings())

	_, err := client.Create(context.Background(), Spec{Name: "s1"})
	assert.True(t, perrors.Is(err, perrors.ErrCodeBackendError))
	assert.Contains(t, err.Error(), "unexpected end of JSON input")
	assert.Equal(t, 1, backend.count(OpStatus))
}

func TestCreateCancelledMidPoll(t *testing.T) {
	backend := newFakeBackend()
	ctx, cancel := context.WithCancel(context.Background())
	sleeps := 0
	client := NewClient(testSettings(), backend, WithSleep(func(ctx context.Context, _ time.Duration) error {
		sleeps++
		if sleeps == 2 {
			cancel()
		}
		return ctx.Err()
	}))

	_, err := client.Create(ctx, Spec{Name: "s1"})
	require.Error(t, err)
	assert.True(t, perrors.Is(err, perrors.ErrCodeCancelled))
	assert.Equal(t, 2, backend.count(OpStatus))
}

func TestCreatePushesRuntimeConfigOnceReady(t *testing.T) {
	backend := newFakeBackend()
	backend.readyAfter = 1
	settings := testSettings()
	settings.RuntimeEnv = map[string]string{"FOO": "bar"}
	client, _ := newTestClient(t, backend, settings)

	_, err := client.Create(context.Background(), Spec{Name: "s1"})
	require.NoError(t, err)

	require.Len(t, backend.pushed, 1)
	assert.Equal(t, "alice", backend.pushed[0].Identity)
	assert.Equal(t, "bar", backend.pushed[0].Env["FOO"])
}

func TestCreateIgnoresRuntimeConfigFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.readyAfter = 1
	backend.pushError = errBoom
	client, _ := newTestClient(t, backend, testSettings())

	res, err := client.Create(context.Background(), Spec{Name: "s1"})
	require.NoError(t, err)
	assert.Equal(t, StateReady, res.Record.ReadyState)
	assert.Equal(t, 1, backend.count(OpConfigure))
}

func TestCreateSkipsRuntimeConfigWithoutEndpoint(t *testing.T) {
	backend := newFakeBackend()
	client, _ := newTestClient(t, backend, testSettings())

	_, err := client.Create(context.Background(), Spec{Name: "s1"})
	require.NoError(t, err)
	assert.Zero(t, backend.count(OpConfigure))
}

func TestStatusNotFound(t *testing.T) {
	backend := newFakeBackend()
	client, _ := newTestClient(t, backend, testSettings())

	_, err := client.Status(context.Background(), Target{Name: "ghost"})
	assert.True(t, perrors.Is(err, perrors.ErrCodeNotFound))
	assert.False(t, perrors.Is(err, perrors.ErrCodeBackendError))
}

func TestListIncludesEachSandboxOnce(t *testing.T) {
	backend := newFakeBackend()
	backend.readyAfter = 1
	client, _ := newTestClient(t, backend, testSettings())
	ctx := context.Background()

	for _, name := range []string{"b", "a"} {
		_, err := client.Create(ctx, Spec{Name: name})
		require.NoError(t, err)
	}

	records, err := client.List(ctx, Scope{})
	require.NoError(t, err)

	seen := map[string]int{}
	for _, rec := range records {
		seen[rec.Name]++
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, seen)
}

func TestListEmpty(t *testing.T) {
	client, _ := newTestClient(t, newFakeBackend(), testSettings())

	records, err := client.List(context.Background(), Scope{})
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestDeleteTwiceIsNotFound(t *testing.T) {
	backend := newFakeBackend()
	backend.readyAfter = 1
	client, _ := newTestClient(t, backend, testSettings())
	ctx := context.Background()

	_, err := client.Create(ctx, Spec{Name: "s1"})
	require.NoError(t, err)

	require.NoError(t, client.Delete(ctx, Target{Name: "s1"}))
	err = client.Delete(ctx, Target{Name: "s1"})
	assert.True(t, perrors.Is(err, perrors.ErrCodeNotFound))

	err = client.Delete(ctx, Target{Name: "never-created"})
	assert.True(t, perrors.Is(err, perrors.ErrCodeNotFound))
}

func TestPauseResume(t *testing.T) {
	backend := newFakeBackend()
	backend.readyAfter = 1
	client, _ := newTestClient(t, backend, testSettings())
	ctx := context.Background()

	_, err := client.Create(ctx, Spec{Name: "s1"})
	require.NoError(t, err)

	rec, err := client.Pause(ctx, Target{Name: "s1"})
	require.NoError(t, err)
	assert.Equal(t, StatePaused, rec.ReadyState)

	_, err = client.Pause(ctx, Target{Name: "s1"})
	assert.True(t, perrors.Is(err, perrors.ErrCodeBackendError))
	assert.Contains(t, err.Error(), "cannot pause sandbox in state Paused")

	rec, err = client.Resume(ctx, Target{Name: "s1"})
	require.NoError(t, err)
	assert.Equal(t, StateReady, rec.ReadyState)
}

func TestExecNonZeroExitIsData(t *testing.T) {
	backend := newFakeBackend()
	reply := Success(ExecResult{Output: "no such file\n", ExitCode: 2, SessionID: "sess-1"})
	backend.execReply = &reply
	client, _ := newTestClient(t, backend, testSettings())

	res, err := client.Exec(context.Background(), Target{Name: "s1"}, "ls /missing")
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "sess-1", res.SessionID)
	assert.Equal(t, "ls /missing", backend.lastCommand)
}

func TestExecRoundTripFailure(t *testing.T) {
	backend := newFakeBackend()
	reply := Fail[ExecResult](StatusFailure(http.StatusBadGateway, "sandbox unreachable"))
	backend.execReply = &reply
	client, _ := newTestClient(t, backend, testSettings())

	_, err := client.Exec(context.Background(), Target{Name: "s1"}, "true")
	assert.True(t, perrors.Is(err, perrors.ErrCodeExecutionFailed))
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "sandbox unreachable")
}

func TestExecEmptyCommand(t *testing.T) {
	backend := newFakeBackend()
	client, _ := newTestClient(t, backend, testSettings())

	_, err := client.Exec(context.Background(), Target{Name: "s1"}, "   ")
	assert.True(t, perrors.Is(err, perrors.ErrCodeInvalidRequest))
	assert.Zero(t, backend.count(OpExec))
}

func TestEndpointOptionalProfiles(t *testing.T) {
	backend := newFakeBackend()
	settings := testSettings()
	settings.Endpoint = ""
	settings.EndpointOptional = true
	client, _ := newTestClient(t, backend, settings)

	_, err := client.List(context.Background(), Scope{})
	require.NoError(t, err)
}
