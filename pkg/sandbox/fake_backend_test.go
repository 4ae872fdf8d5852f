package sandbox

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

// fakeBackend is an in-memory control plane. Sandboxes become Ready after
// readyAfter status calls; statusFailures injects transient failures.
type fakeBackend struct {
	mu sync.Mutex

	calls      map[Op]int
	sandboxes  map[string]Record
	order      []string
	readyAfter int
	statusSeen map[string]int

	createFailure  *Failure
	statusFailures []*Failure
	execReply      *Reply[ExecResult]
	lastCommand    string

	pushed    []RuntimeConfig
	pushError error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls:      map[Op]int{},
		sandboxes:  map[string]Record{},
		statusSeen: map[string]int{},
	}
}

func key(t Target) string {
	return t.Identity + "/" + t.Namespace + "/" + t.Name
}

func (f *fakeBackend) count(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeBackend) Profile() string { return "fake" }

func (f *fakeBackend) Create(_ context.Context, t Target, spec Spec) Reply[Record] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[OpCreate]++

	if f.createFailure != nil {
		return Fail[Record](f.createFailure)
	}
	if _, ok := f.sandboxes[key(t)]; ok {
		return Fail[Record](StatusFailure(http.StatusConflict, "sandbox "+t.Name+" already exists"))
	}
	rec := Record{
		Name:           spec.Name,
		Namespace:      spec.Namespace,
		Identity:       spec.Identity,
		ServiceAddress: ServiceAddressPending,
		ReadyState:     StatePending,
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	f.sandboxes[key(t)] = rec
	f.order = append(f.order, key(t))
	return Success(rec)
}

func (f *fakeBackend) Status(_ context.Context, t Target) Reply[Record] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[OpStatus]++

	if len(f.statusFailures) > 0 {
		next := f.statusFailures[0]
		f.statusFailures = f.statusFailures[1:]
		if next != nil {
			return Fail[Record](next)
		}
	}

	rec, ok := f.sandboxes[key(t)]
	if !ok {
		return Fail[Record](StatusFailure(http.StatusNotFound, "sandbox "+t.Name+" not found"))
	}
	f.statusSeen[key(t)]++
	if rec.ReadyState == StatePending && f.readyAfter > 0 && f.statusSeen[key(t)] >= f.readyAfter {
		rec.ReadyState = StateReady
		rec.ServiceAddress = t.Name + ".svc:8080"
		f.sandboxes[key(t)] = rec
	}
	return Success(rec)
}

func (f *fakeBackend) List(_ context.Context, s Scope) Reply[[]Record] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[OpList]++

	out := []Record{}
	for _, k := range f.order {
		rec, ok := f.sandboxes[k]
		if ok && rec.Identity == s.Identity && rec.Namespace == s.Namespace {
			out = append(out, rec)
		}
	}
	return Success(out)
}

func (f *fakeBackend) Delete(_ context.Context, t Target) Reply[struct{}] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[OpDelete]++

	if _, ok := f.sandboxes[key(t)]; !ok {
		return Fail[struct{}](StatusFailure(http.StatusNotFound, "sandbox "+t.Name+" not found"))
	}
	delete(f.sandboxes, key(t))
	return Success(struct{}{})
}

func (f *fakeBackend) Pause(_ context.Context, t Target) Reply[Record] {
	return f.setState(OpPause, t, StateReady, StatePaused)
}

func (f *fakeBackend) Resume(_ context.Context, t Target) Reply[Record] {
	return f.setState(OpResume, t, StatePaused, StateReady)
}

func (f *fakeBackend) setState(op Op, t Target, from, to ReadyState) Reply[Record] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++

	rec, ok := f.sandboxes[key(t)]
	if !ok {
		return Fail[Record](StatusFailure(http.StatusNotFound, "sandbox "+t.Name+" not found"))
	}
	if rec.ReadyState != from {
		return Fail[Record](StatusFailure(http.StatusConflict, "cannot "+string(op)+" sandbox in state "+string(rec.ReadyState)))
	}
	rec.ReadyState = to
	f.sandboxes[key(t)] = rec
	return Success(rec)
}

func (f *fakeBackend) Exec(_ context.Context, _ Target, command string) Reply[ExecResult] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[OpExec]++
	f.lastCommand = command

	if f.execReply != nil {
		return *f.execReply
	}
	return Success(ExecResult{Output: "ok\n", ExitCode: 0})
}

func (f *fakeBackend) PushConfig(_ context.Context, _ Target, _ Record, cfg RuntimeConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[OpConfigure]++
	f.pushed = append(f.pushed, cfg)
	return f.pushError
}

var errBoom = errors.New("boom")
