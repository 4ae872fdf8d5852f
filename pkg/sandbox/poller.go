package sandbox

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollAttempts = 12
)

// PollState is the state of a readiness wait.
type PollState int

const (
	PollPolling PollState = iota
	PollReady
	PollTimedOut
	PollErrored
)

func (s PollState) String() string {
	switch s {
	case PollPolling:
		return "polling"
	case PollReady:
		return "ready"
	case PollTimedOut:
		return "timed_out"
	case PollErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// SleepFunc blocks for d or until ctx ends, returning ctx.Err() in the latter
// case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the default SleepFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Probe performs one status round trip.
type Probe func(ctx context.Context) Reply[Record]

// Poller waits for a sandbox to report Ready with a fixed interval and a
// bounded number of attempts.
type Poller struct {
	Interval time.Duration
	Attempts int
	Sleep    SleepFunc
}

// PollResult is the terminal outcome of Poller.Wait.
type PollResult struct {
	State    PollState
	Attempts int
	// Last is the most recent successfully observed snapshot, if any.
	Last *Record
	// Failure is set when State is PollErrored.
	Failure *Failure
}

// Wait probes until Ready is observed, the attempts are used up or the wait
// fails fatally. Unreachable and non-success answers count as "not ready yet".
// Only cancellation and malformed payloads end the wait early.
//
// There is no sleep after the final attempt, so Wait never blocks longer than
// Attempts × Interval plus the probes themselves.
func (p Poller) Wait(ctx context.Context, probe Probe) PollResult {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	res := PollResult{State: PollPolling}
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return res.errored(TransportFailure(ctx, err))
		}

		res.Attempts = i
		reply := probe(ctx)
		if reply.OK() {
			rec := reply.Payload
			res.Last = &rec
			if rec.ReadyState == StateReady {
				res.State = PollReady
				return res
			}
		} else {
			f := reply.Failure
			if f.Kind == FailureCancelled || f.Kind == FailureMalformed {
				return res.errored(f)
			}
			if err := ctx.Err(); err != nil {
				return res.errored(TransportFailure(ctx, err))
			}
			slog.DebugContext(ctx, "readiness probe failed, retrying",
				slog.Int("attempt", i),
				slog.String("kind", f.Kind.String()),
				slog.Any("error", f))
		}

		if i < attempts {
			if err := sleep(ctx, p.Interval); err != nil {
				return res.errored(TransportFailure(ctx, err))
			}
		}
	}

	res.State = PollTimedOut
	return res
}

func (r PollResult) errored(f *Failure) PollResult {
	r.State = PollErrored
	r.Failure = f
	return r
}
