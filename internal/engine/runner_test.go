// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/openserve/model-orchestrator/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(t *testing.T) func(ctx context.Context, d time.Duration) error {
	t.Helper()
	return func(ctx context.Context, d time.Duration) error { return nil }
}

func TestRunnerLinearExecution(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	var order []string
	mustRegister(t, reg,
		StepFunc{StepName: "first", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			order = append(order, "first")
			return p.With("first_done", true), nil
		}},
		StepFunc{StepName: "second", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			order = append(order, "second")
			if !p.Bool("first_done") {
				t.Error("expected second step to observe first step's payload")
			}
			return p.With("second_done", true), nil
		}},
	)

	def := Definition{
		Name:    "linear",
		StartAt: "First",
		States: map[StateName]State{
			"First":  StepState{Step: "first", Next: "Second"},
			"Second": StepState{Step: "second", Next: "Done"},
			"Done":   SucceedState{},
		},
	}

	runner := NewRunner(Deps{Steps: reg, Logger: discardLogger(), Sleep: noSleep(t)})
	result, err := runner.Execute(context.Background(), def, NewPayload(nil))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if result.Outcome != OutcomeSucceeded {
		t.Fatalf("expected outcome SUCCEEDED got %s", result.Outcome)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected steps in order [first second] got %v", order)
	}
	if !result.Payload.Bool("second_done") {
		t.Fatal("expected final payload to carry second step's write")
	}
}

func TestRunnerChoiceFirstMatchWins(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	var taken string
	mustRegister(t, reg,
		StepFunc{StepName: "a", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			taken = "a"
			return p, nil
		}},
		StepFunc{StepName: "b", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			taken = "b"
			return p, nil
		}},
	)

	def := Definition{
		Name:    "choice",
		StartAt: "Pick",
		States: map[StateName]State{
			"Pick": ChoiceState{
				Rules: []Rule{
					{When: func(p Payload) bool { return p.Bool("both") }, To: "A"},
					{When: func(p Payload) bool { return p.Bool("both") }, To: "B"},
				},
				Otherwise: "Done",
			},
			"A":    StepState{Step: "a", Next: "Done"},
			"B":    StepState{Step: "b", Next: "Done"},
			"Done": SucceedState{},
		},
	}

	runner := NewRunner(Deps{Steps: reg, Logger: discardLogger(), Sleep: noSleep(t)})

	// Both rules match; declaration order decides.
	if _, err := runner.Execute(context.Background(), def, NewPayload(map[string]any{"both": true})); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if taken != "a" {
		t.Fatalf("expected first matching rule to win, took %q", taken)
	}

	// No rule matches; otherwise branch runs.
	taken = ""
	if _, err := runner.Execute(context.Background(), def, NewPayload(nil)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if taken != "" {
		t.Fatalf("expected otherwise branch to skip steps, took %q", taken)
	}
}

func TestRunnerCatchRoutesToFailureHandler(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	var handlerPayload Payload
	mustRegister(t, reg,
		StepFunc{StepName: "explode", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			return Payload{}, domain.ErrStackFailedToCreate
		}},
		StepFunc{StepName: "handle", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			handlerPayload = p
			return p, nil
		}},
	)

	def := Definition{
		Name:    "catching",
		StartAt: "Explode",
		States: map[StateName]State{
			"Explode": StepState{
				Step: "explode",
				Next: "Done",
				Catch: []Catch{
					{Errors: []error{domain.ErrStackFailedToCreate}, To: "Handle"},
				},
			},
			"Handle": StepState{Step: "handle", Next: "Fail"},
			"Done":   SucceedState{},
			"Fail":   FailState{},
		},
	}

	runner := NewRunner(Deps{Steps: reg, Logger: discardLogger(), Sleep: noSleep(t)})
	result, err := runner.Execute(context.Background(), def, NewPayload(nil))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected outcome FAILED got %s", result.Outcome)
	}
	if result.Failure == nil || result.Failure.Kind != "stack_failed_to_create" {
		t.Fatalf("expected failure kind stack_failed_to_create got %+v", result.Failure)
	}
	if handlerPayload.String(KeyErrorKind) != "stack_failed_to_create" {
		t.Fatalf("expected handler to see error_kind, got %q", handlerPayload.String(KeyErrorKind))
	}
	if handlerPayload.String(KeyErrorMessage) == "" {
		t.Fatal("expected handler to see error_message")
	}
}

func TestRunnerUnmodeledErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("unexpected dependency outage")

	reg := NewRegistry()
	mustRegister(t, reg,
		StepFunc{StepName: "explode", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			return Payload{}, boom
		}},
	)

	def := Definition{
		Name:    "aborting",
		StartAt: "Explode",
		States: map[StateName]State{
			"Explode": StepState{
				Step: "explode",
				Next: "Done",
				Catch: []Catch{
					{Errors: []error{domain.ErrMaxPollsExceeded}, To: "Done"},
				},
			},
			"Done": SucceedState{},
		},
	}

	runner := NewRunner(Deps{Steps: reg, Logger: discardLogger(), Sleep: noSleep(t)})
	_, err := runner.Execute(context.Background(), def, NewPayload(nil))
	if !errors.Is(err, boom) {
		t.Fatalf("expected unmodeled error to propagate, got %v", err)
	}
}

func TestRunnerPollLoopConverges(t *testing.T) {
	t.Parallel()

	var sleeps []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	reg := NewRegistry()
	checks := 0
	mustRegister(t, reg,
		StepFunc{StepName: "poll", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			checks++
			return p.With("keep_polling", checks < 3), nil
		}},
	)

	def := Definition{
		Name:    "polling",
		StartAt: "Poll",
		States: map[StateName]State{
			"Poll": StepState{
				Step: "poll",
				Poll: &PollSpec{ContinueKey: "keep_polling", Interval: 2 * time.Second, MaxPolls: 10},
				Next: "Done",
			},
			"Done": SucceedState{},
		},
	}

	runner := NewRunner(Deps{Steps: reg, Logger: discardLogger(), Sleep: sleep})
	result, err := runner.Execute(context.Background(), def, NewPayload(nil))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if result.Outcome != OutcomeSucceeded {
		t.Fatalf("expected outcome SUCCEEDED got %s", result.Outcome)
	}
	if checks != 3 {
		t.Fatalf("expected 3 poll invocations got %d", checks)
	}
	// Two waits between three invocations, at the fixed interval.
	if len(sleeps) != 2 || sleeps[0] != 2*time.Second || sleeps[1] != 2*time.Second {
		t.Fatalf("expected two 2s waits got %v", sleeps)
	}
}

func TestRunnerPollLoopUsesPayloadInterval(t *testing.T) {
	t.Parallel()

	var sleeps []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	reg := NewRegistry()
	checks := 0
	mustRegister(t, reg,
		StepFunc{StepName: "poll", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			checks++
			return p.With("keep_polling", checks < 2), nil
		}},
	)

	def := Definition{
		Name:    "polling",
		StartAt: "Poll",
		States: map[StateName]State{
			"Poll": StepState{
				Step: "poll",
				Poll: &PollSpec{
					ContinueKey: "keep_polling",
					Interval:    2 * time.Second,
					IntervalKey: "model_warmup_seconds",
					MaxPolls:    10,
				},
				Next: "Done",
			},
			"Done": SucceedState{},
		},
	}

	runner := NewRunner(Deps{Steps: reg, Logger: discardLogger(), Sleep: sleep})
	payload := NewPayload(map[string]any{"model_warmup_seconds": 45})
	if _, err := runner.Execute(context.Background(), def, payload); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(sleeps) != 1 || sleeps[0] != 45*time.Second {
		t.Fatalf("expected one 45s wait from payload interval got %v", sleeps)
	}
}

func TestRunnerPollLoopBoundExceeded(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	checks := 0
	mustRegister(t, reg,
		StepFunc{StepName: "poll", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			checks++
			return p.With("keep_polling", true), nil
		}},
	)

	def := Definition{
		Name:    "polling",
		StartAt: "Poll",
		States: map[StateName]State{
			"Poll": StepState{
				Step: "poll",
				Poll: &PollSpec{ContinueKey: "keep_polling", Interval: time.Second, MaxPolls: 4},
				Next: "Done",
			},
			"Done": SucceedState{},
		},
	}

	runner := NewRunner(Deps{Steps: reg, Logger: discardLogger(), Sleep: noSleep(t)})
	_, err := runner.Execute(context.Background(), def, NewPayload(nil))
	if !errors.Is(err, domain.ErrMaxPollsExceeded) {
		t.Fatalf("expected ErrMaxPollsExceeded got %v", err)
	}
	if checks != 4 {
		t.Fatalf("expected exactly MaxPolls invocations got %d", checks)
	}
}

func TestRunnerPollLoopHeartbeatsEveryIteration(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	checks := 0
	mustRegister(t, reg,
		StepFunc{StepName: "poll", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			checks++
			return p.With("keep_polling", checks < 4), nil
		}},
	)

	def := Definition{
		Name:    "heartbeating",
		StartAt: "Poll",
		States: map[StateName]State{
			"Poll": StepState{
				Step: "poll",
				Poll: &PollSpec{ContinueKey: "keep_polling", Interval: time.Second, MaxPolls: 10},
				Next: "Done",
			},
			"Done": SucceedState{},
		},
	}

	var beats []StateName
	runner := NewRunner(Deps{
		Steps:  reg,
		Logger: discardLogger(),
		Sleep:  noSleep(t),
		OnHeartbeat: func(ctx context.Context, state StateName, p Payload) error {
			beats = append(beats, state)
			return nil
		},
	})

	result, err := runner.Execute(context.Background(), def, NewPayload(nil))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Outcome != OutcomeSucceeded {
		t.Fatalf("expected outcome SUCCEEDED got %s", result.Outcome)
	}

	// One heartbeat before each of the three waits; none after the
	// converging invocation.
	if len(beats) != 3 {
		t.Fatalf("expected 3 heartbeats got %d", len(beats))
	}
	for _, state := range beats {
		if state != "Poll" {
			t.Fatalf("expected heartbeats from state Poll, got %s", state)
		}
	}
}

func TestRunnerHeartbeatErrorStopsRun(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	checks := 0
	mustRegister(t, reg,
		StepFunc{StepName: "poll", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			checks++
			return p.With("keep_polling", true), nil
		}},
	)

	def := Definition{
		Name:    "stolen",
		StartAt: "Poll",
		States: map[StateName]State{
			"Poll": StepState{
				Step: "poll",
				Poll: &PollSpec{ContinueKey: "keep_polling", Interval: time.Second, MaxPolls: 10},
				Next: "Done",
			},
			"Done": SucceedState{},
		},
	}

	wantErr := errors.New("no longer owned")
	runner := NewRunner(Deps{
		Steps:  reg,
		Logger: discardLogger(),
		Sleep:  noSleep(t),
		OnHeartbeat: func(ctx context.Context, state StateName, p Payload) error {
			return wantErr
		},
	})

	_, err := runner.Execute(context.Background(), def, NewPayload(nil))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected heartbeat error to propagate, got %v", err)
	}
	if checks != 1 {
		t.Fatalf("expected the loop to stop after the first failed heartbeat, got %d invocations", checks)
	}
}

func TestRunnerWaitStateReadsPayloadDuration(t *testing.T) {
	t.Parallel()

	var sleeps []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	def := Definition{
		Name:    "waiting",
		StartAt: "Warmup",
		States: map[StateName]State{
			"Warmup": WaitState{Duration: 30 * time.Second, DurationKey: "model_warmup_seconds", Next: "Done"},
			"Done":   SucceedState{},
		},
	}

	runner := NewRunner(Deps{Steps: NewRegistry(), Logger: discardLogger(), Sleep: sleep})

	// Payload-carried duration wins.
	payload := NewPayload(map[string]any{"model_warmup_seconds": 90})
	if _, err := runner.Execute(context.Background(), def, payload); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(sleeps) != 1 || sleeps[0] != 90*time.Second {
		t.Fatalf("expected 90s wait got %v", sleeps)
	}

	// Missing key falls back to the fixed duration.
	sleeps = nil
	if _, err := runner.Execute(context.Background(), def, NewPayload(nil)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(sleeps) != 1 || sleeps[0] != 30*time.Second {
		t.Fatalf("expected 30s fallback wait got %v", sleeps)
	}
}

func TestRunnerOnTransitionObservesEveryState(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	mustRegister(t, reg,
		StepFunc{StepName: "work", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			return p.With("worked", true), nil
		}},
	)

	def := Definition{
		Name:    "observed",
		StartAt: "Work",
		States: map[StateName]State{
			"Work": StepState{Step: "work", Next: "Done"},
			"Done": SucceedState{},
		},
	}

	var seen []StateName
	runner := NewRunner(Deps{
		Steps:  reg,
		Logger: discardLogger(),
		Sleep:  noSleep(t),
		OnTransition: func(ctx context.Context, state StateName, p Payload) error {
			seen = append(seen, state)
			return nil
		},
	})

	if _, err := runner.Execute(context.Background(), def, NewPayload(nil)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(seen) != 2 || seen[0] != "Work" || seen[1] != "Done" {
		t.Fatalf("expected transitions [Work Done] got %v", seen)
	}
}

func TestRunnerOnTransitionErrorStopsRun(t *testing.T) {
	t.Parallel()

	persistErr := errors.New("db unavailable")
	runner := NewRunner(Deps{
		Steps:  NewRegistry(),
		Logger: discardLogger(),
		Sleep:  noSleep(t),
		OnTransition: func(ctx context.Context, state StateName, p Payload) error {
			return persistErr
		},
	})

	def := Definition{
		Name:    "persisted",
		StartAt: "Done",
		States:  map[StateName]State{"Done": SucceedState{}},
	}

	_, err := runner.Execute(context.Background(), def, NewPayload(nil))
	if !errors.Is(err, persistErr) {
		t.Fatalf("expected persistence error to propagate, got %v", err)
	}
}

func TestRunnerTransitionBound(t *testing.T) {
	t.Parallel()

	// A choice that always routes back through declared states would be
	// caught by Validate; here the bound is exercised directly with a
	// tiny limit.
	reg := NewRegistry()
	mustRegister(t, reg,
		StepFunc{StepName: "work", Fn: func(ctx context.Context, p Payload) (Payload, error) {
			return p, nil
		}},
	)

	def := Definition{
		Name:    "bounded",
		StartAt: "A",
		States: map[StateName]State{
			"A":    StepState{Step: "work", Next: "B"},
			"B":    StepState{Step: "work", Next: "Done"},
			"Done": SucceedState{},
		},
	}

	runner := NewRunner(Deps{Steps: reg, Logger: discardLogger(), Sleep: noSleep(t), MaxTransitions: 2})
	_, err := runner.Execute(context.Background(), def, NewPayload(nil))
	if err == nil {
		t.Fatal("expected transition bound error")
	}
}

func mustRegister(t *testing.T, reg *Registry, steps ...Step) {
	t.Helper()
	if err := reg.Register(steps...); err != nil {
		t.Fatalf("register steps: %v", err)
	}
}
