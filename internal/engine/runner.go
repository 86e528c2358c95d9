// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openserve/model-orchestrator/internal/domain"
	"github.com/openserve/model-orchestrator/internal/metrics"
)

const (
	// Payload keys written when a catchable error is routed to a
	// failure-handling state.
	KeyErrorKind    = "error_kind"
	KeyErrorMessage = "error_message"

	defaultMaxTransitions = 64
	defaultPollInterval   = 5 * time.Second
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
)

type Result struct {
	Outcome Outcome
	Payload Payload
	Failure *domain.RunError
}

type Deps struct {
	Steps  *Registry
	Logger *slog.Logger
	// Sleep overrides the wait implementation; tests inject a fake.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnTransition is invoked before each state executes, with the
	// payload as persisted across the previous state boundary.
	OnTransition func(ctx context.Context, state StateName, p Payload) error
	// OnHeartbeat is invoked after every poll iteration that will loop
	// again. A poll loop can legitimately outlast any staleness window,
	// so this is how long-polling runs keep reporting progress between
	// state boundaries. An error stops the run.
	OnHeartbeat    func(ctx context.Context, state StateName, p Payload) error
	MaxTransitions int
}

// Runner walks a Definition from StartAt to a terminal state, invoking
// one step at a time. Errors listed in a state's Catch set are routed to
// the catch target with error_kind/error_message recorded into the
// payload; any other step error propagates out of Execute unchanged.
type Runner struct {
	steps          *Registry
	logger         *slog.Logger
	sleep          func(ctx context.Context, d time.Duration) error
	onTransition   func(ctx context.Context, state StateName, p Payload) error
	onHeartbeat    func(ctx context.Context, state StateName, p Payload) error
	maxTransitions int
}

func NewRunner(deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepTimer
	}

	maxTransitions := deps.MaxTransitions
	if maxTransitions <= 0 {
		maxTransitions = defaultMaxTransitions
	}

	return &Runner{
		steps:          deps.Steps,
		logger:         logger,
		sleep:          sleep,
		onTransition:   deps.OnTransition,
		onHeartbeat:    deps.OnHeartbeat,
		maxTransitions: maxTransitions,
	}
}

func (r *Runner) Execute(ctx context.Context, def Definition, p Payload) (Result, error) {
	current := def.StartAt

	for transitions := 0; transitions < r.maxTransitions; transitions++ {
		state, ok := def.States[current]
		if !ok {
			return Result{}, fmt.Errorf("workflow %s: undeclared state %q", def.Name, current)
		}

		if r.onTransition != nil {
			if err := r.onTransition(ctx, current, p); err != nil {
				return Result{}, fmt.Errorf("persist transition to %q: %w", current, err)
			}
		}

		switch s := state.(type) {
		case SucceedState:
			r.logger.Info("workflow succeeded", "workflow", def.Name)
			return Result{Outcome: OutcomeSucceeded, Payload: p}, nil

		case FailState:
			failure := failureFromPayload(p)
			r.logger.Info("workflow failed",
				"workflow", def.Name,
				"kind", failure.Kind,
			)
			return Result{Outcome: OutcomeFailed, Payload: p, Failure: &failure}, nil

		case ChoiceState:
			current = chooseNext(s, p)

		case WaitState:
			d := waitDuration(p, s.DurationKey, s.Duration)
			r.logger.Debug("workflow waiting",
				"workflow", def.Name,
				"state", current,
				"duration", d,
			)
			if err := r.sleep(ctx, d); err != nil {
				return Result{}, err
			}
			current = s.Next

		case StepState:
			next, err := r.runStepState(ctx, def, current, s, p)
			if err != nil {
				catchTo, caught := matchCatch(s.Catch, err)
				if !caught {
					return Result{}, err
				}
				r.logger.Warn("step error caught",
					"workflow", def.Name,
					"state", current,
					"step", s.Step,
					"error", err,
				)
				p = p.Merge(map[string]any{
					KeyErrorKind:    domain.ErrorKind(err),
					KeyErrorMessage: err.Error(),
				})
				current = catchTo
				continue
			}
			p = next
			current = s.Next

		default:
			return Result{}, fmt.Errorf("workflow %s: state %q has unknown type %T", def.Name, current, state)
		}
	}

	return Result{}, fmt.Errorf("workflow %s: exceeded %d transitions without reaching a terminal state", def.Name, r.maxTransitions)
}

func (r *Runner) runStepState(ctx context.Context, def Definition, name StateName, state StepState, p Payload) (Payload, error) {
	step, err := r.steps.Resolve(state.Step)
	if err != nil {
		return Payload{}, err
	}

	if state.Poll == nil {
		return r.invoke(ctx, def, step, p)
	}
	return r.runPollLoop(ctx, def, name, state, step, p)
}

// runPollLoop re-invokes a step until its continue flag clears, waiting
// between iterations. This bounds "wait for external convergence": after
// MaxPolls invocations with the flag still set, it raises
// domain.ErrMaxPollsExceeded.
func (r *Runner) runPollLoop(ctx context.Context, def Definition, name StateName, state StepState, step Step, p Payload) (Payload, error) {
	spec := state.Poll

	for iteration := 1; ; iteration++ {
		next, err := r.invoke(ctx, def, step, p)
		if err != nil {
			return Payload{}, err
		}
		p = next
		metrics.IncPollIterations(string(state.Step))

		if !p.Bool(spec.ContinueKey) {
			return p, nil
		}

		if iteration >= spec.MaxPolls {
			return Payload{}, fmt.Errorf("step %s: still polling after %d iterations: %w",
				state.Step, spec.MaxPolls, domain.ErrMaxPollsExceeded)
		}

		if r.onHeartbeat != nil {
			if err := r.onHeartbeat(ctx, name, p); err != nil {
				return Payload{}, fmt.Errorf("heartbeat in %q: %w", name, err)
			}
		}

		d := waitDuration(p, spec.IntervalKey, spec.Interval)
		if d <= 0 {
			d = defaultPollInterval
		}
		r.logger.Debug("poll wait",
			"workflow", def.Name,
			"state", name,
			"step", state.Step,
			"iteration", iteration,
			"wait", d,
		)
		if err := r.sleep(ctx, d); err != nil {
			return Payload{}, err
		}
	}
}

func (r *Runner) invoke(ctx context.Context, def Definition, step Step, p Payload) (Payload, error) {
	started := time.Now()
	next, err := step.Run(ctx, p)
	metrics.ObserveStepDuration(string(step.Name()), time.Since(started))
	if err != nil {
		metrics.IncStepOutcome(string(step.Name()), "error")
		return Payload{}, fmt.Errorf("step %s: %w", step.Name(), err)
	}
	metrics.IncStepOutcome(string(step.Name()), "ok")
	return next, nil
}

func chooseNext(s ChoiceState, p Payload) StateName {
	for _, rule := range s.Rules {
		if rule.When(p) {
			return rule.To
		}
	}
	return s.Otherwise
}

func matchCatch(catches []Catch, err error) (StateName, bool) {
	for _, c := range catches {
		for _, sentinel := range c.Errors {
			if errors.Is(err, sentinel) {
				return c.To, true
			}
		}
	}
	return "", false
}

func waitDuration(p Payload, key string, fallback time.Duration) time.Duration {
	if key != "" && p.Has(key) {
		if seconds := p.Int(key); seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func failureFromPayload(p Payload) domain.RunError {
	failure := domain.RunError{
		Kind:    p.String(KeyErrorKind),
		Message: p.String(KeyErrorMessage),
	}
	if failure.Kind == "" {
		failure.Kind = "workflow_failed"
	}
	return failure
}

func sleepTimer(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
