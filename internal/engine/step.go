// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
)

type StepName string

// Step is one idempotent unit of workflow work. Run returns the payload
// for the next state; re-running with the same payload must be safe
// against the external system the step wraps.
type Step interface {
	Name() StepName
	Run(ctx context.Context, p Payload) (Payload, error)
}

// Registry resolves step names declared by a workflow definition to
// their implementations.
type Registry struct {
	steps map[StepName]Step
}

func NewRegistry() *Registry {
	return &Registry{steps: make(map[StepName]Step, 16)}
}

func (r *Registry) Register(steps ...Step) error {
	for _, s := range steps {
		name := s.Name()
		if name == "" {
			return fmt.Errorf("step with empty name")
		}
		if _, exists := r.steps[name]; exists {
			return fmt.Errorf("step %q registered twice", name)
		}
		r.steps[name] = s
	}
	return nil
}

func (r *Registry) Resolve(name StepName) (Step, error) {
	s, ok := r.steps[name]
	if !ok {
		return nil, fmt.Errorf("no step registered for %q", name)
	}
	return s, nil
}

func (r *Registry) Has(name StepName) bool {
	_, ok := r.steps[name]
	return ok
}

// StepFunc adapts a function to the Step interface.
type StepFunc struct {
	StepName StepName
	Fn       func(ctx context.Context, p Payload) (Payload, error)
}

func (s StepFunc) Name() StepName { return s.StepName }

func (s StepFunc) Run(ctx context.Context, p Payload) (Payload, error) {
	return s.Fn(ctx, p)
}
