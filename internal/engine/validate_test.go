// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"strings"
	"testing"
)

func testRegistry(t *testing.T, names ...StepName) *Registry {
	t.Helper()

	reg := NewRegistry()
	for _, name := range names {
		err := reg.Register(StepFunc{
			StepName: name,
			Fn: func(ctx context.Context, p Payload) (Payload, error) {
				return p, nil
			},
		})
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return reg
}

func validLinearDefinition() Definition {
	return Definition{
		Name:    "test",
		StartAt: "Work",
		States: map[StateName]State{
			"Work": StepState{Step: "work", Next: "Done"},
			"Done": SucceedState{},
		},
	}
}

func TestValidateAcceptsLinearDefinition(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t, "work")
	if err := Validate(validLinearDefinition(), reg); err != nil {
		t.Fatalf("expected valid definition, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		def     Definition
		steps   []StepName
		wantSub string
	}{
		{
			name:    "empty start",
			def:     Definition{Name: "t", States: map[StateName]State{"Done": SucceedState{}}},
			wantSub: "empty StartAt",
		},
		{
			name: "undeclared start",
			def: Definition{Name: "t", StartAt: "Nope", States: map[StateName]State{
				"Done": SucceedState{},
			}},
			wantSub: "not declared",
		},
		{
			name: "choice without otherwise",
			def: Definition{Name: "t", StartAt: "Pick", States: map[StateName]State{
				"Pick": ChoiceState{Rules: []Rule{{When: func(p Payload) bool { return true }, To: "Done"}}},
				"Done": SucceedState{},
			}},
			wantSub: "no otherwise",
		},
		{
			name: "choice with nil predicate",
			def: Definition{Name: "t", StartAt: "Pick", States: map[StateName]State{
				"Pick": ChoiceState{
					Rules:     []Rule{{When: nil, To: "Done"}},
					Otherwise: "Done",
				},
				"Done": SucceedState{},
			}},
			wantSub: "nil predicate",
		},
		{
			name: "undeclared target",
			def: Definition{Name: "t", StartAt: "Work", States: map[StateName]State{
				"Work": StepState{Step: "work", Next: "Ghost"},
				"Done": SucceedState{},
			}},
			steps:   []StepName{"work"},
			wantSub: "undeclared state",
		},
		{
			name: "two succeed states",
			def: Definition{Name: "t", StartAt: "Work", States: map[StateName]State{
				"Work":  StepState{Step: "work", Next: "Done"},
				"Done":  SucceedState{},
				"Done2": SucceedState{},
			}},
			steps:   []StepName{"work"},
			wantSub: "exactly one succeed",
		},
		{
			name: "no succeed state",
			def: Definition{Name: "t", StartAt: "Work", States: map[StateName]State{
				"Work": StepState{Step: "work", Next: "Work2"},
				"Work2": StepState{
					Step: "work", Next: "Fail",
				},
				"Fail": FailState{},
			}},
			steps:   []StepName{"work"},
			wantSub: "exactly one succeed",
		},
		{
			name: "two fail states",
			def: Definition{Name: "t", StartAt: "Pick", States: map[StateName]State{
				"Pick": ChoiceState{
					Rules:     []Rule{{When: func(p Payload) bool { return true }, To: "Done"}},
					Otherwise: "Fail1",
				},
				"Done":  SucceedState{},
				"Fail1": FailState{},
				"Fail2": FailState{},
			}},
			wantSub: "at most one fail",
		},
		{
			name: "cycle",
			def: Definition{Name: "t", StartAt: "A", States: map[StateName]State{
				"A": StepState{Step: "work", Next: "B"},
				"B": StepState{Step: "work", Next: "A", Catch: []Catch{{Errors: nil, To: "Done"}}},
				"Done": SucceedState{},
			}},
			steps:   []StepName{"work"},
			wantSub: "cycle",
		},
		{
			name: "unreachable state",
			def: Definition{Name: "t", StartAt: "Work", States: map[StateName]State{
				"Work":   StepState{Step: "work", Next: "Done"},
				"Orphan": StepState{Step: "work", Next: "Done"},
				"Done":   SucceedState{},
			}},
			steps:   []StepName{"work"},
			wantSub: "unreachable",
		},
		{
			name: "unregistered step",
			def: Definition{Name: "t", StartAt: "Work", States: map[StateName]State{
				"Work": StepState{Step: "ghost_step", Next: "Done"},
				"Done": SucceedState{},
			}},
			wantSub: "unregistered step",
		},
		{
			name: "poll without continue key",
			def: Definition{Name: "t", StartAt: "Poll", States: map[StateName]State{
				"Poll": StepState{Step: "work", Poll: &PollSpec{MaxPolls: 5}, Next: "Done"},
				"Done": SucceedState{},
			}},
			steps:   []StepName{"work"},
			wantSub: "continue key",
		},
		{
			name: "poll without max polls",
			def: Definition{Name: "t", StartAt: "Poll", States: map[StateName]State{
				"Poll": StepState{Step: "work", Poll: &PollSpec{ContinueKey: "more"}, Next: "Done"},
				"Done": SucceedState{},
			}},
			steps:   []StepName{"work"},
			wantSub: "max polls",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			reg := testRegistry(t, tc.steps...)
			err := Validate(tc.def, reg)
			if err == nil {
				t.Fatalf("expected validation error containing %q, got nil", tc.wantSub)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("expected error containing %q got %q", tc.wantSub, err.Error())
			}
		})
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	step := StepFunc{StepName: "dup", Fn: func(ctx context.Context, p Payload) (Payload, error) {
		return p, nil
	}}

	if err := reg.Register(step); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(step); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}

	if _, err := reg.Resolve("missing"); err == nil {
		t.Fatal("expected resolve of missing step to fail")
	}
}
