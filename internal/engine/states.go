// SPDX-License-Identifier: Apache-2.0

package engine

import "time"

type StateName string

// State is the sum type behind a workflow transition table. The runner
// switches on the concrete type; Validate checks the graph statically.
type State interface {
	// targets lists every state this state can transition to.
	targets() []StateName
}

// Predicate is a boolean expression over payload fields. Predicates must
// read only fields written by earlier steps; Payload getters fail closed
// so a predicate over a missing field evaluates to false.
type Predicate func(p Payload) bool

type Rule struct {
	When Predicate
	To   StateName
}

// Catch routes step errors matching one of the listed sentinels
// (errors.Is) to To. Errors matching no Catch propagate out of the
// runner and abort the run.
type Catch struct {
	Errors []error
	To     StateName
}

// PollSpec turns a step into a poll loop: the step is re-invoked while
// the payload field named ContinueKey is true, waiting between
// iterations. The wait is payload-driven (seconds under IntervalKey)
// when IntervalKey is set and present, else Interval. After MaxPolls
// iterations the loop raises domain.ErrMaxPollsExceeded.
type PollSpec struct {
	ContinueKey string
	Interval    time.Duration
	IntervalKey string
	MaxPolls    int
}

type StepState struct {
	Step  StepName
	Poll  *PollSpec
	Next  StateName
	Catch []Catch
}

func (s StepState) targets() []StateName {
	out := []StateName{s.Next}
	for _, c := range s.Catch {
		out = append(out, c.To)
	}
	return out
}

// ChoiceState evaluates Rules in declaration order; the first true
// predicate wins. Otherwise is mandatory and covers the unmatched case.
type ChoiceState struct {
	Rules     []Rule
	Otherwise StateName
}

func (s ChoiceState) targets() []StateName {
	out := make([]StateName, 0, len(s.Rules)+1)
	for _, r := range s.Rules {
		out = append(out, r.To)
	}
	return append(out, s.Otherwise)
}

// WaitState pauses for a fixed duration, or for a payload-carried number
// of seconds when DurationKey is set and present.
type WaitState struct {
	Duration    time.Duration
	DurationKey string
	Next        StateName
}

func (s WaitState) targets() []StateName { return []StateName{s.Next} }

type SucceedState struct{}

func (SucceedState) targets() []StateName { return nil }

type FailState struct{}

func (FailState) targets() []StateName { return nil }

type Definition struct {
	Name    string
	StartAt StateName
	States  map[StateName]State
}
