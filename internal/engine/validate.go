// SPDX-License-Identifier: Apache-2.0

package engine

import "fmt"

// Validate checks a definition against the structural rules every
// workflow relies on at runtime:
//   - StartAt and every transition target resolve to a declared state
//   - exactly one Succeed state, at most one Fail state
//   - every choice has a non-empty Otherwise (total coverage)
//   - the graph is acyclic (poll loops live inside a step state, so a
//     cycle in the table itself is a definition bug)
//   - every state is reachable from StartAt
//   - every referenced step is registered
func Validate(def Definition, reg *Registry) error {
	if def.StartAt == "" {
		return fmt.Errorf("workflow %s: empty StartAt", def.Name)
	}
	if _, ok := def.States[def.StartAt]; !ok {
		return fmt.Errorf("workflow %s: StartAt %q not declared", def.Name, def.StartAt)
	}

	succeeds := 0
	fails := 0

	for name, state := range def.States {
		switch s := state.(type) {
		case SucceedState:
			succeeds++
		case FailState:
			fails++
		case ChoiceState:
			if s.Otherwise == "" {
				return fmt.Errorf("workflow %s: choice %q has no otherwise branch", def.Name, name)
			}
			for i, rule := range s.Rules {
				if rule.When == nil {
					return fmt.Errorf("workflow %s: choice %q rule %d has nil predicate", def.Name, name, i)
				}
			}
		case StepState:
			if reg != nil && !reg.Has(s.Step) {
				return fmt.Errorf("workflow %s: state %q references unregistered step %q", def.Name, name, s.Step)
			}
			if s.Poll != nil {
				if s.Poll.ContinueKey == "" {
					return fmt.Errorf("workflow %s: poll state %q has empty continue key", def.Name, name)
				}
				if s.Poll.MaxPolls <= 0 {
					return fmt.Errorf("workflow %s: poll state %q has non-positive max polls", def.Name, name)
				}
			}
		}

		for _, target := range state.targets() {
			if _, ok := def.States[target]; !ok {
				return fmt.Errorf("workflow %s: state %q targets undeclared state %q", def.Name, name, target)
			}
		}
	}

	if succeeds != 1 {
		return fmt.Errorf("workflow %s: expected exactly one succeed state, found %d", def.Name, succeeds)
	}
	if fails > 1 {
		return fmt.Errorf("workflow %s: expected at most one fail state, found %d", def.Name, fails)
	}

	if cycle := findCycle(def); cycle != "" {
		return fmt.Errorf("workflow %s: transition cycle through state %q", def.Name, cycle)
	}

	reachable := make(map[StateName]bool, len(def.States))
	markReachable(def, def.StartAt, reachable)
	for name := range def.States {
		if !reachable[name] {
			return fmt.Errorf("workflow %s: state %q unreachable from start", def.Name, name)
		}
	}

	return nil
}

const (
	colorVisiting = 1
	colorDone     = 2
)

func findCycle(def Definition) StateName {
	colors := make(map[StateName]int, len(def.States))

	var visit func(name StateName) StateName
	visit = func(name StateName) StateName {
		switch colors[name] {
		case colorVisiting:
			return name
		case colorDone:
			return ""
		}
		colors[name] = colorVisiting

		state, ok := def.States[name]
		if ok {
			for _, target := range state.targets() {
				if bad := visit(target); bad != "" {
					return bad
				}
			}
		}

		colors[name] = colorDone
		return ""
	}

	for name := range def.States {
		if bad := visit(name); bad != "" {
			return bad
		}
	}
	return ""
}

func markReachable(def Definition, name StateName, seen map[StateName]bool) {
	if seen[name] {
		return
	}
	seen[name] = true

	state, ok := def.States[name]
	if !ok {
		return
	}
	for _, target := range state.targets() {
		markReachable(def, target, seen)
	}
}
