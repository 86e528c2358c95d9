// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

// Modeled provisioning failures. Workflow definitions list these as
// catchable; anything else propagates out of the runner as an abort.
var ErrMaxPollsExceeded = errors.New("max polls exceeded")
var ErrStackFailedToCreate = errors.New("stack failed to create")
var ErrUnexpectedStackState = errors.New("unexpected stack state")

// Trigger-layer guards.
var ErrModelNotFound = errors.New("model not found")
var ErrModelAlreadyExists = errors.New("model already exists")
var ErrOperationInFlight = errors.New("operation already in flight for model")
var ErrRunNotFound = errors.New("run not found")

// ErrorKind maps a modeled failure to its user-facing RunError kind.
// Unknown errors map to "step_error".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrMaxPollsExceeded):
		return "max_polls_exceeded"
	case errors.Is(err, ErrStackFailedToCreate):
		return "stack_failed_to_create"
	case errors.Is(err, ErrUnexpectedStackState):
		return "unexpected_stack_state"
	default:
		return "step_error"
	}
}
