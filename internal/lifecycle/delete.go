// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"github.com/openserve/model-orchestrator/internal/domain"
	"github.com/openserve/model-orchestrator/internal/engine"
	"github.com/openserve/model-orchestrator/internal/lifecycle/steps"
)

// Delete: deregister from the gateway first so traffic stops before the
// stack comes down. Models without a stack (externally hosted) skip
// straight to record deletion.
func deleteDefinition(opts Options) engine.Definition {
	return engine.Definition{
		Name:    "delete-model",
		StartAt: "SetModelToDeleting",
		States: map[engine.StateName]engine.State{
			"SetModelToDeleting": engine.StepState{
				Step: steps.StepSetModelToDeleting,
				Next: "RemoveModelFromGateway",
			},
			"RemoveModelFromGateway": engine.StepState{
				Step: steps.StepRemoveModelFromGateway,
				Next: "CheckStackPresent",
			},
			"CheckStackPresent": engine.ChoiceState{
				Rules: []engine.Rule{
					{
						When: func(p engine.Payload) bool { return p.String(steps.KeyStackName) != "" },
						To:   "DeleteStack",
					},
				},
				Otherwise: "DeleteModelRecord",
			},
			"DeleteStack": engine.StepState{
				Step: steps.StepDeleteStack,
				Next: "MonitorStackDeletion",
			},
			"MonitorStackDeletion": engine.StepState{
				Step: steps.StepMonitorStackDeletion,
				Poll: &engine.PollSpec{
					ContinueKey: steps.KeyPollDeletion,
					Interval:    opts.PollInterval,
					MaxPolls:    opts.MaxPolls,
				},
				Next: "DeleteModelRecord",
				Catch: []engine.Catch{
					{
						Errors: []error{domain.ErrMaxPollsExceeded, domain.ErrUnexpectedStackState},
						To:     "HandleDeleteFailure",
					},
				},
			},
			"DeleteModelRecord": engine.StepState{
				Step: steps.StepDeleteModelRecord,
				Next: "Succeed",
			},
			"HandleDeleteFailure": engine.StepState{
				Step: steps.StepHandleDeleteFailure,
				Next: "Fail",
			},
			"Succeed": engine.SucceedState{},
			"Fail":    engine.FailState{},
		},
	}
}
