// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"github.com/openserve/model-orchestrator/internal/domain"
	"github.com/openserve/model-orchestrator/internal/engine"
	"github.com/openserve/model-orchestrator/internal/lifecycle/steps"
)

// Create: SetModelToCreating, then either the full infra path (image
// copy, stack creation, both polled) or straight to gateway
// registration for externally hosted models. Infra failures route to
// one shared failure handler; gateway registration errors are not
// modeled and abort the run.
func createDefinition(opts Options) engine.Definition {
	return engine.Definition{
		Name:    "create-model",
		StartAt: "SetModelToCreating",
		States: map[engine.StateName]engine.State{
			"SetModelToCreating": engine.StepState{
				Step: steps.StepSetModelToCreating,
				Next: "CheckInfraNeeded",
			},
			"CheckInfraNeeded": engine.ChoiceState{
				Rules: []engine.Rule{
					{
						When: func(p engine.Payload) bool { return p.Bool(steps.KeyCreateInfra) },
						To:   "CopyContainerImage",
					},
				},
				Otherwise: "AddModelToGateway",
			},
			"CopyContainerImage": engine.StepState{
				Step: steps.StepCopyContainerImage,
				Next: "PollImageReplication",
			},
			"PollImageReplication": engine.StepState{
				Step: steps.StepPollImageReplication,
				Poll: &engine.PollSpec{
					ContinueKey: steps.KeyPollImage,
					Interval:    opts.PollInterval,
					MaxPolls:    opts.MaxPolls,
				},
				Next: "CreateStack",
				Catch: []engine.Catch{
					{
						Errors: []error{domain.ErrMaxPollsExceeded},
						To:     "HandleCreateFailure",
					},
				},
			},
			"CreateStack": engine.StepState{
				Step: steps.StepCreateStack,
				Next: "PollStackCreation",
				Catch: []engine.Catch{
					{
						Errors: []error{domain.ErrStackFailedToCreate, domain.ErrUnexpectedStackState},
						To:     "HandleCreateFailure",
					},
				},
			},
			"PollStackCreation": engine.StepState{
				Step: steps.StepPollStackCreation,
				Poll: &engine.PollSpec{
					ContinueKey: steps.KeyPollStack,
					Interval:    opts.PollInterval,
					IntervalKey: steps.KeyWarmupSeconds,
					MaxPolls:    opts.MaxPolls,
				},
				Next: "AddModelToGateway",
				Catch: []engine.Catch{
					{
						Errors: []error{
							domain.ErrMaxPollsExceeded,
							domain.ErrStackFailedToCreate,
							domain.ErrUnexpectedStackState,
						},
						To: "HandleCreateFailure",
					},
				},
			},
			"AddModelToGateway": engine.StepState{
				Step: steps.StepAddModelToGateway,
				Next: "Succeed",
			},
			"HandleCreateFailure": engine.StepState{
				Step: steps.StepHandleCreateFailure,
				Next: "Fail",
			},
			"Succeed": engine.SucceedState{},
			"Fail":    engine.FailState{},
		},
	}
}
