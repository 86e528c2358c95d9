// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"time"

	"github.com/openserve/model-orchestrator/internal/domain"
	"github.com/openserve/model-orchestrator/internal/engine"
	"github.com/openserve/model-orchestrator/internal/lifecycle/steps"
)

// Update: intake diffs the request against the stored record, then three
// choices apply in a fixed order: container rollout, gateway metadata,
// capacity. The order is load-bearing; a capacity change settles last so
// the warmup wait covers freshly started instances.
func updateDefinition(opts Options) engine.Definition {
	return engine.Definition{
		Name:    "update-model",
		StartAt: "IntakeUpdateJob",
		States: map[engine.StateName]engine.State{
			"IntakeUpdateJob": engine.StepState{
				Step: steps.StepIntakeUpdateJob,
				Next: "CheckContainerUpdate",
			},
			"CheckContainerUpdate": engine.ChoiceState{
				Rules: []engine.Rule{
					{
						When: func(p engine.Payload) bool { return p.Bool(steps.KeyNeedsContainerUpdate) },
						To:   "UpdateContainerService",
					},
				},
				Otherwise: "CheckMetadataUpdate",
			},
			"UpdateContainerService": engine.StepState{
				Step: steps.StepUpdateContainers,
				Next: "PollDeployment",
			},
			"PollDeployment": engine.StepState{
				Step: steps.StepPollDeployment,
				Poll: &engine.PollSpec{
					ContinueKey: steps.KeyPollDeployment,
					Interval:    opts.PollInterval,
					MaxPolls:    opts.MaxPolls,
				},
				Next: "CheckMetadataUpdate",
				Catch: []engine.Catch{
					{
						Errors: []error{domain.ErrMaxPollsExceeded},
						To:     "HandleUpdateFailure",
					},
				},
			},
			"CheckMetadataUpdate": engine.ChoiceState{
				Rules: []engine.Rule{
					{
						When: func(p engine.Payload) bool { return p.Bool(steps.KeyHasMetadataUpdate) },
						To:   "UpdateGatewayMetadata",
					},
				},
				Otherwise: "CheckCapacityUpdate",
			},
			"UpdateGatewayMetadata": engine.StepState{
				Step: steps.StepUpdateGatewayMetadata,
				Next: "CheckCapacityUpdate",
			},
			"CheckCapacityUpdate": engine.ChoiceState{
				Rules: []engine.Rule{
					{
						When: func(p engine.Payload) bool { return p.Bool(steps.KeyHasCapacityUpdate) },
						To:   "PollCapacity",
					},
				},
				Otherwise: "FinishUpdate",
			},
			"PollCapacity": engine.StepState{
				Step: steps.StepPollCapacity,
				Poll: &engine.PollSpec{
					ContinueKey: steps.KeyPollCapacity,
					Interval:    opts.PollInterval,
					MaxPolls:    opts.MaxPolls,
				},
				Next: "WaitWarmup",
				Catch: []engine.Catch{
					{
						Errors: []error{domain.ErrMaxPollsExceeded},
						To:     "HandleUpdateFailure",
					},
				},
			},
			"WaitWarmup": engine.WaitState{
				Duration:    30 * time.Second,
				DurationKey: steps.KeyWarmupSeconds,
				Next:        "FinishUpdate",
			},
			"FinishUpdate": engine.StepState{
				Step: steps.StepFinishUpdate,
				Next: "Succeed",
			},
			"HandleUpdateFailure": engine.StepState{
				Step: steps.StepHandleUpdateFailure,
				Next: "Fail",
			},
			"Succeed": engine.SucceedState{},
			"Fail":    engine.FailState{},
		},
	}
}
