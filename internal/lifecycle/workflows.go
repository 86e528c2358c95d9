// SPDX-License-Identifier: Apache-2.0

// Package lifecycle wires the create, update, and delete model workflows:
// transition tables over the steps in lifecycle/steps, validated at
// construction time.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/openserve/model-orchestrator/internal/domain"
	"github.com/openserve/model-orchestrator/internal/engine"
	"github.com/openserve/model-orchestrator/internal/lifecycle/steps"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxPolls     = 60
)

// Options tune the poll loops shared by all three workflows.
type Options struct {
	PollInterval time.Duration
	MaxPolls     int
}

type Workflows struct {
	registry *engine.Registry
	byOp     map[domain.Operation]engine.Definition
}

func New(deps steps.Deps, opts Options) (*Workflows, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = defaultMaxPolls
	}

	registry := engine.NewRegistry()
	if err := registry.Register(
		steps.SetModelToCreating{Deps: deps},
		steps.CopyContainerImage{Deps: deps},
		steps.PollImageReplication{Deps: deps},
		steps.CreateStack{Deps: deps},
		steps.PollStackCreation{Deps: deps},
		steps.AddModelToGateway{Deps: deps},
		steps.HandleCreateFailure{Deps: deps},
		steps.IntakeUpdateJob{Deps: deps},
		steps.UpdateContainerService{Deps: deps},
		steps.PollDeployment{Deps: deps},
		steps.UpdateGatewayMetadata{Deps: deps},
		steps.PollCapacity{Deps: deps},
		steps.FinishUpdate{Deps: deps},
		steps.HandleUpdateFailure{Deps: deps},
		steps.SetModelToDeleting{Deps: deps},
		steps.RemoveModelFromGateway{Deps: deps},
		steps.DeleteStack{Deps: deps},
		steps.MonitorStackDeletion{Deps: deps},
		steps.DeleteModelRecord{Deps: deps},
		steps.HandleDeleteFailure{Deps: deps},
	); err != nil {
		return nil, err
	}

	byOp := map[domain.Operation]engine.Definition{
		domain.OpCreate: createDefinition(opts),
		domain.OpUpdate: updateDefinition(opts),
		domain.OpDelete: deleteDefinition(opts),
	}

	for op, def := range byOp {
		if err := engine.Validate(def, registry); err != nil {
			return nil, fmt.Errorf("%s workflow: %w", op, err)
		}
	}

	return &Workflows{registry: registry, byOp: byOp}, nil
}

func (w *Workflows) Registry() *engine.Registry {
	return w.registry
}

func (w *Workflows) Definition(op domain.Operation) (engine.Definition, error) {
	def, ok := w.byOp[op]
	if !ok {
		return engine.Definition{}, fmt.Errorf("no workflow for operation %q", op)
	}
	return def, nil
}

// InitialPayload flattens a triggering request into the payload the
// workflow's first step receives. Every field a downstream predicate
// reads is seeded here or written by an earlier step.
func InitialPayload(op domain.Operation, modelID string, spec domain.ModelSpec) engine.Payload {
	fields := map[string]any{
		steps.KeyModelID:   modelID,
		steps.KeyOperation: string(op),
	}

	if spec.Container != nil {
		fields[steps.KeyCreateInfra] = true
		fields[steps.KeyImage] = spec.Container.Image
		fields[steps.KeySourceRepo] = spec.Container.SourceRepo
		fields[steps.KeyContainerPort] = spec.Container.Port
		if spec.Container.WarmupSeconds > 0 {
			fields[steps.KeyWarmupSeconds] = spec.Container.WarmupSeconds
		}
	} else if op == domain.OpCreate {
		fields[steps.KeyCreateInfra] = false
	}

	if spec.Autoscaling != nil {
		fields[steps.KeyMinCapacity] = spec.Autoscaling.MinCapacity
		fields[steps.KeyMaxCapacity] = spec.Autoscaling.MaxCapacity
		fields[steps.KeyDesiredCap] = spec.Autoscaling.DesiredCapacity
	}

	if spec.EndpointURL != "" {
		fields[steps.KeyEndpointURL] = spec.EndpointURL
	}
	if len(spec.Metadata) > 0 {
		fields[steps.KeyMetadata] = spec.Metadata
	}

	return engine.NewPayload(fields)
}
