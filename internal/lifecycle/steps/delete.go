// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/openserve/model-orchestrator/internal/domain"
	"github.com/openserve/model-orchestrator/internal/engine"
	"github.com/openserve/model-orchestrator/internal/provision"
)

const (
	StepSetModelToDeleting     engine.StepName = "set_model_to_deleting"
	StepRemoveModelFromGateway engine.StepName = "remove_model_from_gateway"
	StepDeleteStack            engine.StepName = "delete_stack"
	StepMonitorStackDeletion   engine.StepName = "monitor_stack_deletion"
	StepDeleteModelRecord      engine.StepName = "delete_model_record"
	StepHandleDeleteFailure    engine.StepName = "handle_delete_failure"
)

// SetModelToDeleting marks the record Deleting and stashes the stack
// name into the payload so the stack choice can branch on it. Externally
// hosted models have no stack and skip teardown entirely.
type SetModelToDeleting struct {
	Deps Deps
}

func (s SetModelToDeleting) Name() engine.StepName { return StepSetModelToDeleting }

func (s SetModelToDeleting) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	modelID := p.String(KeyModelID)

	rec, err := s.Deps.Models.Get(ctx, modelID)
	if err != nil {
		return engine.Payload{}, err
	}

	if err := s.Deps.Models.SetStatus(ctx, modelID, domain.ModelDeleting); err != nil {
		return engine.Payload{}, err
	}

	s.Deps.logger().Info("model set to deleting",
		"model_id", modelID,
		"stack_name", rec.StackName,
	)
	return p.With(KeyStackName, rec.StackName), nil
}

type RemoveModelFromGateway struct {
	Deps Deps
}

func (s RemoveModelFromGateway) Name() engine.StepName { return StepRemoveModelFromGateway }

func (s RemoveModelFromGateway) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	if err := s.Deps.Gateway.DeregisterModel(ctx, p.String(KeyModelID)); err != nil {
		return engine.Payload{}, err
	}
	return p, nil
}

// DeleteStack requests stack teardown. Deleting an absent stack
// succeeds, so re-entry is safe.
type DeleteStack struct {
	Deps Deps
}

func (s DeleteStack) Name() engine.StepName { return StepDeleteStack }

func (s DeleteStack) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	if err := s.Deps.Stacks.DeleteStack(ctx, p.String(KeyStackName)); err != nil {
		return engine.Payload{}, err
	}
	return p.With(KeyPollDeletion, true), nil
}

type MonitorStackDeletion struct {
	Deps Deps
}

func (s MonitorStackDeletion) Name() engine.StepName { return StepMonitorStackDeletion }

func (s MonitorStackDeletion) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	stackName := p.String(KeyStackName)

	info, err := s.Deps.Stacks.DescribeStack(ctx, stackName)
	if err != nil {
		if errors.Is(err, provision.ErrStackNotFound) {
			return p.With(KeyPollDeletion, false), nil
		}
		return engine.Payload{}, err
	}

	switch info.Status {
	case provision.StackDeleteComplete:
		return p.With(KeyPollDeletion, false), nil
	case provision.StackCreateFailed, provision.StackRollbackComplete:
		// A wedged stack stops converging; surface it instead of
		// polling until the bound trips.
		return engine.Payload{}, fmt.Errorf("stack %s stuck in %s during delete: %w",
			stackName, info.Status, domain.ErrUnexpectedStackState)
	default:
		return p.With(KeyPollDeletion, true), nil
	}
}

// DeleteModelRecord removes the durable record. Terminal step of the
// delete workflow.
type DeleteModelRecord struct {
	Deps Deps
}

func (s DeleteModelRecord) Name() engine.StepName { return StepDeleteModelRecord }

func (s DeleteModelRecord) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	modelID := p.String(KeyModelID)
	if err := s.Deps.Models.Delete(ctx, modelID); err != nil {
		return engine.Payload{}, err
	}

	s.Deps.logger().Info("model record deleted", "model_id", modelID)
	return p, nil
}

type HandleDeleteFailure struct {
	Deps Deps
}

func (s HandleDeleteFailure) Name() engine.StepName { return StepHandleDeleteFailure }

func (s HandleDeleteFailure) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	modelID := p.String(KeyModelID)

	if err := s.Deps.Models.SetStatus(ctx, modelID, domain.ModelFailed); err != nil {
		return engine.Payload{}, err
	}

	s.Deps.logger().Info("model set to failed",
		"model_id", modelID,
		"kind", p.String(engine.KeyErrorKind),
	)
	return p, nil
}
