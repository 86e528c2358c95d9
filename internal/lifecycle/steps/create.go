// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/openserve/model-orchestrator/internal/domain"
	"github.com/openserve/model-orchestrator/internal/engine"
	"github.com/openserve/model-orchestrator/internal/gateway"
	"github.com/openserve/model-orchestrator/internal/provision"
)

const (
	StepSetModelToCreating   engine.StepName = "set_model_to_creating"
	StepCopyContainerImage   engine.StepName = "copy_container_image"
	StepPollImageReplication engine.StepName = "poll_image_replication"
	StepCreateStack          engine.StepName = "create_stack"
	StepPollStackCreation    engine.StepName = "poll_stack_creation"
	StepAddModelToGateway    engine.StepName = "add_model_to_gateway"
	StepHandleCreateFailure  engine.StepName = "handle_create_failure"
)

// SetModelToCreating writes the initial model record. It upserts so a
// re-claimed run re-entering the step does not trip over its own row.
type SetModelToCreating struct {
	Deps Deps
}

func (s SetModelToCreating) Name() engine.StepName { return StepSetModelToCreating }

func (s SetModelToCreating) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	rec := recordFromPayload(p)
	rec.Status = domain.ModelCreating

	if err := s.Deps.Models.Create(ctx, rec); err != nil {
		return engine.Payload{}, err
	}

	s.Deps.logger().Info("model set to creating", "model_id", rec.ID)
	return p, nil
}

type CopyContainerImage struct {
	Deps Deps
}

func (s CopyContainerImage) Name() engine.StepName { return StepCopyContainerImage }

func (s CopyContainerImage) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	sourceRepo := p.String(KeySourceRepo)
	image := p.String(KeyImage)
	if image == "" {
		return engine.Payload{}, fmt.Errorf("payload missing %s", KeyImage)
	}

	if err := s.Deps.Images.StartReplication(ctx, sourceRepo, image); err != nil {
		return engine.Payload{}, err
	}

	return p.With(KeyPollImage, true), nil
}

type PollImageReplication struct {
	Deps Deps
}

func (s PollImageReplication) Name() engine.StepName { return StepPollImageReplication }

func (s PollImageReplication) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	done, err := s.Deps.Images.ReplicationDone(ctx, p.String(KeyImage))
	if err != nil {
		return engine.Payload{}, err
	}
	return p.With(KeyPollImage, !done), nil
}

// CreateStack provisions the serving stack for a model. It describes
// before creating, so a retry against an existing stack adopts it
// instead of creating a duplicate.
type CreateStack struct {
	Deps Deps
}

func (s CreateStack) Name() engine.StepName { return StepCreateStack }

func (s CreateStack) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	modelID := p.String(KeyModelID)
	stackName := StackNameFor(modelID)

	info, err := s.Deps.Stacks.DescribeStack(ctx, stackName)
	switch {
	case err == nil:
		s.Deps.logger().Info("stack already exists, adopting",
			"model_id", modelID,
			"stack_name", stackName,
		)
		return p.Merge(map[string]any{
			KeyStackName: stackName,
			KeyStackARN:  info.ARN,
			KeyPollStack: true,
		}), nil
	case !errors.Is(err, provision.ErrStackNotFound):
		return engine.Payload{}, err
	}

	arn, err := s.Deps.Stacks.CreateStack(ctx, stackName, provision.StackSpec{
		ModelID:     modelID,
		Image:       p.String(KeyImage),
		Port:        p.Int(KeyContainerPort),
		MinCapacity: p.Int(KeyMinCapacity),
		MaxCapacity: p.Int(KeyMaxCapacity),
	})
	if err != nil {
		return engine.Payload{}, err
	}

	return p.Merge(map[string]any{
		KeyStackName: stackName,
		KeyStackARN:  arn,
		KeyPollStack: true,
	}), nil
}

type PollStackCreation struct {
	Deps Deps
}

func (s PollStackCreation) Name() engine.StepName { return StepPollStackCreation }

func (s PollStackCreation) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	stackName := p.String(KeyStackName)

	info, err := s.Deps.Stacks.DescribeStack(ctx, stackName)
	if err != nil {
		if errors.Is(err, provision.ErrStackNotFound) {
			return engine.Payload{}, fmt.Errorf("stack %s vanished while creating: %w",
				stackName, domain.ErrUnexpectedStackState)
		}
		return engine.Payload{}, err
	}

	switch info.Status {
	case provision.StackCreateComplete:
		return p.Merge(map[string]any{
			KeyPollStack:   false,
			KeyEndpointURL: info.EndpointURL,
		}), nil
	case provision.StackCreateInProgress:
		return p.With(KeyPollStack, true), nil
	case provision.StackCreateFailed, provision.StackRollbackInProgress, provision.StackRollbackComplete:
		return engine.Payload{}, fmt.Errorf("stack %s reported %s: %w",
			stackName, info.Status, domain.ErrStackFailedToCreate)
	default:
		return engine.Payload{}, fmt.Errorf("stack %s in state %s during create: %w",
			stackName, info.Status, domain.ErrUnexpectedStackState)
	}
}

// AddModelToGateway registers the model with the routing gateway and
// moves the record to InService. This is the create workflow's exit
// phase boundary.
type AddModelToGateway struct {
	Deps Deps
}

func (s AddModelToGateway) Name() engine.StepName { return StepAddModelToGateway }

func (s AddModelToGateway) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	modelID := p.String(KeyModelID)

	if err := s.Deps.Gateway.RegisterModel(ctx, gateway.Registration{
		ModelID:     modelID,
		EndpointURL: p.String(KeyEndpointURL),
		Metadata:    p.Map(KeyMetadata),
	}); err != nil {
		return engine.Payload{}, err
	}

	rec := recordFromPayload(p)
	rec.Status = domain.ModelInService
	if err := s.Deps.Models.SaveMetadata(ctx, rec); err != nil {
		return engine.Payload{}, err
	}

	s.Deps.logger().Info("model in service", "model_id", modelID)
	return p, nil
}

// HandleCreateFailure is the shared failure target for the create
// workflow: mark the record Failed and back out any gateway
// registration before the Fail state.
type HandleCreateFailure struct {
	Deps Deps
}

func (s HandleCreateFailure) Name() engine.StepName { return StepHandleCreateFailure }

func (s HandleCreateFailure) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	modelID := p.String(KeyModelID)

	if err := s.Deps.Gateway.DeregisterModel(ctx, modelID); err != nil {
		// Cleanup is best effort here; the failure cause is already
		// recorded in the payload.
		s.Deps.logger().Warn("gateway cleanup failed",
			"model_id", modelID,
			"error", err,
		)
	}

	if err := s.Deps.Models.SetStatus(ctx, modelID, domain.ModelFailed); err != nil {
		return engine.Payload{}, err
	}

	s.Deps.logger().Info("model set to failed",
		"model_id", modelID,
		"kind", p.String(engine.KeyErrorKind),
	)
	return p, nil
}

func StackNameFor(modelID string) string {
	return "model-" + modelID
}

func recordFromPayload(p engine.Payload) domain.ModelRecord {
	rec := domain.ModelRecord{
		ID:          p.String(KeyModelID),
		StackName:   p.String(KeyStackName),
		EndpointURL: p.String(KeyEndpointURL),
	}

	if p.Bool(KeyCreateInfra) {
		rec.Container = &domain.ContainerConfig{
			Image:         p.String(KeyImage),
			SourceRepo:    p.String(KeySourceRepo),
			Port:          p.Int(KeyContainerPort),
			WarmupSeconds: p.Int(KeyWarmupSeconds),
		}
		rec.Autoscaling = &domain.AutoscalingConfig{
			MinCapacity:     p.Int(KeyMinCapacity),
			MaxCapacity:     p.Int(KeyMaxCapacity),
			DesiredCapacity: p.Int(KeyDesiredCap),
		}
	}

	return rec
}
