// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"
	"fmt"

	"github.com/openserve/model-orchestrator/internal/domain"
	"github.com/openserve/model-orchestrator/internal/engine"
)

const (
	StepIntakeUpdateJob       engine.StepName = "intake_update_job"
	StepUpdateContainers      engine.StepName = "update_container_service"
	StepPollDeployment        engine.StepName = "poll_deployment"
	StepUpdateGatewayMetadata engine.StepName = "update_gateway_metadata"
	StepPollCapacity          engine.StepName = "poll_capacity"
	StepFinishUpdate          engine.StepName = "finish_update"
	StepHandleUpdateFailure   engine.StepName = "handle_update_failure"
)

// IntakeUpdateJob diffs the requested spec against the stored record and
// writes the branch flags the update choices read. It also applies the
// capacity write up front so PollCapacity only has to observe.
type IntakeUpdateJob struct {
	Deps Deps
}

func (s IntakeUpdateJob) Name() engine.StepName { return StepIntakeUpdateJob }

func (s IntakeUpdateJob) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	modelID := p.String(KeyModelID)

	rec, err := s.Deps.Models.Get(ctx, modelID)
	if err != nil {
		return engine.Payload{}, err
	}

	needsContainerUpdate := false
	if rec.Container != nil {
		requested := p.String(KeyImage)
		if requested != "" && requested != rec.Container.Image {
			needsContainerUpdate = true
		}
	}

	hasMetadataUpdate := len(p.Map(KeyMetadata)) > 0

	hasCapacityUpdate := false
	if rec.Autoscaling != nil && p.Has(KeyDesiredCap) {
		desired := p.Int(KeyDesiredCap)
		if desired != rec.Autoscaling.DesiredCapacity {
			hasCapacityUpdate = true
		}
	}

	if err := s.Deps.Models.SetStatus(ctx, modelID, domain.ModelUpdating); err != nil {
		return engine.Payload{}, err
	}

	if hasCapacityUpdate {
		if err := s.Deps.Capacity.SetDesiredCapacity(ctx, modelID, p.Int(KeyDesiredCap)); err != nil {
			return engine.Payload{}, err
		}
	}

	fields := map[string]any{
		KeyNeedsContainerUpdate: needsContainerUpdate,
		KeyHasMetadataUpdate:    hasMetadataUpdate,
		KeyHasCapacityUpdate:    hasCapacityUpdate,
	}
	// Warmup comes from the stored record unless the request overrides it.
	if !p.Has(KeyWarmupSeconds) && rec.Container != nil && rec.Container.WarmupSeconds > 0 {
		fields[KeyWarmupSeconds] = rec.Container.WarmupSeconds
	}

	s.Deps.logger().Info("update job intake",
		"model_id", modelID,
		"needs_container_update", needsContainerUpdate,
		"has_metadata_update", hasMetadataUpdate,
		"has_capacity_update", hasCapacityUpdate,
	)

	return p.Merge(fields), nil
}

type UpdateContainerService struct {
	Deps Deps
}

func (s UpdateContainerService) Name() engine.StepName { return StepUpdateContainers }

func (s UpdateContainerService) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	modelID := p.String(KeyModelID)
	image := p.String(KeyImage)
	if image == "" {
		return engine.Payload{}, fmt.Errorf("payload missing %s", KeyImage)
	}

	deploymentID, err := s.Deps.Containers.StartDeployment(ctx, modelID, image)
	if err != nil {
		return engine.Payload{}, err
	}

	return p.Merge(map[string]any{
		KeyDeploymentID:   deploymentID,
		KeyPollDeployment: true,
	}), nil
}

type PollDeployment struct {
	Deps Deps
}

func (s PollDeployment) Name() engine.StepName { return StepPollDeployment }

func (s PollDeployment) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	done, err := s.Deps.Containers.DeploymentComplete(ctx,
		p.String(KeyModelID),
		p.String(KeyDeploymentID),
	)
	if err != nil {
		return engine.Payload{}, err
	}
	return p.With(KeyPollDeployment, !done), nil
}

type UpdateGatewayMetadata struct {
	Deps Deps
}

func (s UpdateGatewayMetadata) Name() engine.StepName { return StepUpdateGatewayMetadata }

func (s UpdateGatewayMetadata) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	if err := s.Deps.Gateway.UpdateModelMetadata(ctx,
		p.String(KeyModelID),
		p.Map(KeyMetadata),
	); err != nil {
		return engine.Payload{}, err
	}
	return p, nil
}

type PollCapacity struct {
	Deps Deps
}

func (s PollCapacity) Name() engine.StepName { return StepPollCapacity }

func (s PollCapacity) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	stable, err := s.Deps.Capacity.CapacityStable(ctx, p.String(KeyModelID))
	if err != nil {
		return engine.Payload{}, err
	}
	return p.With(KeyPollCapacity, !stable), nil
}

// FinishUpdate folds the applied changes back into the model record and
// returns it to InService. This is the update workflow's exit phase
// boundary.
type FinishUpdate struct {
	Deps Deps
}

func (s FinishUpdate) Name() engine.StepName { return StepFinishUpdate }

func (s FinishUpdate) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
	modelID := p.String(KeyModelID)

	rec, err := s.Deps.Models.Get(ctx, modelID)
	if err != nil {
		return engine.Payload{}, err
	}

	if rec.Container != nil {
		if image := p.String(KeyImage); image != "" {
			rec.Container.Image = image
		}
		if p.Has(KeyWarmupSeconds) {
			rec.Container.WarmupSeconds = p.Int(KeyWarmupSeconds)
		}
	}
	if rec.Autoscaling != nil && p.Has(KeyDesiredCap) {
		rec.Autoscaling.DesiredCapacity = p.Int(KeyDesiredCap)
	}

	rec.Status = domain.ModelInService
	if err := s.Deps.Models.SaveMetadata(ctx, rec); err != nil {
		return engine.Payload{}, err
	}

	s.Deps.logger().Info("model update finished", "model_id", modelID)
	return p, nil
}

type HandleUpdateFailure struct {
	Deps Deps
}

func (s HandleUpdateFailure) Name() engine.StepName { return StepHandleUpdateFailure }

func (s HandleUpdateFailure) Run(ctx context.Context, p engine.Payload) (engine.Payload, error) {
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
