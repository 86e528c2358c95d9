// SPDX-License-Identifier: Apache-2.0

// Package steps holds the concrete workflow steps. Each step wraps one
// external collaborator call and is safe to re-invoke with the same
// payload.
package steps

import (
	"context"
	"log/slog"

	"github.com/openserve/model-orchestrator/internal/domain"
	"github.com/openserve/model-orchestrator/internal/gateway"
	"github.com/openserve/model-orchestrator/internal/provision"
)

// Payload field names shared between steps, choice predicates, and the
// trigger layer that seeds the initial payload.
const (
	KeyModelID       = "model_id"
	KeyOperation     = "operation"
	KeyCreateInfra   = "create_infra"
	KeyImage         = "image"
	KeySourceRepo    = "source_repo"
	KeyContainerPort = "container_port"
	KeyWarmupSeconds = "model_warmup_seconds"
	KeyMinCapacity   = "min_capacity"
	KeyMaxCapacity   = "max_capacity"
	KeyDesiredCap    = "desired_capacity"
	KeyEndpointURL   = "endpoint_url"
	KeyMetadata      = "metadata"

	KeyStackName    = "stack_name"
	KeyStackARN     = "stack_arn"
	KeyDeploymentID = "deployment_id"

	KeyPollImage      = "continue_polling_image"
	KeyPollStack      = "continue_polling_stack"
	KeyPollDeployment = "continue_polling_deployment"
	KeyPollCapacity   = "continue_polling_capacity"
	KeyPollDeletion   = "continue_polling_deletion"

	KeyNeedsContainerUpdate = "needs_container_update"
	KeyHasMetadataUpdate    = "has_metadata_update"
	KeyHasCapacityUpdate    = "has_capacity_update"
)

// ModelStore is the Model Record Store boundary. Only steps in this
// package call the mutating methods.
type ModelStore interface {
	Create(ctx context.Context, rec domain.ModelRecord) error
	Get(ctx context.Context, id string) (domain.ModelRecord, error)
	SetStatus(ctx context.Context, id string, status domain.ModelStatus) error
	SaveMetadata(ctx context.Context, rec domain.ModelRecord) error
	Delete(ctx context.Context, id string) error
}

type ModelGateway interface {
	RegisterModel(ctx context.Context, reg gateway.Registration) error
	UpdateModelMetadata(ctx context.Context, modelID string, metadata map[string]any) error
	DeregisterModel(ctx context.Context, modelID string) error
}

type Deps struct {
	Models     ModelStore
	Gateway    ModelGateway
	Images     provision.ImageReplicator
	Stacks     provision.StackProvisioner
	Containers provision.ContainerService
	Capacity   provision.CapacityProvider
	Logger     *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}
