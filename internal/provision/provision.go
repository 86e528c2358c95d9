// SPDX-License-Identifier: Apache-2.0

// Package provision defines the interfaces the lifecycle workflows use
// to talk to external provisioning systems. Cloud-specific backends live
// behind these interfaces; the Simulator in this package is the
// in-memory implementation used by dev-mode binaries and tests.
package provision

import (
	"context"
	"errors"
)

var ErrStackNotFound = errors.New("stack not found")

type StackStatus string

const (
	StackCreateInProgress   StackStatus = "CREATE_IN_PROGRESS"
	StackCreateComplete     StackStatus = "CREATE_COMPLETE"
	StackCreateFailed       StackStatus = "CREATE_FAILED"
	StackRollbackInProgress StackStatus = "ROLLBACK_IN_PROGRESS"
	StackRollbackComplete   StackStatus = "ROLLBACK_COMPLETE"
	StackDeleteInProgress   StackStatus = "DELETE_IN_PROGRESS"
	StackDeleteComplete     StackStatus = "DELETE_COMPLETE"
)

type StackSpec struct {
	ModelID     string
	Image       string
	Port        int
	MinCapacity int
	MaxCapacity int
}

type StackInfo struct {
	ARN         string
	Status      StackStatus
	EndpointURL string
}

// ImageReplicator copies a serving container image into the local
// registry. StartReplication must be a no-op when the image is already
// present or a copy is already in flight.
type ImageReplicator interface {
	StartReplication(ctx context.Context, sourceRepo, image string) error
	ReplicationDone(ctx context.Context, image string) (bool, error)
}

// StackProvisioner creates, inspects, and tears down the infrastructure
// stack backing one model. CreateStack must check existence first;
// DeleteStack on an absent stack must succeed.
type StackProvisioner interface {
	CreateStack(ctx context.Context, name string, spec StackSpec) (string, error)
	DescribeStack(ctx context.Context, name string) (StackInfo, error)
	DeleteStack(ctx context.Context, name string) error
}

// ContainerService rolls out a new container revision for a model.
type ContainerService interface {
	StartDeployment(ctx context.Context, modelID string, image string) (string, error)
	DeploymentComplete(ctx context.Context, modelID, deploymentID string) (bool, error)
}

// CapacityProvider adjusts and observes the autoscaling group behind a
// model.
type CapacityProvider interface {
	SetDesiredCapacity(ctx context.Context, modelID string, desired int) error
	CapacityStable(ctx context.Context, modelID string) (bool, error)
}
