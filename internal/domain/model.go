// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

type ModelStatus string

const (
	ModelCreating  ModelStatus = "Creating"
	ModelInService ModelStatus = "InService"
	ModelUpdating  ModelStatus = "Updating"
	ModelStopping  ModelStatus = "Stopping"
	ModelStopped   ModelStatus = "Stopped"
	ModelDeleting  ModelStatus = "Deleting"
	ModelFailed    ModelStatus = "Failed"
)

// Terminal reports whether no lifecycle operation is currently in flight
// for a model in this status.
func (s ModelStatus) Terminal() bool {
	switch s {
	case ModelCreating, ModelUpdating, ModelStopping, ModelDeleting:
		return false
	}
	return true
}

// ContainerConfig describes the serving container for a self-hosted model.
// Nil on a ModelRecord means the model is hosted externally.
type ContainerConfig struct {
	Image         string `json:"image"`
	SourceRepo    string `json:"source_repo,omitempty"`
	Port          int    `json:"port"`
	HealthPath    string `json:"health_path,omitempty"`
	WarmupSeconds int    `json:"warmup_seconds,omitempty"`
}

type AutoscalingConfig struct {
	MinCapacity     int `json:"min_capacity"`
	MaxCapacity     int `json:"max_capacity"`
	DesiredCapacity int `json:"desired_capacity"`
}

type LoadBalancerConfig struct {
	TargetGroupARN     string `json:"target_group_arn,omitempty"`
	HealthCheckPath    string `json:"health_check_path,omitempty"`
	HealthCheckTimeout int    `json:"health_check_timeout,omitempty"`
}

// ModelSpec is the desired state carried by a create or update request.
// An update spec includes only the parts being changed.
type ModelSpec struct {
	Container   *ContainerConfig   `json:"container,omitempty"`
	Autoscaling *AutoscalingConfig `json:"autoscaling,omitempty"`
	EndpointURL string             `json:"endpoint_url,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

// ModelRecord is the durable record of a model's lifecycle state. Only
// designated workflow steps mutate it; the API layer reads it.
type ModelRecord struct {
	ID           string              `json:"id"`
	Status       ModelStatus         `json:"status"`
	Container    *ContainerConfig    `json:"container,omitempty"`
	Autoscaling  *AutoscalingConfig  `json:"autoscaling,omitempty"`
	LoadBalancer *LoadBalancerConfig `json:"load_balancer,omitempty"`
	StackName    string              `json:"stack_name,omitempty"`
	EndpointURL  string              `json:"endpoint_url,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}
