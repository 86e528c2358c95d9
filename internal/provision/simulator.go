// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"fmt"
	"sync"
)

// Simulator implements every provisioning interface in memory.
// Operations converge after ConvergeAfter status checks, which gives
// poll loops something realistic to chew on without any cloud account.
type Simulator struct {
	mu sync.Mutex

	convergeAfter int

	replications map[string]int
	deployments  map[string]int
	capacityAsks map[string]int
	stacks       map[string]*simStack

	// FailStackCreate makes every created stack converge to
	// CREATE_FAILED instead of CREATE_COMPLETE.
	FailStackCreate bool
}

type simStack struct {
	arn      string
	spec     StackSpec
	checks   int
	deleting bool
	failed   bool
}

func NewSimulator(convergeAfter int) *Simulator {
	if convergeAfter < 1 {
		convergeAfter = 1
	}
	return &Simulator{
		convergeAfter: convergeAfter,
		replications:  make(map[string]int, 4),
		deployments:   make(map[string]int, 4),
		capacityAsks:  make(map[string]int, 4),
		stacks:        make(map[string]*simStack, 4),
	}
}

func (s *Simulator) StartReplication(ctx context.Context, sourceRepo, image string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.replications[image]; exists {
		return nil
	}
	s.replications[image] = 0
	return nil
}

func (s *Simulator) ReplicationDone(ctx context.Context, image string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	checks, exists := s.replications[image]
	if !exists {
		return false, fmt.Errorf("no replication started for image %q", image)
	}
	s.replications[image] = checks + 1
	return checks+1 >= s.convergeAfter, nil
}

func (s *Simulator) CreateStack(ctx context.Context, name string, spec StackSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stack, exists := s.stacks[name]; exists {
		return stack.arn, nil
	}

	stack := &simStack{
		arn:    "arn:sim:stack/" + name,
		spec:   spec,
		failed: s.FailStackCreate,
	}
	s.stacks[name] = stack
	return stack.arn, nil
}

func (s *Simulator) DescribeStack(ctx context.Context, name string) (StackInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stack, exists := s.stacks[name]
	if !exists {
		return StackInfo{}, ErrStackNotFound
	}

	stack.checks++
	info := StackInfo{ARN: stack.arn}

	switch {
	case stack.deleting && stack.checks >= s.convergeAfter:
		delete(s.stacks, name)
		info.Status = StackDeleteComplete
	case stack.deleting:
		info.Status = StackDeleteInProgress
	case stack.checks < s.convergeAfter:
		info.Status = StackCreateInProgress
	case stack.failed:
		info.Status = StackCreateFailed
	default:
		info.Status = StackCreateComplete
		info.EndpointURL = "http://" + stack.spec.ModelID + ".serve.local"
	}

	return info, nil
}

func (s *Simulator) DeleteStack(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stack, exists := s.stacks[name]
	if !exists {
		return nil
	}
	if !stack.deleting {
		stack.deleting = true
		stack.checks = 0
	}
	return nil
}

func (s *Simulator) StartDeployment(ctx context.Context, modelID string, image string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deploymentID := "deploy-" + modelID
	if _, exists := s.deployments[deploymentID]; !exists {
		s.deployments[deploymentID] = 0
	}
	return deploymentID, nil
}

func (s *Simulator) DeploymentComplete(ctx context.Context, modelID, deploymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	checks, exists := s.deployments[deploymentID]
	if !exists {
		return false, fmt.Errorf("no deployment %q in progress", deploymentID)
	}
	s.deployments[deploymentID] = checks + 1
	return checks+1 >= s.convergeAfter, nil
}

func (s *Simulator) SetDesiredCapacity(ctx context.Context, modelID string, desired int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.capacityAsks[modelID]; !exists {
		s.capacityAsks[modelID] = 0
	}
	return nil
}

func (s *Simulator) CapacityStable(ctx context.Context, modelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	checks := s.capacityAsks[modelID]
	s.capacityAsks[modelID] = checks + 1
	return checks+1 >= s.convergeAfter, nil
}
