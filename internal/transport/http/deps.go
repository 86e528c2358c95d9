// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/google/uuid"
	"github.com/openserve/model-orchestrator/internal/domain"
)

// RunStarter enqueues lifecycle runs and answers run queries. The postgres
// run repository is the production implementation.
type RunStarter interface {
	StartRun(ctx context.Context, params domain.StartRunParams) (uuid.UUID, error)
	GetRun(ctx context.Context, id uuid.UUID) (domain.RunRecord, error)
	ListRunsForModel(ctx context.Context, modelID string) ([]domain.RunRecord, error)
}

type ModelReader interface {
	Get(ctx context.Context, id string) (domain.ModelRecord, error)
	List(ctx context.Context) ([]domain.ModelRecord, error)
}

type EventStreamer interface {
	ListEventsAfter(ctx context.Context, runID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error)
	ResolveCursorByEventID(ctx context.Context, runID uuid.UUID, eventID uuid.UUID) (int64, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
