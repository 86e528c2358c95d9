package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openserve/model-orchestrator/internal/domain"
	"github.com/openserve/model-orchestrator/internal/engine"
	"github.com/openserve/model-orchestrator/internal/lifecycle"
	"github.com/openserve/model-orchestrator/internal/metrics"
)

type Deps struct {
	Pool         *pgxpool.Pool
	Workflows    *lifecycle.Workflows
	Logger       *slog.Logger
	ReclaimAfter time.Duration
	// Sleep overrides poll/wait pauses inside the runner; tests inject
	// a fake.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Worker claims queued runs one at a time and drives each through its
// workflow definition to a terminal status. A run whose worker died is
// reclaimed after ReclaimAfter and marked ABORTED rather than re-run:
// non-poll steps may have partially applied side effects, and the
// operator decides what happens next.
type Worker struct {
	pool         *pgxpool.Pool
	workflows    *lifecycle.Workflows
	logger       *slog.Logger
	reclaimAfter time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	reclaim := deps.ReclaimAfter
	if reclaim <= 0 {
		reclaim = 30 * time.Minute
	}

	return &Worker{
		pool:         deps.Pool,
		workflows:    deps.Workflows,
		logger:       l,
		reclaimAfter: reclaim,
		sleep:        deps.Sleep,
	}
}

type claimedRun struct {
	RunID     uuid.UUID
	ModelID   string
	Operation domain.Operation
	Payload   json.RawMessage
	Abandoned bool
}

func (w *Worker) ProcessOnce(ctx context.Context) error {
	run, err := w.claimOneRun(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		w.logger.Error("claim run failed", "error", err)
		return err
	}

	if run.Abandoned {
		w.logger.Warn("abandoned run reclaimed",
			"run_id", run.RunID,
			"model_id", run.ModelID,
			"operation", run.Operation,
		)
		return nil
	}

	w.logger.Info("run claimed",
		"run_id", run.RunID,
		"model_id", run.ModelID,
		"operation", run.Operation,
	)

	return w.executeRun(ctx, run)
}

// claimOneRun claims the oldest pending run. RUNNING runs whose
// progress (updated_at, refreshed by saveProgress on every transition)
// has gone stale for reclaimAfter are claimed too, but only to be
// marked ABORTED. started_at is not a staleness signal: a healthy run
// can poll far longer than reclaimAfter while still reporting progress.
func (w *Worker) claimOneRun(ctx context.Context) (claimedRun, error) {
	started := time.Now()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return claimedRun{}, err
	}
	defer tx.Rollback(ctx)

	reclaimBefore := time.Now().Add(-w.reclaimAfter)

	var (
		run    claimedRun
		status domain.RunStatus
	)

	err = tx.QueryRow(ctx, `
		SELECT id, model_id, operation, status, payload
		FROM runs
		WHERE status = $1
		   OR (status = $2 AND updated_at < $3)
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`,
		domain.RunPending,
		domain.RunRunning,
		reclaimBefore,
	).Scan(&run.RunID, &run.ModelID, &run.Operation, &status, &run.Payload)
	if err != nil {
		return claimedRun{}, err
	}

	metrics.ObserveClaimLatency(time.Since(started))

	if status == domain.RunRunning {
		run.Abandoned = true
		if err := w.finishRun(ctx, tx, run, domain.RunAborted, &domain.RunError{
			Kind:    "worker_abandoned",
			Message: "run reclaimed after worker stopped reporting progress",
		}, engine.Payload{}); err != nil {
			return claimedRun{}, err
		}
		return run, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE runs
		SET status=$2, started_at=NOW(), updated_at=NOW()
		WHERE id=$1
	`, run.RunID, domain.RunRunning); err != nil {
		return claimedRun{}, err
	}

	if err := w.appendEvent(ctx, tx, run.RunID, domain.EventRunStarted, map[string]any{
		"model_id":  run.ModelID,
		"operation": run.Operation,
	}); err != nil {
		return claimedRun{}, err
	}

	return run, tx.Commit(ctx)
}

func (w *Worker) executeRun(ctx context.Context, run claimedRun) error {
	def, err := w.workflows.Definition(run.Operation)
	if err != nil {
		return w.abortRun(ctx, run, err)
	}

	var payload engine.Payload
	if len(run.Payload) > 0 {
		if err := json.Unmarshal(run.Payload, &payload); err != nil {
			return w.abortRun(ctx, run, err)
		}
	}

	runner := engine.NewRunner(engine.Deps{
		Steps:  w.workflows.Registry(),
		Logger: w.logger.With("run_id", run.RunID, "model_id", run.ModelID),
		Sleep:  w.sleep,
		OnTransition: func(ctx context.Context, state engine.StateName, p engine.Payload) error {
			return w.saveProgress(ctx, run.RunID, state, p)
		},
		OnHeartbeat: func(ctx context.Context, state engine.StateName, p engine.Payload) error {
			return w.saveHeartbeat(ctx, run.RunID, p)
		},
	})

	result, err := runner.Execute(ctx, def, payload)
	if err != nil {
		w.logger.Error("run aborted",
			"run_id", run.RunID,
			"model_id", run.ModelID,
			"operation", run.Operation,
			"error", err,
		)
		return w.abortRun(ctx, run, err)
	}

	status := domain.RunSuccess
	if result.Outcome == engine.OutcomeFailed {
		status = domain.RunFailed
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := w.finishRun(ctx, tx, run, status, result.Failure, result.Payload); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	w.logger.Info("run finished",
		"run_id", run.RunID,
		"model_id", run.ModelID,
		"operation", run.Operation,
		"status", status,
	)
	return nil
}

// saveProgress persists the payload as it crosses a state boundary, so a
// run's current position survives worker restarts and is visible to the
// API layer.
func (w *Worker) saveProgress(ctx context.Context, runID uuid.UUID, state engine.StateName, p engine.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE runs
		SET current_state=$2, payload=$3::jsonb, updated_at=NOW()
		WHERE id=$1
	`, runID, string(state), body); err != nil {
		return err
	}

	if err := w.appendEvent(ctx, tx, runID, domain.EventStateEntered, map[string]any{
		"state": string(state),
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// saveHeartbeat refreshes the run's progress timestamp between poll
// iterations, without appending an event. A zero-row update means the
// run was reclaimed out from under this worker; erroring out here stops
// the loop instead of letting it race the reclaimer.
func (w *Worker) saveHeartbeat(ctx context.Context, runID uuid.UUID, p engine.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	tag, err := w.pool.Exec(ctx, `
		UPDATE runs
		SET payload=$2::jsonb, updated_at=NOW()
		WHERE id=$1 AND status=$3
	`, runID, body, domain.RunRunning)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s is no longer running", runID)
	}
	return nil
}

func (w *Worker) abortRun(ctx context.Context, run claimedRun, cause error) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := w.finishRun(ctx, tx, run, domain.RunAborted, &domain.RunError{
		Kind:    "unmodeled_abort",
		Message: cause.Error(),
	}, engine.Payload{}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (w *Worker) finishRun(ctx context.Context, tx pgx.Tx, run claimedRun, status domain.RunStatus, failure *domain.RunError, final engine.Payload) error {
	var (
		errorKind    *string
		errorMessage *string
	)
	if failure != nil {
		errorKind = &failure.Kind
		errorMessage = &failure.Message
	}

	// Only a RUNNING run may be finished: once a reclaimer has marked a
	// run ABORTED, the worker that originally claimed it must not
	// overwrite that terminal status.
	var tag pgconn.CommandTag
	if final.Len() > 0 {
		body, err := json.Marshal(final)
		if err != nil {
			return err
		}
		tag, err = tx.Exec(ctx, `
			UPDATE runs
			SET status=$2, payload=$3::jsonb, error_kind=$4, error_message=$5,
			    finished_at=NOW(), updated_at=NOW()
			WHERE id=$1 AND status=$6
		`, run.RunID, status, body, errorKind, errorMessage, domain.RunRunning)
		if err != nil {
			return err
		}
	} else {
		var err error
		tag, err = tx.Exec(ctx, `
			UPDATE runs
			SET status=$2, error_kind=$3, error_message=$4,
			    finished_at=NOW(), updated_at=NOW()
			WHERE id=$1 AND status=$5
		`, run.RunID, status, errorKind, errorMessage, domain.RunRunning)
		if err != nil {
			return err
		}
	}

	if tag.RowsAffected() == 0 {
		w.logger.Warn("run already finished, leaving its status untouched",
			"run_id", run.RunID,
			"model_id", run.ModelID,
			"attempted_status", status,
		)
		return nil
	}

	eventType := domain.EventRunSucceeded
	switch status {
	case domain.RunFailed:
		eventType = domain.EventRunFailed
	case domain.RunAborted:
		eventType = domain.EventRunAborted
	}

	eventBody := map[string]any{"status": string(status)}
	if failure != nil {
		eventBody["error_kind"] = failure.Kind
		eventBody["error_message"] = failure.Message
	}
	if err := w.appendEvent(ctx, tx, run.RunID, eventType, eventBody); err != nil {
		return err
	}

	metrics.IncRunTerminal(string(run.Operation), string(status))
	return nil
}

func (w *Worker) appendEvent(ctx context.Context, tx pgx.Tx, runID uuid.UUID, eventType string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO events (id, run_id, type, payload)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), runID, eventType, payload)
	return err
}
