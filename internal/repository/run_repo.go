package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openserve/model-orchestrator/internal/auth"
	"github.com/openserve/model-orchestrator/internal/domain"
)

// Postgres unique_violation; raised by the one-active-run-per-model
// partial index when two triggers race past the guards.
const pgUniqueViolation = "23505"

type RunRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRunRepository(pool *pgxpool.Pool, logger *slog.Logger) *RunRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &RunRepository{
		pool:   pool,
		logger: logger,
	}
}

// StartRun enqueues one workflow run. It enforces the trigger-layer
// concurrency contract inside a single transaction: no second operation
// may start while one is in flight for the same model, a create requires
// the model not to exist, and update/delete require that it does.
// A repeated Idempotency-Key returns the original run instead of a new one.
func (r *RunRepository) StartRun(ctx context.Context, params domain.StartRunParams) (uuid.UUID, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	if key, ok := auth.IdempotencyKeyFromContext(ctx); ok {
		var existing uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT run_id FROM run_requests WHERE idempotency_key=$1`,
			key,
		).Scan(&existing)
		switch {
		case err == nil:
			r.logger.Info("run request deduplicated",
				"model_id", params.ModelID,
				"run_id", existing,
			)
			return existing, tx.Commit(ctx)
		case !errors.Is(err, pgx.ErrNoRows):
			return uuid.Nil, err
		}
	}

	var modelStatus domain.ModelStatus
	modelExists := true
	err = tx.QueryRow(ctx,
		`SELECT status FROM models WHERE id=$1 FOR UPDATE`,
		params.ModelID,
	).Scan(&modelStatus)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Error("read model status failed", "model_id", params.ModelID, "error", err)
			return uuid.Nil, err
		}
		modelExists = false
	}

	switch params.Operation {
	case domain.OpCreate:
		if modelExists {
			return uuid.Nil, domain.ErrModelAlreadyExists
		}
	case domain.OpUpdate, domain.OpDelete:
		if !modelExists {
			return uuid.Nil, domain.ErrModelNotFound
		}
	}

	// In-flight is defined by active runs, not by the model status: an
	// aborted run leaves the status transitional (Creating/Updating/
	// Deleting) on purpose, and rejecting on that would wedge the model
	// forever. The cleanup Delete has to get through.
	var active int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM runs
		WHERE model_id=$1 AND status IN ($2,$3)
	`,
		params.ModelID,
		domain.RunPending,
		domain.RunRunning,
	).Scan(&active); err != nil {
		r.logger.Error("count active runs failed", "model_id", params.ModelID, "error", err)
		return uuid.Nil, err
	}
	if active > 0 {
		return uuid.Nil, domain.ErrOperationInFlight
	}

	if modelExists && !modelStatus.Terminal() {
		r.logger.Warn("model status is transitional with no active run, allowing operation",
			"model_id", params.ModelID,
			"status", modelStatus,
			"operation", params.Operation,
		)
	}

	runID := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO runs (id, model_id, operation, status, payload)
		VALUES ($1, $2, $3, $4, $5)
	`,
		runID,
		params.ModelID,
		params.Operation,
		domain.RunPending,
		params.Payload,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return uuid.Nil, domain.ErrOperationInFlight
		}
		r.logger.Error("insert run failed", "model_id", params.ModelID, "error", err)
		return uuid.Nil, err
	}

	if key, ok := auth.IdempotencyKeyFromContext(ctx); ok {
		if _, err := tx.Exec(ctx, `
			INSERT INTO run_requests (idempotency_key, model_id, run_id)
			VALUES ($1, $2, $3)
		`, key, params.ModelID, runID); err != nil {
			r.logger.Error("insert run request failed", "model_id", params.ModelID, "error", err)
			return uuid.Nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "model_id", params.ModelID, "error", err)
		return uuid.Nil, err
	}

	r.logger.Info("run enqueued",
		"run_id", runID,
		"model_id", params.ModelID,
		"operation", params.Operation,
	)
	return runID, nil
}

func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (domain.RunRecord, error) {
	var (
		rec          domain.RunRecord
		errorKind    *string
		errorMessage *string
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, model_id, operation, status, current_state, payload,
		       error_kind, error_message,
		       created_at, updated_at, started_at, finished_at
		FROM runs
		WHERE id=$1
	`, id).Scan(
		&rec.ID,
		&rec.ModelID,
		&rec.Operation,
		&rec.Status,
		&rec.State,
		&rec.Payload,
		&errorKind,
		&errorMessage,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.StartedAt,
		&rec.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RunRecord{}, domain.ErrRunNotFound
		}
		r.logger.Error("get run failed", "run_id", id, "error", err)
		return domain.RunRecord{}, err
	}

	if errorKind != nil {
		rec.Error = &domain.RunError{Kind: *errorKind}
		if errorMessage != nil {
			rec.Error.Message = *errorMessage
		}
	}

	return rec, nil
}

func (r *RunRepository) ListRunsForModel(ctx context.Context, modelID string) ([]domain.RunRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, model_id, operation, status, current_state,
		       created_at, updated_at, started_at, finished_at
		FROM runs
		WHERE model_id=$1
		ORDER BY created_at DESC
	`, modelID)
	if err != nil {
		r.logger.Error("list runs query failed", "model_id", modelID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.RunRecord, 0, 4)
	for rows.Next() {
		var rec domain.RunRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.ModelID,
			&rec.Operation,
			&rec.Status,
			&rec.State,
			&rec.CreatedAt,
			&rec.UpdatedAt,
			&rec.StartedAt,
			&rec.FinishedAt,
		); err != nil {
			r.logger.Error("scan run row failed", "model_id", modelID, "error", err)
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("runs rows iteration failed", "model_id", modelID, "error", err)
		return nil, err
	}

	return out, nil
}
