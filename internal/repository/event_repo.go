// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openserve/model-orchestrator/internal/domain"
)

type EventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEventRepository(pool *pgxpool.Pool, logger *slog.Logger) *EventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *EventRepository) Append(ctx context.Context, runID uuid.UUID, eventType string, payload json.RawMessage) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (id, run_id, type, payload)
		VALUES ($1, $2, $3, $4)
	`,
		uuid.New(),
		runID,
		eventType,
		payload,
	)
	if err != nil {
		r.logger.Error("insert event failed",
			"run_id", runID,
			"type", eventType,
			"error", err,
		)
		return err
	}

	return nil
}

func (r *EventRepository) ListEventsAfter(ctx context.Context, runID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, seq, run_id, type, payload, created_at
		FROM events
		WHERE run_id=$1
		  AND seq > $2
		ORDER BY seq ASC
	`,
		runID,
		afterSeq,
	)
	if err != nil {
		r.logger.Error("list events query failed",
			"run_id", runID,
			"error", err,
		)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EventRecord, 0, 8)
	for rows.Next() {
		var ev domain.EventRecord
		if err := rows.Scan(
			&ev.ID,
			&ev.Seq,
			&ev.RunID,
			&ev.Type,
			&ev.Payload,
			&ev.CreatedAt,
		); err != nil {
			r.logger.Error("scan event row failed",
				"run_id", runID,
				"error", err,
			)
			return nil, err
		}
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("events rows iteration failed",
			"run_id", runID,
			"error", err,
		)
		return nil, err
	}

	return out, nil
}

func (r *EventRepository) ResolveCursorByEventID(ctx context.Context, runID uuid.UUID, eventID uuid.UUID) (int64, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `
		SELECT seq
		FROM events
		WHERE id=$1
		  AND run_id=$2
	`,
		eventID,
		runID,
	).Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrRunNotFound
		}
		r.logger.Error("resolve event cursor failed",
			"run_id", runID,
			"event_id", eventID,
			"error", err,
		)
		return 0, err
	}

	return seq, nil
}
