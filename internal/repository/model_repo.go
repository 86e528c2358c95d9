// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openserve/model-orchestrator/internal/domain"
)

// ModelRepository is the durable Model Record Store. Workflow steps own
// the mutations; the API layer only reads.
type ModelRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewModelRepository(pool *pgxpool.Pool, logger *slog.Logger) *ModelRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &ModelRepository{
		pool:   pool,
		logger: logger,
	}
}

// Create upserts the model row. A re-entered SetModelToCreating step
// must not fail against the row it wrote on a previous attempt.
func (r *ModelRepository) Create(ctx context.Context, rec domain.ModelRecord) error {
	container, autoscaling, loadBalancer, err := marshalConfigs(rec)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO models (id, status, container_config, autoscaling_config, load_balancer_config, stack_name, endpoint_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    container_config = EXCLUDED.container_config,
		    autoscaling_config = EXCLUDED.autoscaling_config,
		    load_balancer_config = EXCLUDED.load_balancer_config,
		    stack_name = EXCLUDED.stack_name,
		    endpoint_url = EXCLUDED.endpoint_url,
		    updated_at = NOW()
	`,
		rec.ID,
		rec.Status,
		container,
		autoscaling,
		loadBalancer,
		rec.StackName,
		rec.EndpointURL,
	)
	if err != nil {
		r.logger.Error("insert model failed", "model_id", rec.ID, "error", err)
		return err
	}

	r.logger.Info("model record created", "model_id", rec.ID, "status", rec.Status)
	return nil
}

func (r *ModelRepository) Get(ctx context.Context, id string) (domain.ModelRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, status, container_config, autoscaling_config, load_balancer_config,
		       stack_name, endpoint_url, created_at, updated_at
		FROM models
		WHERE id = $1
	`, id)

	rec, err := scanModel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ModelRecord{}, domain.ErrModelNotFound
		}
		r.logger.Error("get model failed", "model_id", id, "error", err)
		return domain.ModelRecord{}, err
	}

	return rec, nil
}

func (r *ModelRepository) List(ctx context.Context) ([]domain.ModelRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, status, container_config, autoscaling_config, load_balancer_config,
		       stack_name, endpoint_url, created_at, updated_at
		FROM models
		ORDER BY id ASC
	`)
	if err != nil {
		r.logger.Error("list models query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ModelRecord, 0, 8)
	for rows.Next() {
		rec, err := scanModel(rows)
		if err != nil {
			r.logger.Error("scan model row failed", "error", err)
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("models rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}

func (r *ModelRepository) SetStatus(ctx context.Context, id string, status domain.ModelStatus) error {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE models SET status=$2, updated_at=NOW() WHERE id=$1
	`, id, status)
	if err != nil {
		r.logger.Error("set model status failed", "model_id", id, "status", status, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrModelNotFound
	}

	r.logger.Info("model status set", "model_id", id, "status", status)
	return nil
}

// SaveMetadata persists provisioning outputs alongside the status in one
// write; designated exit steps call it at phase boundaries.
func (r *ModelRepository) SaveMetadata(ctx context.Context, rec domain.ModelRecord) error {
	container, autoscaling, loadBalancer, err := marshalConfigs(rec)
	if err != nil {
		return err
	}

	cmd, err := r.pool.Exec(ctx, `
		UPDATE models
		SET status=$2,
		    container_config=$3,
		    autoscaling_config=$4,
		    load_balancer_config=$5,
		    stack_name=$6,
		    endpoint_url=$7,
		    updated_at=NOW()
		WHERE id=$1
	`,
		rec.ID,
		rec.Status,
		container,
		autoscaling,
		loadBalancer,
		rec.StackName,
		rec.EndpointURL,
	)
	if err != nil {
		r.logger.Error("save model metadata failed", "model_id", rec.ID, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrModelNotFound
	}

	return nil
}

func (r *ModelRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM models WHERE id=$1`, id)
	if err != nil {
		r.logger.Error("delete model failed", "model_id", id, "error", err)
		return err
	}

	r.logger.Info("model record deleted", "model_id", id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(row rowScanner) (domain.ModelRecord, error) {
	var (
		rec          domain.ModelRecord
		container    []byte
		autoscaling  []byte
		loadBalancer []byte
	)

	if err := row.Scan(
		&rec.ID,
		&rec.Status,
		&container,
		&autoscaling,
		&loadBalancer,
		&rec.StackName,
		&rec.EndpointURL,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return domain.ModelRecord{}, err
	}

	if err := unmarshalConfig(container, &rec.Container); err != nil {
		return domain.ModelRecord{}, fmt.Errorf("model %s container config: %w", rec.ID, err)
	}
	if err := unmarshalConfig(autoscaling, &rec.Autoscaling); err != nil {
		return domain.ModelRecord{}, fmt.Errorf("model %s autoscaling config: %w", rec.ID, err)
	}
	if err := unmarshalConfig(loadBalancer, &rec.LoadBalancer); err != nil {
		return domain.ModelRecord{}, fmt.Errorf("model %s load balancer config: %w", rec.ID, err)
	}

	return rec, nil
}

func marshalConfigs(rec domain.ModelRecord) ([]byte, []byte, []byte, error) {
	container, err := marshalConfig(rec.Container)
	if err != nil {
		return nil, nil, nil, err
	}
	autoscaling, err := marshalConfig(rec.Autoscaling)
	if err != nil {
		return nil, nil, nil, err
	}
	loadBalancer, err := marshalConfig(rec.LoadBalancer)
	if err != nil {
		return nil, nil, nil, err
	}
	return container, autoscaling, loadBalancer, nil
}

// marshalConfig keeps NULL for absent configs so externally hosted
// models are distinguishable from zero-valued ones.
func marshalConfig[T any](cfg *T) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	return json.Marshal(cfg)
}

func unmarshalConfig[T any](data []byte, out **T) error {
	if len(data) == 0 {
		*out = nil
		return nil
	}
	var cfg T
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	*out = &cfg
	return nil
}
