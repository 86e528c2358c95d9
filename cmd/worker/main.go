// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openserve/model-orchestrator/internal/config"
	"github.com/openserve/model-orchestrator/internal/gateway"
	"github.com/openserve/model-orchestrator/internal/lifecycle"
	"github.com/openserve/model-orchestrator/internal/lifecycle/steps"
	"github.com/openserve/model-orchestrator/internal/logging"
	"github.com/openserve/model-orchestrator/internal/persistence/postgres"
	"github.com/openserve/model-orchestrator/internal/provision"
	"github.com/openserve/model-orchestrator/internal/repository"
	"github.com/openserve/model-orchestrator/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env, "worker")

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			log.Fatalf("schema migration failed: %v", err)
		}
	} else if err := postgres.SchemaReady(ctx, pool); err != nil {
		log.Fatalf("schema not ready: %v", err)
	}

	var gw steps.ModelGateway = gateway.Disabled{}
	if cfg.GatewayURL != "" {
		gw = gateway.NewClient(cfg.GatewayURL, cfg.GatewaySecret, logger)
	} else {
		logger.Warn("gateway registration disabled", "reason", "GATEWAY_URL is not set")
	}

	sim := provision.NewSimulator(cfg.SimulatorConvergeAfter)
	modelRepo := repository.NewModelRepository(pool, logger)

	workflows, err := lifecycle.New(steps.Deps{
		Models:     modelRepo,
		Gateway:    gw,
		Images:     sim,
		Stacks:     sim,
		Containers: sim,
		Capacity:   sim,
		Logger:     logger,
	}, lifecycle.Options{
		PollInterval: cfg.PollInterval,
		MaxPolls:     cfg.MaxPolls,
	})
	if err != nil {
		log.Fatalf("workflow definitions invalid: %v", err)
	}

	w := worker.New(worker.Deps{
		Pool:         pool,
		Workflows:    workflows,
		Logger:       logger,
		ReclaimAfter: cfg.ReclaimAfter,
	})

	logger.Info("worker started",
		"tick", cfg.WorkerTick.String(),
		"poll_interval", cfg.PollInterval.String(),
		"max_polls", cfg.MaxPolls,
	)

	ticker := time.NewTicker(cfg.WorkerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopping")
			return
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				logger.Error("worker process failed", "error", err)
			}
		}
	}
}
