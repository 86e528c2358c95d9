// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/openserve/model-orchestrator/internal/auth"
	"github.com/openserve/model-orchestrator/internal/domain"
	"github.com/openserve/model-orchestrator/internal/lifecycle"
	"github.com/openserve/model-orchestrator/internal/metrics"
	"github.com/openserve/model-orchestrator/internal/transport/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const headerIdempotencyKey = "Idempotency-Key"

const defaultTriggerRateLimit = 60

type createModelRequest struct {
	ID          string                    `json:"id"`
	Container   *domain.ContainerConfig   `json:"container"`
	Autoscaling *domain.AutoscalingConfig `json:"autoscaling"`
	EndpointURL string                    `json:"endpoint_url"`
	Metadata    map[string]any            `json:"metadata"`
}

type updateModelRequest struct {
	Container   *domain.ContainerConfig   `json:"container"`
	Autoscaling *domain.AutoscalingConfig `json:"autoscaling"`
	EndpointURL string                    `json:"endpoint_url"`
	Metadata    map[string]any            `json:"metadata"`
}

type Deps struct {
	Models ModelReader
	Runs   RunStarter
	Events EventStreamer
	Health HealthChecker
	Logger *slog.Logger

	AdminToken string
	// TriggerRateLimit caps lifecycle trigger requests per client per
	// minute. Zero means the default.
	TriggerRateLimit int

	Version   string
	Commit    string
	BuildDate string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")
	triggerLimit := deps.TriggerRateLimit
	if triggerLimit <= 0 {
		triggerLimit = defaultTriggerRateLimit
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Error("health check failed", "error", err)
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- MODEL READS ----------------

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		models, err := deps.Models.List(r.Context())
		if err != nil {
			logger.Error("list models failed", "error", err)
			http.Error(w, "failed to list models", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"models": models,
		})
	})

	r.Get("/models/{id}", func(w http.ResponseWriter, r *http.Request) {
		modelID := chi.URLParam(r, "id")

		model, err := deps.Models.Get(r.Context(), modelID)
		if err != nil {
			if errors.Is(err, domain.ErrModelNotFound) {
				http.Error(w, "model not found", http.StatusNotFound)
				return
			}
			logger.Error("get model failed", "model_id", modelID, "error", err)
			http.Error(w, "failed to get model", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, model)
	})

	r.Get("/models/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		modelID := chi.URLParam(r, "id")

		runs, err := deps.Runs.ListRunsForModel(r.Context(), modelID)
		if err != nil {
			logger.Error("list runs failed", "model_id", modelID, "error", err)
			http.Error(w, "failed to list runs", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"model_id": modelID,
			"runs":     runs,
		})
	})

	// ---------------- LIFECYCLE TRIGGERS (ADMIN) ----------------

	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))
		r.Use(middleware.RateLimitByClient(triggerLimit))

		// ---------------- CREATE MODEL ----------------

		r.Post("/models", func(w http.ResponseWriter, r *http.Request) {
			reqBody, err := decodeCreateModelRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			spec := domain.ModelSpec{
				Container:   reqBody.Container,
				Autoscaling: reqBody.Autoscaling,
				EndpointURL: reqBody.EndpointURL,
				Metadata:    reqBody.Metadata,
			}
			startLifecycleRun(w, r, deps, logger, domain.OpCreate, reqBody.ID, spec)
		})

		// ---------------- UPDATE MODEL ----------------

		r.Put("/models/{id}", func(w http.ResponseWriter, r *http.Request) {
			modelID := chi.URLParam(r, "id")

			reqBody, err := decodeUpdateModelRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			spec := domain.ModelSpec{
				Container:   reqBody.Container,
				Autoscaling: reqBody.Autoscaling,
				EndpointURL: reqBody.EndpointURL,
				Metadata:    reqBody.Metadata,
			}
			startLifecycleRun(w, r, deps, logger, domain.OpUpdate, modelID, spec)
		})

		// ---------------- DELETE MODEL ----------------

		r.Delete("/models/{id}", func(w http.ResponseWriter, r *http.Request) {
			modelID := chi.URLParam(r, "id")
			startLifecycleRun(w, r, deps, logger, domain.OpDelete, modelID, domain.ModelSpec{})
		})
	})

	// ---------------- GET RUN ----------------

	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		runID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid run ID", http.StatusBadRequest)
			return
		}

		run, err := deps.Runs.GetRun(r.Context(), runID)
		if err != nil {
			if errors.Is(err, domain.ErrRunNotFound) {
				logger.Warn("run not found", "run_id", runID)
				http.Error(w, "run not found", http.StatusNotFound)
				return
			}

			logger.Error("get run failed", "run_id", runID, "error", err)
			http.Error(w, "failed to get run", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, run)
	})

	// ---------------- STREAM EVENTS (SSE) ----------------

	r.Get("/runs/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		runID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid run ID", http.StatusBadRequest)
			return
		}

		if _, err := deps.Runs.GetRun(r.Context(), runID); err != nil {
			if errors.Is(err, domain.ErrRunNotFound) {
				http.Error(w, "run not found", http.StatusNotFound)
				return
			}
			logger.Error("sse get run failed", "run_id", runID, "error", err)
			http.Error(w, "failed to stream events", http.StatusInternalServerError)
			return
		}

		if deps.Events == nil {
			logger.Error("sse events repository is not configured")
			http.Error(w, "failed to stream events", http.StatusInternalServerError)
			return
		}

		since := strings.TrimSpace(r.URL.Query().Get("since_id"))
		cursor, err := resolveEventsCursor(r.Context(), deps.Events, runID, since)
		if err != nil {
			if errors.Is(err, errInvalidSinceID) {
				http.Error(w, "invalid since_id", http.StatusBadRequest)
				return
			}
			logger.Error("resolve events cursor failed",
				"run_id", runID,
				"since_id", since,
				"error", err,
			)
			http.Error(w, "failed to stream events", http.StatusInternalServerError)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		writeEvents := func() error {
			events, err := deps.Events.ListEventsAfter(r.Context(), runID, cursor)
			if err != nil {
				return err
			}

			for _, ev := range events {
				payload, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "event: lifecycle_update\ndata: %s\n\n", payload); err != nil {
					return err
				}
				flusher.Flush()
				cursor = ev.Seq
			}

			return nil
		}

		if err := writeEvents(); err != nil {
			logger.Error("sse initial write failed", "run_id", runID, "error", err)
			return
		}

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if err := writeEvents(); err != nil {
					logger.Error("sse write failed", "run_id", runID, "error", err)
					return
				}
			}
		}
	})

	return r
}

func startLifecycleRun(
	w http.ResponseWriter,
	r *http.Request,
	deps Deps,
	logger *slog.Logger,
	op domain.Operation,
	modelID string,
	spec domain.ModelSpec,
) {
	modelID = strings.TrimSpace(modelID)
	if err := validateModelID(modelID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey)); key != "" {
		ctx = auth.WithIdempotencyKey(ctx, key)
	}

	payload, err := json.Marshal(lifecycle.InitialPayload(op, modelID, spec))
	if err != nil {
		logger.Error("marshal initial payload failed", "model_id", modelID, "error", err)
		http.Error(w, "failed to start run", http.StatusInternalServerError)
		return
	}

	runID, err := deps.Runs.StartRun(ctx, domain.StartRunParams{
		ModelID:   modelID,
		Operation: op,
		Payload:   payload,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrModelAlreadyExists):
			http.Error(w, "model already exists", http.StatusConflict)
		case errors.Is(err, domain.ErrModelNotFound):
			http.Error(w, "model not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrOperationInFlight):
			if w.Header().Get("Retry-After") == "" {
				w.Header().Set("Retry-After", "5")
			}
			http.Error(w, "another operation is in flight for this model", http.StatusConflict)
		default:
			logger.Error("start run failed",
				"model_id", modelID,
				"operation", op,
				"error", err,
			)
			http.Error(w, "failed to start run", http.StatusInternalServerError)
		}
		return
	}

	logger.Info("lifecycle run accepted via API",
		"run_id", runID,
		"model_id", modelID,
		"operation", op,
	)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":    runID.String(),
		"model_id":  modelID,
		"operation": string(op),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeCreateModelRequest(r *http.Request) (createModelRequest, error) {
	var req createModelRequest
	if err := decodeSingleObject(r, &req); err != nil {
		return createModelRequest{}, err
	}

	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return createModelRequest{}, errors.New("id is required")
	}
	if err := validateSpecFields(req.Container, req.EndpointURL); err != nil {
		return createModelRequest{}, err
	}
	if req.Container == nil && strings.TrimSpace(req.EndpointURL) == "" {
		return createModelRequest{}, errors.New("either container or endpoint_url is required")
	}

	return req, nil
}

func decodeUpdateModelRequest(r *http.Request) (updateModelRequest, error) {
	var req updateModelRequest
	if err := decodeSingleObject(r, &req); err != nil {
		return updateModelRequest{}, err
	}

	if err := validateSpecFields(req.Container, req.EndpointURL); err != nil {
		return updateModelRequest{}, err
	}
	if req.Container == nil && req.Autoscaling == nil &&
		strings.TrimSpace(req.EndpointURL) == "" && len(req.Metadata) == 0 {
		return updateModelRequest{}, errors.New("update request must change at least one field")
	}

	return req, nil
}

func decodeSingleObject(r *http.Request, v any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return errors.New("request body is required")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body")
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}

	return nil
}

func validateModelID(id string) error {
	if id == "" {
		return errors.New("model id is required")
	}
	if len(id) > 128 {
		return errors.New("model id too long")
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return errors.New("model id contains invalid characters")
		}
	}
	return nil
}

func validateSpecFields(container *domain.ContainerConfig, endpointURL string) error {
	if container != nil {
		if strings.TrimSpace(container.Image) == "" {
			return errors.New("container.image is required")
		}
		if container.Port < 0 || container.Port > 65535 {
			return errors.New("container.port out of range")
		}
	}

	endpointURL = strings.TrimSpace(endpointURL)
	if endpointURL == "" {
		return nil
	}

	parsed, err := url.Parse(endpointURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("invalid endpoint_url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("unsupported endpoint_url scheme")
	}

	return nil
}

var errInvalidSinceID = errors.New("invalid since_id")

func resolveEventsCursor(
	ctx context.Context,
	events EventStreamer,
	runID uuid.UUID,
	since string,
) (int64, error) {
	if since == "" {
		return 0, nil
	}

	if seq, err := strconv.ParseInt(since, 10, 64); err == nil {
		if seq < 0 {
			return 0, errInvalidSinceID
		}
		return seq, nil
	}

	eventID, err := uuid.Parse(since)
	if err != nil {
		return 0, errInvalidSinceID
	}

	seq, err := events.ResolveCursorByEventID(ctx, runID, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			return 0, errInvalidSinceID
		}
		return 0, err
	}

	return seq, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
