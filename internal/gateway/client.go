// SPDX-License-Identifier: Apache-2.0

// Package gateway talks to the model-routing gateway that fronts every
// InService model. Registration is what makes a model visible to
// inference clients.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	requestRetryAttempts = 3
	requestRetryBase     = 300 * time.Millisecond
	headerSignature      = "X-Signature"
)

type Registration struct {
	ModelID     string         `json:"model_id"`
	EndpointURL string         `json:"endpoint_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, secret string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) RegisterModel(ctx context.Context, reg Registration) error {
	return c.do(ctx, http.MethodPost, "/admin/models", reg)
}

func (c *Client) UpdateModelMetadata(ctx context.Context, modelID string, metadata map[string]any) error {
	path := "/admin/models/" + url.PathEscape(modelID)
	return c.do(ctx, http.MethodPatch, path, map[string]any{"metadata": metadata})
}

// DeregisterModel is idempotent: a 404 from the gateway counts as done.
func (c *Client) DeregisterModel(ctx context.Context, modelID string) error {
	path := "/admin/models/" + url.PathEscape(modelID)
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
	}

	signature := signPayload(c.secret, payload)

	var lastErr error
	for attempt := 1; attempt <= requestRetryAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if signature != "" {
			req.Header.Set(headerSignature, signature)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("gateway request failed",
				"method", method,
				"path", path,
				"attempt", attempt,
				"error", err,
			)
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
				return nil
			}
			if method == http.MethodDelete && resp.StatusCode == http.StatusNotFound {
				return nil
			}
			// 4xx other than 404-on-delete will not improve with retries.
			if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
				return fmt.Errorf("gateway rejected %s %s: status %d", method, path, resp.StatusCode)
			}

			lastErr = fmt.Errorf("non-2xx response: %d", resp.StatusCode)
			c.logger.Warn("gateway request failed",
				"method", method,
				"path", path,
				"attempt", attempt,
				"response_status", resp.StatusCode,
			)
		}

		if attempt < requestRetryAttempts {
			wait := requestRetryBase * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return fmt.Errorf("gateway %s %s: retries exhausted: %w", method, path, lastErr)
}

func signPayload(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Disabled satisfies the lifecycle gateway dependency when no gateway is
// configured (dev mode without a router in front).
type Disabled struct{}

func (Disabled) RegisterModel(ctx context.Context, reg Registration) error { return nil }

func (Disabled) UpdateModelMetadata(ctx context.Context, modelID string, metadata map[string]any) error {
	return nil
}

func (Disabled) DeregisterModel(ctx context.Context, modelID string) error { return nil }
