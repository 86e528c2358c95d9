// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientRegisterModelSignsPayload(t *testing.T) {
	t.Parallel()

	secret := "gateway-secret"
	var gotBody []byte
	var gotSignature string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/admin/models" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotSignature = r.Header.Get(headerSignature)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, secret, discardLogger())
	err := client.RegisterModel(context.Background(), Registration{
		ModelID:     "m1",
		EndpointURL: "http://m1.serve.local",
		Metadata:    map[string]any{"tier": "gold"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	var reg Registration
	if err := json.Unmarshal(gotBody, &reg); err != nil {
		t.Fatalf("unmarshal request body: %v", err)
	}
	if reg.ModelID != "m1" {
		t.Fatalf("expected model_id m1 got %q", reg.ModelID)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSignature != want {
		t.Fatalf("expected signature %q got %q", want, gotSignature)
	}
}

func TestClientOmitsSignatureWithoutSecret(t *testing.T) {
	t.Parallel()

	var sawSignature atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerSignature) != "" {
			sawSignature.Store(true)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", discardLogger())
	if err := client.RegisterModel(context.Background(), Registration{ModelID: "m1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if sawSignature.Load() {
		t.Fatal("expected no signature header without a secret")
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "s", discardLogger())
	if err := client.RegisterModel(context.Background(), Registration{ModelID: "m1"}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts got %d", calls.Load())
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "s", discardLogger())
	err := client.RegisterModel(context.Background(), Registration{ModelID: "m1"})
	if err == nil {
		t.Fatal("expected error on 422")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 attempt for a client error got %d", calls.Load())
	}
}

func TestClientDeregisterTreats404AsSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "s", discardLogger())
	if err := client.DeregisterModel(context.Background(), "already-gone"); err != nil {
		t.Fatalf("expected 404 on delete to count as success, got %v", err)
	}
}

func TestClientRetriesExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "s", discardLogger())
	err := client.UpdateModelMetadata(context.Background(), "m1", map[string]any{"k": "v"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != int32(requestRetryAttempts) {
		t.Fatalf("expected %d attempts got %d", requestRetryAttempts, calls.Load())
	}
}

func TestDisabledGatewayIsNoOp(t *testing.T) {
	t.Parallel()

	var d Disabled
	ctx := context.Background()
	if err := d.RegisterModel(ctx, Registration{ModelID: "m1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.UpdateModelMetadata(ctx, "m1", nil); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := d.DeregisterModel(ctx, "m1"); err != nil {
		t.Fatalf("deregister: %v", err)
	}
}
