// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInMemoryRateLimiterAllow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("allows up to the per-minute limit", func(t *testing.T) {
		t.Parallel()

		limiter := newInMemoryRateLimiter()

		for i := 0; i < 3; i++ {
			decision := limiter.Allow("10.0.0.1", 3, now)
			if !decision.Allowed {
				t.Fatalf("expected request %d to be allowed", i+1)
			}
		}

		decision := limiter.Allow("10.0.0.1", 3, now)
		if decision.Allowed {
			t.Fatal("expected fourth request to be rejected")
		}
		if decision.RetryAfterSeconds < 1 {
			t.Fatalf("expected positive retry-after got %d", decision.RetryAfterSeconds)
		}
	})

	t.Run("refills over time", func(t *testing.T) {
		t.Parallel()

		limiter := newInMemoryRateLimiter()

		if decision := limiter.Allow("10.0.0.2", 1, now); !decision.Allowed {
			t.Fatal("expected first request to be allowed")
		}
		if decision := limiter.Allow("10.0.0.2", 1, now); decision.Allowed {
			t.Fatal("expected second immediate request to be rejected")
		}
		if decision := limiter.Allow("10.0.0.2", 1, now.Add(61*time.Second)); !decision.Allowed {
			t.Fatal("expected request after refill window to be allowed")
		}
	})

	t.Run("buckets are per client", func(t *testing.T) {
		t.Parallel()

		limiter := newInMemoryRateLimiter()

		if decision := limiter.Allow("10.0.0.3", 1, now); !decision.Allowed {
			t.Fatal("expected first client to be allowed")
		}
		if decision := limiter.Allow("10.0.0.4", 1, now); !decision.Allowed {
			t.Fatal("expected second client to be allowed")
		}
	})
}

func TestRateLimitByClient(t *testing.T) {
	t.Parallel()

	handler := RateLimitByClient(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/models", nil)
	req.RemoteAddr = "192.0.2.7:41234"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusAccepted {
		t.Fatalf("expected first request status %d got %d", http.StatusAccepted, rec1.Code)
	}
	if got := rec1.Header().Get(headerRateLimitLimit); got != "1" {
		t.Fatalf("expected %s header %q got %q", headerRateLimitLimit, "1", got)
	}
	if got := rec1.Header().Get(headerRateLimitRemaining); got != "0" {
		t.Fatalf("expected %s header %q got %q", headerRateLimitRemaining, "0", got)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request status %d got %d", http.StatusTooManyRequests, rec2.Code)
	}
	if got := rec2.Header().Get(headerRetryAfter); got == "" {
		t.Fatalf("expected %s header to be set", headerRetryAfter)
	}
}
