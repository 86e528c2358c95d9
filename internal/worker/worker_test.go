// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	w := New(Deps{})

	if w.logger == nil {
		t.Fatal("expected default logger to be set")
	}
	if w.reclaimAfter != 30*time.Minute {
		t.Fatalf("expected default reclaimAfter=30m, got %s", w.reclaimAfter)
	}
	if w.sleep != nil {
		t.Fatal("expected nil sleep to be left for the runner default")
	}
}

func TestNewCustomValues(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w := New(Deps{
		Logger:       logger,
		ReclaimAfter: 90 * time.Second,
	})

	if w.logger != logger {
		t.Fatal("expected provided logger to be used")
	}
	if w.reclaimAfter != 90*time.Second {
		t.Fatalf("expected reclaimAfter=90s, got %s", w.reclaimAfter)
	}
}
