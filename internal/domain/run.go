package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunPending RunStatus = "PENDING"
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCEEDED"
	RunFailed  RunStatus = "FAILED"
	// RunAborted marks a run that terminated outside the workflow model:
	// an uncaught step error, or a worker that died mid-run. The model
	// record keeps whatever status the last completed step left it in.
	RunAborted RunStatus = "ABORTED"
)

func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed || s == RunAborted
}

type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// RunError is the structured, user-facing form of a modeled workflow failure.
type RunError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type RunRecord struct {
	ID         uuid.UUID       `json:"id"`
	ModelID    string          `json:"model_id"`
	Operation  Operation       `json:"operation"`
	Status     RunStatus       `json:"status"`
	State      string          `json:"state,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      *RunError       `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// StartRunParams is what the trigger interface hands to the run store.
// Payload is the serialized initial workflow payload.
type StartRunParams struct {
	ModelID   string
	Operation Operation
	Payload   json.RawMessage
}
