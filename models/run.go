package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type RunKind string

const (
	RunKindNormalize RunKind = "normalize"
	RunKindDetect    RunKind = "detect"
)

// EngineRun is the bookkeeping record of one normalization or detection run
type EngineRun struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	Kind       RunKind         `json:"kind" db:"kind"`
	Status     RunStatus       `json:"status" db:"status"`
	StartedAt  time.Time       `json:"started_at" db:"started_at"`
	FinishedAt *time.Time      `json:"finished_at" db:"finished_at"`
	Params     json.RawMessage `json:"params" db:"params"`
	Stats      json.RawMessage `json:"stats" db:"stats"`
	Error      string          `json:"error,omitempty" db:"error"`
}
