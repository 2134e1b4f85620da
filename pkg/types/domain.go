package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a generation job.
// queued -> processing -> {completed | failed | cancelled}.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition may leave this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Workflow identifies which executor pipeline a job runs.
type Workflow string

const (
	WorkflowTalkingHead    Workflow = "talking_head"
	WorkflowBRoll          Workflow = "broll"
	WorkflowFullProduction Workflow = "full_production"
)

// Known reports whether w names a registered workflow kind.
func (w Workflow) Known() bool {
	switch w {
	case WorkflowTalkingHead, WorkflowBRoll, WorkflowFullProduction:
		return true
	}
	return false
}

// Params is the opaque parameter document attached to a job.
// It round-trips through Postgres JSONB and Redis hashes as JSON.
type Params map[string]any

// Value implements driver.Valuer for JSONB columns.
func (p Params) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSONB columns.
func (p *Params) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("params: unsupported scan type %T", src)
	}
}

// String returns the string value at key, or def when absent or empty.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Float returns the numeric value at key, or def when absent. JSON
// round-trips put numbers back as float64.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// Bool returns the bool value at key, or def when absent.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// Job is the unit of work tracked by the job store. The durable record is
// retained indefinitely; the cache record mirrors it for a TTL window.
type Job struct {
	ID          string     `db:"id" json:"id"`
	Owner       string     `db:"owner" json:"owner,omitempty"`
	Workflow    Workflow   `db:"workflow" json:"workflow"`
	Status      JobStatus  `db:"status" json:"status"`
	Progress    int        `db:"progress" json:"progress"`
	Step        string     `db:"step" json:"step"`
	Params      Params     `db:"params" json:"params"`
	OutputPath  string     `db:"output_path" json:"output_path,omitempty"`
	Error       string     `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// ProgressEvent is an ephemeral broadcast describing a change to a job.
// Only the fields that changed in the originating update are set.
type ProgressEvent struct {
	JobID       string     `json:"job_id"`
	Status      JobStatus  `json:"status,omitempty"`
	Progress    *int       `json:"progress,omitempty"`
	Step        string     `json:"step,omitempty"`
	OutputPath  string     `json:"output_path,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ModelSpec describes one entry of the static model registry.
type ModelSpec struct {
	// Stable name used by workflows to request residency.
	// example: wan_i2v
	Name string `json:"name" yaml:"name" toml:"name"`
	// Weights location relative to the model base path.
	// example: wan2.2-i2v-a14b
	Path string `json:"path" yaml:"path" toml:"path"`
	// VRAM cost in gigabytes when resident.
	// example: 14
	VRAMGB float64 `json:"vram_gb" yaml:"vram_gb" toml:"vram_gb"`
	// Heavy models cannot share the accelerator with another heavy model.
	Heavy bool `json:"heavy" yaml:"-" toml:"-"`
}

// GPUStatus is a read-only snapshot of the resource scheduler.
type GPUStatus struct {
	Resident    []string `json:"resident_models"`
	UsedGB      float64  `json:"vram_used_gb"`
	BudgetGB    float64  `json:"vram_budget_gb"`
	AvailableGB float64  `json:"vram_available_gb"`
}
