package jobstore

import (
	"strconv"
	"time"

	"renderd/pkg/types"
)

// Update is a partial job mutation. Nil fields are left untouched. All
// writers go through Store.Apply so the terminal guard and progress
// monotonicity are enforced in one place.
type Update struct {
	Status      *types.JobStatus
	Progress    *int
	Step        *string
	OutputPath  *string
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (u Update) empty() bool {
	return u.Status == nil && u.Progress == nil && u.Step == nil &&
		u.OutputPath == nil && u.Error == nil && u.StartedAt == nil && u.CompletedAt == nil
}

// fields renders the update as the flat string map the cache tier stores.
func (u Update) fields() map[string]string {
	out := make(map[string]string)
	if u.Status != nil {
		out["status"] = string(*u.Status)
	}
	if u.Progress != nil {
		out["progress"] = strconv.Itoa(*u.Progress)
	}
	if u.Step != nil {
		out["step"] = *u.Step
	}
	if u.OutputPath != nil {
		out["output_path"] = *u.OutputPath
	}
	if u.Error != nil {
		out["error"] = *u.Error
	}
	if u.StartedAt != nil {
		out["started_at"] = u.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if u.CompletedAt != nil {
		out["completed_at"] = u.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// event renders the update as the progress event published to subscribers.
// Only changed fields are carried.
func (u Update) event(jobID string) types.ProgressEvent {
	ev := types.ProgressEvent{JobID: jobID}
	if u.Status != nil {
		ev.Status = *u.Status
	}
	if u.Progress != nil {
		p := *u.Progress
		ev.Progress = &p
	}
	if u.Step != nil {
		ev.Step = *u.Step
	}
	if u.OutputPath != nil {
		ev.OutputPath = *u.OutputPath
	}
	if u.Error != nil {
		ev.Error = *u.Error
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		ev.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		ev.CompletedAt = &t
	}
	return ev
}
