package jobstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"renderd/pkg/types"
)

// encodeJob flattens a job into the string map stored as a Redis hash.
// Optional timestamps encode as empty strings so a later Patch can only
// ever add them.
func encodeJob(job *types.Job) map[string]string {
	params := "{}"
	if job.Params != nil {
		if b, err := json.Marshal(job.Params); err == nil {
			params = string(b)
		}
	}
	out := map[string]string{
		"id":           job.ID,
		"owner":        job.Owner,
		"workflow":     string(job.Workflow),
		"status":       string(job.Status),
		"progress":     strconv.Itoa(job.Progress),
		"step":         job.Step,
		"params":       params,
		"output_path":  job.OutputPath,
		"error":        job.Error,
		"created_at":   job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"started_at":   "",
		"completed_at": "",
	}
	if job.StartedAt != nil {
		out["started_at"] = job.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if job.CompletedAt != nil {
		out["completed_at"] = job.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func decodeJob(fields map[string]string) (*types.Job, error) {
	job := &types.Job{
		ID:         fields["id"],
		Owner:      fields["owner"],
		Workflow:   types.Workflow(fields["workflow"]),
		Status:     types.JobStatus(fields["status"]),
		Step:       fields["step"],
		OutputPath: fields["output_path"],
		Error:      fields["error"],
	}
	if job.ID == "" {
		return nil, fmt.Errorf("decode job: missing id")
	}
	if v := fields["progress"]; v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s: progress %q: %w", job.ID, v, err)
		}
		job.Progress = p
	}
	if v := fields["params"]; v != "" {
		if err := json.Unmarshal([]byte(v), &job.Params); err != nil {
			return nil, fmt.Errorf("decode job %s: params: %w", job.ID, err)
		}
	}
	var err error
	if job.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode job %s: created_at: %w", job.ID, err)
	}
	if job.StartedAt, err = parseOptTime(fields["started_at"]); err != nil {
		return nil, fmt.Errorf("decode job %s: started_at: %w", job.ID, err)
	}
	if job.CompletedAt, err = parseOptTime(fields["completed_at"]); err != nil {
		return nil, fmt.Errorf("decode job %s: completed_at: %w", job.ID, err)
	}
	return job, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func parseOptTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
