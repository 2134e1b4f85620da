package jobstore

import (
	"fmt"

	"renderd/pkg/types"
)

// notFoundError indicates an id with no job in either tier.
type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "job not found: " + e.id }

// NewNotFound builds the canonical not-found error for a job id. Durable
// implementations return it so callers can classify without importing
// their driver packages.
func NewNotFound(id string) error { return notFoundError{id: id} }

// IsNotFound reports whether err indicates a missing job.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// finishedError indicates an update attempted against a terminal job.
type finishedError struct {
	id     string
	status types.JobStatus
}

func (e finishedError) Error() string {
	return fmt.Sprintf("job %s already finished (%s)", e.id, e.status)
}

// IsFinished reports whether err indicates the job had already reached a
// terminal status when the update arrived.
func IsFinished(err error) bool {
	_, ok := err.(finishedError)
	return ok
}
