package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// UploadError wraps a failure to stage an input file on the server.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string { return fmt.Sprintf("upload %s: %v", e.Path, e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

// RemoteError is a non-200 response from the GPU server.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gpu server returned %d: %s", e.StatusCode, e.Body)
}

// DownloadError wraps a failure to fetch a produced artifact.
type DownloadError struct {
	FileID string
	Err    error
}

func (e *DownloadError) Error() string { return fmt.Sprintf("download %s: %v", e.FileID, e.Err) }
func (e *DownloadError) Unwrap() error { return e.Err }

// exhaustedError reports that every retry attempt failed. It wraps the
// last attempt's error.
type exhaustedError struct {
	capability string
	attempts   int
	last       error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("infer %s failed after %d attempts: %v", e.capability, e.attempts, e.last)
}
func (e *exhaustedError) Unwrap() error { return e.last }

// IsExhausted reports whether err means the retry budget ran out.
func IsExhausted(err error) bool {
	var e *exhaustedError
	return errors.As(err, &e)
}

// retryable classifies an attempt error. Client-side request errors
// (4xx) will fail identically on retry, so they abort; everything else
// (network faults, 5xx, timeouts) is assumed transient.
func retryable(err error) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.StatusCode >= http.StatusInternalServerError
	}
	return true
}
