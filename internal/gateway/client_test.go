package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, APIKey: "secret", Logger: zerolog.Nop()})
	c.backoffBase = time.Millisecond
	return c, srv
}

// fakeGPU implements the server's upload/infer/download surface.
type fakeGPU struct {
	t          *testing.T
	uploads    atomic.Int32
	inferJSON  map[string]any
	inferCalls atomic.Int32
	inferFails atomic.Int32 // remaining 500s before success
	lastInfer  atomic.Value // map[string]any
}

func (f *fakeGPU) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-API-Key") != "secret" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	switch {
	case r.URL.Path == "/files/upload":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n := f.uploads.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"file_id": fmt.Sprintf("up-%d", n)})
	case r.URL.Path == "/infer/test_cap":
		f.inferCalls.Add(1)
		if f.inferFails.Add(-1) >= 0 {
			http.Error(w, "gpu busy", http.StatusInternalServerError)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.lastInfer.Store(body)
		json.NewEncoder(w).Encode(f.inferJSON)
	case r.URL.Path == "/files/out-1":
		w.Write([]byte("artifact-bytes"))
	case r.URL.Path == "/health":
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunUploadInferDownload(t *testing.T) {
	gpu := &fakeGPU{t: t, inferJSON: map[string]any{"output_file_id": "out-1", "elapsed_seconds": 3.5}}
	gpu.inferFails.Store(0)
	c, _ := newTestClient(t, gpu)

	out := filepath.Join(t.TempDir(), "nested", "result.mp4")
	res, err := c.Run(context.Background(), Request{
		Capability: "test_cap",
		Params:     map[string]any{"prompt": "a cat"},
		InputFiles: map[string]string{"image_file_id": writeTemp(t, "in.png", "png")},
		OutputPath: out,
	})
	require.NoError(t, err)
	assert.Equal(t, "out-1", res.OutputFileID)
	assert.Equal(t, 3.5, res.ElapsedSeconds)
	assert.Equal(t, out, res.LocalPath)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "artifact-bytes", string(data))

	// The uploaded file id is merged into the inference body.
	body := gpu.lastInfer.Load().(map[string]any)
	assert.Equal(t, "up-1", body["image_file_id"])
	assert.Equal(t, "a cat", body["prompt"])
}

func TestRunUploadFailure(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())
	_, err := c.Run(context.Background(), Request{
		Capability: "test_cap",
		InputFiles: map[string]string{"f": writeTemp(t, "in.png", "x")},
	})
	require.Error(t, err)
	var up *UploadError
	assert.True(t, errors.As(err, &up))
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	gpu := &fakeGPU{t: t, inferJSON: map[string]any{"output_file_id": "", "elapsed_seconds": 1}}
	gpu.inferFails.Store(2)
	c, _ := newTestClient(t, gpu)

	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := c.RunWithRetry(context.Background(), Request{Capability: "test_cap"})
	require.NoError(t, err)

	// Two failures means two backoff sleeps, doubling each time.
	require.Len(t, delays, 2)
	assert.Equal(t, c.backoffBase, delays[0])
	assert.Equal(t, 2*c.backoffBase, delays[1])
}

// A retry budget of n means n retries on top of the first attempt, so
// a server that fails twice must still succeed with MaxRetries=2.
func TestRetryBudgetIsAdditionalAttempts(t *testing.T) {
	gpu := &fakeGPU{t: t, inferJSON: map[string]any{"output_file_id": "", "elapsed_seconds": 1}}
	gpu.inferFails.Store(2)
	srv := httptest.NewServer(gpu)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, APIKey: "secret", MaxRetries: 2, Logger: zerolog.Nop()})
	c.backoffBase = time.Millisecond

	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := c.RunWithRetry(context.Background(), Request{Capability: "test_cap"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), gpu.inferCalls.Load())
	require.Len(t, delays, 2)
	assert.Equal(t, c.backoffBase, delays[0])
	assert.Equal(t, 2*c.backoffBase, delays[1])
}

func TestRetryExhaustionCountsAllAttempts(t *testing.T) {
	gpu := &fakeGPU{t: t}
	gpu.inferFails.Store(100)
	srv := httptest.NewServer(gpu)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, APIKey: "secret", MaxRetries: 2, Logger: zerolog.Nop()})
	c.backoffBase = time.Millisecond
	c.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := c.RunWithRetry(context.Background(), Request{Capability: "test_cap"})
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.Equal(t, int32(3), gpu.inferCalls.Load())
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRetryExhaustionWrapsLastError(t *testing.T) {
	gpu := &fakeGPU{t: t}
	gpu.inferFails.Store(100)
	c, _ := newTestClient(t, gpu)
	c.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := c.RunWithRetry(context.Background(), Request{Capability: "test_cap"})
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusInternalServerError, remote.StatusCode)
}

func TestRetryAbortsOnClientError(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad params", http.StatusUnprocessableEntity)
	})
	c, _ := newTestClient(t, handler)
	c.sleep = func(context.Context, time.Duration) error {
		t.Fatal("must not sleep before aborting on 4xx")
		return nil
	}

	_, err := c.RunWithRetry(context.Background(), Request{Capability: "test_cap"})
	require.Error(t, err)
	assert.False(t, IsExhausted(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	gpu := &fakeGPU{t: t}
	gpu.inferFails.Store(100)
	c, _ := newTestClient(t, gpu)

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.RunWithRetry(ctx, Request{Capability: "test_cap"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestHealthCheck(t *testing.T) {
	gpu := &fakeGPU{t: t}
	c, _ := newTestClient(t, gpu)
	require.NoError(t, c.HealthCheck(context.Background()))

	down, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	assert.Error(t, down.HealthCheck(context.Background()))
}

// The health probe has its own short deadline: a hung server must not
// hold the pre-flight gate for an inference-sized timeout.
func TestHealthCheckFailsFastOnHangingServer(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})
	c := New(Config{BaseURL: srv.URL, APIKey: "secret", Logger: zerolog.Nop()})
	c.health.Timeout = 50 * time.Millisecond

	start := time.Now()
	err := c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
