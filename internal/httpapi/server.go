// Package httpapi exposes the job surface over HTTP: enqueue endpoints
// per workflow, job status/list/cancel, a live progress stream, the
// model registry, and the usual health and metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"renderd/internal/jobstore"
	"renderd/internal/queue"
	"renderd/internal/vram"
	"renderd/pkg/types"
)

const maxBodyBytes int64 = 1 << 20

// Deps wires the API onto its collaborators.
type Deps struct {
	Store *jobstore.Store
	Queue queue.Queue
	VRAM  *vram.Manager
	// Ready reports backing-store health for the readiness probe.
	// Nil means always ready.
	Ready          func(ctx context.Context) error
	AllowedOrigins []string
	Logger         zerolog.Logger
}

type server struct {
	deps Deps
	log  zerolog.Logger
}

// NewMux builds the router.
func NewMux(deps Deps) http.Handler {
	s := &server{deps: deps, log: deps.Logger.With().Str("component", "httpapi").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if len(deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generate/talking-head", s.handleTalkingHead)
		r.Post("/generate/broll", s.handleBRoll)
		r.Post("/generate/full-production", s.handleFullProduction)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Get("/jobs/{id}/events", s.handleJobEvents)
		r.Get("/models", s.handleModels)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func (s *server) handleTalkingHead(w http.ResponseWriter, r *http.Request) {
	var req types.TalkingHeadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Script) == "" {
		writeJSONError(w, http.StatusBadRequest, "script is required")
		return
	}
	params := types.Params{"script": req.Script}
	putString(params, "avatar_path", req.AvatarPath)
	putString(params, "voice_engine", req.VoiceEngine)
	putString(params, "voice_reference", req.VoiceReference)
	putString(params, "language", req.Language)
	putString(params, "background_prompt", req.BackgroundPrompt)
	if req.GenerateBackground != nil {
		params["generate_background"] = *req.GenerateBackground
	}
	s.enqueue(w, r, types.WorkflowTalkingHead, params)
}

func (s *server) handleBRoll(w http.ResponseWriter, r *http.Request) {
	var req types.BRollRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Scenes) == 0 {
		writeJSONError(w, http.StatusBadRequest, "at least one scene is required")
		return
	}
	scenes := make([]any, 0, len(req.Scenes))
	for i, scene := range req.Scenes {
		if strings.TrimSpace(scene.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "scene "+strconv.Itoa(i+1)+": prompt is required")
			return
		}
		entry := map[string]any{"prompt": scene.Prompt}
		if scene.Duration > 0 {
			entry["duration"] = scene.Duration
		}
		scenes = append(scenes, entry)
	}
	params := types.Params{"scenes": scenes}
	putString(params, "style", req.Style)
	putString(params, "music_prompt", req.MusicPrompt)
	if req.GenerateMusic != nil {
		params["generate_music"] = *req.GenerateMusic
	}
	if req.Width > 0 {
		params["width"] = float64(req.Width)
	}
	if req.Height > 0 {
		params["height"] = float64(req.Height)
	}
	s.enqueue(w, r, types.WorkflowBRoll, params)
}

func (s *server) handleFullProduction(w http.ResponseWriter, r *http.Request) {
	var req types.FullProductionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Script) == "" {
		writeJSONError(w, http.StatusBadRequest, "script is required")
		return
	}
	params := types.Params{"script": req.Script}
	putString(params, "avatar_path", req.AvatarPath)
	putString(params, "voice_engine", req.VoiceEngine)
	putString(params, "voice_reference", req.VoiceReference)
	putString(params, "language", req.Language)
	putString(params, "music_prompt", req.MusicPrompt)
	putString(params, "background_prompt", req.BackgroundPrompt)
	if req.GenerateMusic != nil {
		params["generate_music"] = *req.GenerateMusic
	}
	s.enqueue(w, r, types.WorkflowFullProduction, params)
}

// enqueue persists the job and hands it to the queue. A job that cannot
// be queued is immediately failed so it never sits in limbo.
func (s *server) enqueue(w http.ResponseWriter, r *http.Request, workflow types.Workflow, params types.Params) {
	ctx := r.Context()
	id, err := s.deps.Store.Enqueue(ctx, workflow, params, ownerFromRequest(r))
	if err != nil {
		s.log.Error().Err(err).Str("workflow", string(workflow)).Msg("enqueue failed")
		writeJSONError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	if err := s.deps.Queue.Publish(ctx, queue.Message{JobID: id, Workflow: workflow}); err != nil {
		s.log.Error().Err(err).Str("job_id", id).Msg("queue publish failed")
		msg := "queue publish failed: " + err.Error()
		failed := types.StatusFailed
		s.deps.Store.Apply(ctx, id, jobstore.Update{Status: &failed, Error: &msg})
		writeJSONError(w, http.StatusServiceUnavailable, "failed to queue job")
		return
	}
	writeJSON(w, http.StatusAccepted, types.EnqueueResponse{
		JobID:    id,
		Workflow: workflow,
		Status:   types.StatusQueued,
	})
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if jobstore.IsNotFound(err) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSONError(w, http.StatusBadRequest, "limit must be 1-500")
			return
		}
		limit = n
	}
	jobs, err := s.deps.Store.ListRecent(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, types.JobListResponse{Jobs: jobs, Count: len(jobs)})
}

func (s *server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.deps.Store.Cancel(r.Context(), id)
	switch {
	case jobstore.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	case jobstore.IsFinished(err):
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	job, err := s.deps.Store.Get(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{
		Models: s.deps.VRAM.Registry(),
		GPU:    s.deps.VRAM.Status(),
	})
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// ownerFromRequest pulls the caller identity when an upstream proxy
// supplies one. Authentication itself lives in front of this service.
func ownerFromRequest(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func putString(params types.Params, key, value string) {
	if value != "" {
		params[key] = value
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeJSONError writes the consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
