package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"renderd/internal/jobstore"
)

// handleJobEvents streams job progress as server-sent events. The
// current job state goes out first as a "snapshot" event; if the job is
// already terminal the stream ends there. Otherwise broker events follow
// as "progress" events until a terminal status arrives or the client
// disconnects. Subscription starts before the snapshot read so no
// update falls into the gap between the two.
func (s *server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := s.deps.Store.Subscribe(id)
	defer cancel()

	job, err := s.deps.Store.Get(r.Context(), id)
	if jobstore.IsNotFound(err) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSSE(w, "snapshot", job)
	flusher.Flush()
	if job.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			writeSSE(w, "progress", ev)
			flusher.Flush()
			if ev.Status.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
