package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/flexinfer/datapipe/internal/metrics"
	"github.com/flexinfer/datapipe/internal/resultstore"
	"github.com/flexinfer/datapipe/pkg/types"
)

// StreamEvents handles GET /api/v1/runs/{id}/events
// It implements Server-Sent Events (SSE) for streaming run events.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	runID := vars["id"]
	startTime := time.Now()

	metrics.SSEActiveConnections.Inc()
	defer metrics.SSEActiveConnections.Dec()

	h.logger.Info("SSE connection opened",
		slog.String("run_id", runID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	// Check if run exists
	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, resultstore.ErrRunNotFound) {
			h.respondError(w, http.StatusNotFound, "run not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get run", err)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Check for Last-Event-ID header for resumption
	lastEventID := r.Header.Get("Last-Event-ID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}
	flusher.Flush()

	// Send a hello event
	h.writeSSE(w, flusher, &types.Event{
		ID:        "0",
		RunID:     runID,
		Type:      "hello",
		Timestamp: time.Now().UTC(),
	})

	// A run that already finished has no future events; replay what is
	// missing and end the stream immediately.
	if run.Status == types.RunStatusSucceeded || run.Status == types.RunStatusFailed {
		h.replayEvents(ctx, w, flusher, runID, lastEventID, nil)
		return
	}

	// Subscribe BEFORE replaying history, so events appended while the
	// replay runs arrive on the channel instead of falling into the gap.
	// Replayed IDs are remembered to drop the overlap.
	eventCh, cleanup, err := h.store.Subscribe(ctx, runID)
	if err != nil {
		h.logger.Error("failed to subscribe to events", "error", err, "run_id", runID)
		return
	}
	defer cleanup()

	replayed := make(map[string]struct{})
	if ended := h.replayEvents(ctx, w, flusher, runID, lastEventID, replayed); ended {
		// The run finished between the status check and the subscription;
		// the replay already carried the stream_end event.
		return
	}

	done := r.Context().Done()

	// Heartbeat ticker to keep connection alive
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			duration := time.Since(startTime)
			metrics.SSEConnectionDuration.Observe(duration.Seconds())
			h.logger.Info("SSE connection closed (client disconnect)",
				slog.String("run_id", runID),
				slog.Duration("duration", duration),
			)
			return

		case evt, ok := <-eventCh:
			if !ok {
				// Channel closed: the run reached a terminal status.
				duration := time.Since(startTime)
				metrics.SSEConnectionDuration.Observe(duration.Seconds())
				h.logger.Info("SSE connection closed (run completed)",
					slog.String("run_id", runID),
					slog.Duration("duration", duration),
				)
				return
			}
			if _, seen := replayed[evt.ID]; seen {
				continue
			}
			h.writeSSE(w, flusher, evt)
			if evt.Type == types.EventTypeStreamEnd {
				duration := time.Since(startTime)
				metrics.SSEConnectionDuration.Observe(duration.Seconds())
				return
			}

		case <-heartbeat.C:
			// Comment frame keeps intermediaries from timing out the stream.
			h.writeComment(w, flusher, "heartbeat")
		}
	}
}

// replayEvents writes the run's stored events after lastEventID (all of
// them when it is empty), records IDs in seen when given, and reports
// whether the replay carried a stream_end event.
func (h *Handlers) replayEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, runID, lastEventID string, seen map[string]struct{}) bool {
	events, err := h.store.GetEventsSince(ctx, runID, lastEventID)
	if err != nil {
		h.logger.Error("failed to get historical events", "error", err, "run_id", runID)
		return false
	}

	ended := false
	for _, evt := range events {
		h.writeSSE(w, flusher, evt)
		if seen != nil {
			seen[evt.ID] = struct{}{}
		}
		if evt.Type == types.EventTypeStreamEnd {
			ended = true
		}
	}
	return ended
}

// writeSSE writes an event in SSE format and flushes.
func (h *Handlers) writeSSE(w http.ResponseWriter, flusher http.Flusher, evt *types.Event) {
	if evt == nil {
		return
	}
	if _, err := w.Write(evt.ToSSE()); err != nil {
		h.logger.Error("failed to write SSE event", "error", err)
		return
	}
	flusher.Flush()
}

// writeComment writes an SSE comment (for heartbeats).
func (h *Handlers) writeComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	if _, err := w.Write([]byte(": " + comment + "\n\n")); err != nil {
		h.logger.Error("failed to write SSE comment", "error", err)
		return
	}
	flusher.Flush()
}
