package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sift/internal/domain"
	"github.com/linnemanlabs/sift/internal/triage"
)

func (a *API) handleStartTriage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AlertID string `json:"alertId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.AlertID == "" {
		jsonError(w, http.StatusBadRequest, "alertId is required")
		return
	}

	runID, err := a.triage.Start(r.Context(), req.AlertID)
	if err != nil {
		if errors.Is(err, triage.ErrAlertUnknown) {
			jsonError(w, http.StatusNotFound, "alert not found")
			return
		}
		a.logger.Error(r.Context(), err, "failed to start triage", "alert_id", req.AlertID)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sift.triage.run_id", runID))

	a.respond(w, http.StatusOK, map[string]string{
		"runId":   runID,
		"alertId": req.AlertID,
		"status":  "started",
	})
}

func (a *API) handleGetTriage(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sift.triage.run_id", runID))

	run, traces, ok, err := a.triage.GetRun(r.Context(), runID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get triage run", "run_id", runID)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		jsonError(w, http.StatusNotFound, "run not found")
		return
	}

	a.respond(w, http.StatusOK, struct {
		*domain.TriageRun
		Trace []domain.AgentTrace `json:"trace"`
	}{run, traces})
}

// handleTriageStream serves a run's event stream over SSE. The connected
// preamble always goes out first; an unknown run id yields a terminal
// error frame rather than an HTTP error since headers are already sent.
func (a *API) handleTriageStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	runID := chi.URLParam(r, "runId")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Disable proxy buffering so frames reach the client as emitted.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writeFrame(w, flusher, triage.Event{
		Type:      triage.EventConnected,
		Timestamp: time.Now().UTC(),
		Connected: &triage.ConnectedData{RunID: runID},
	})

	ch, cancel, found := a.triage.Subscribe(runID)
	if !found {
		writeFrame(w, flusher, triage.Event{
			Type:      triage.EventError,
			Timestamp: time.Now().UTC(),
			Error:     &triage.ErrorData{Message: "Run not found"},
		})
		return
	}
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			// Client went away; the run itself keeps going.
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			writeFrame(w, flusher, ev)
			if ev.Terminal() {
				return
			}
		}
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, ev triage.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
	flusher.Flush()
}
