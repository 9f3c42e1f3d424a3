package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/alertflow/internal/router"
	"github.com/ignite/alertflow/internal/scheduler"
	"github.com/ignite/alertflow/internal/store"
	"github.com/ignite/alertflow/internal/supervisor"
)

// Handlers carries the pipeline components the API exposes.
type Handlers struct {
	store  *store.Store
	sup    *supervisor.Supervisor
	sched  *scheduler.Scheduler
	router *router.Router
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HealthCheck reports basic liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Status returns the supervisor's latest health report.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sup.Current())
}

// StatusStream pushes health reports as server-sent events until the
// client disconnects.
func (h *Handlers) StatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	reports, cancel := h.sup.Subscribe()
	defer cancel()

	// current snapshot first so clients render without waiting a cycle
	writeEvent(w, h.sup.Current())
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case report := <-reports:
			writeEvent(w, report)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, report supervisor.Report) {
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
}

// DuplicateCount reports how many alerts were suppressed as duplicates
// in a trailing window (default 24h, override with ?hours=N).
func (h *Handlers) DuplicateCount(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &hours); err != nil || hours <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid hours %q", v))
			return
		}
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	count, err := h.store.Duplicates.CountSince(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"since_hours": hours, "count": count})
}

// TriggerIngest requests an immediate ingest cycle.
func (h *Handlers) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	if !h.sched.Running() {
		writeError(w, http.StatusConflict, fmt.Errorf("scheduler is not running"))
		return
	}
	h.sched.TriggerNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// PauseSupervisor suspends consumer restarts.
func (h *Handlers) PauseSupervisor(w http.ResponseWriter, r *http.Request) {
	h.sup.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeSupervisor re-enables consumer restarts.
func (h *Handlers) ResumeSupervisor(w http.ResponseWriter, r *http.Request) {
	h.sup.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type intervalRequest struct {
	Unit  string `json:"unit"`
	Value int    `json:"value"`
}

// SetSchedulerInterval persists a new ingest interval and restarts the
// schedule loop. The supervisor is paused around the restart so it
// does not fight the intentional stop.
func (h *Handlers) SetSchedulerInterval(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode interval: %w", err))
		return
	}
	if req.Unit != "seconds" && req.Unit != "minutes" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unit must be seconds or minutes"))
		return
	}
	if req.Value <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("value must be positive"))
		return
	}

	h.sup.Pause()
	defer h.sup.Resume()
	if err := h.sched.SetInterval(r.Context(), req.Unit, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "rescheduled",
		"interval": h.sched.Interval().String(),
	})
}

// ReloadRouting rebuilds the trigger-routing snapshot from the
// database, e.g. after a bulk mapping import.
func (h *Handlers) ReloadRouting(w http.ResponseWriter, r *http.Request) {
	if err := h.router.Reload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
