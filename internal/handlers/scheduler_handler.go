package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/services/scheduler"
)

// JobScheduler is the scheduler surface the API exposes
type JobScheduler interface {
	Entries() []*scheduler.JobStatus
	TriggerJob(name string) error
}

// SchedulerHandler lists and triggers scheduled jobs
type SchedulerHandler struct {
	scheduler JobScheduler
	logger    arbor.ILogger
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(s JobScheduler, logger arbor.ILogger) *SchedulerHandler {
	return &SchedulerHandler{scheduler: s, logger: logger}
}

// ListJobsHandler handles GET /api/scheduler/jobs
func (h *SchedulerHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	jobs := h.scheduler.Entries()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// TriggerJobHandler handles POST /api/scheduler/jobs/{name}/trigger
func (h *SchedulerHandler) TriggerJobHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.scheduler.TriggerJob(name); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Info().
		Str("job_name", name).
		Msg("Job triggered via API")
	WriteStarted(w, "Job triggered: "+name)
}
