package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/services/control"
)

// ControlHandler serves the operator control API
type ControlHandler struct {
	control *control.Service
	logger  arbor.ILogger
}

// NewControlHandler creates a new control handler
func NewControlHandler(svc *control.Service, logger arbor.ILogger) *ControlHandler {
	return &ControlHandler{control: svc, logger: logger}
}

// ServiceStatusHandler handles GET /api/service/status
func (h *ControlHandler) ServiceStatusHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.control.ServiceView(r.Context())
	if err != nil {
		h.fail(w, err, "Failed to read service status")
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// PauseServiceHandler handles POST /api/service/pause
func (h *ControlHandler) PauseServiceHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.control.PauseService(r.Context())
	if err != nil {
		h.fail(w, err, "Failed to pause service")
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// StartServiceHandler handles POST /api/service/start
func (h *ControlHandler) StartServiceHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.control.ResumeService(r.Context())
	if err != nil {
		h.fail(w, err, "Failed to start service")
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// ListScrapersHandler handles GET /api/scrapers
func (h *ControlHandler) ListScrapersHandler(w http.ResponseWriter, r *http.Request) {
	list, err := h.control.ListScrapers(r.Context())
	if err != nil {
		h.fail(w, err, "Failed to list scrapers")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"scrapers": list,
		"count":    len(list),
	})
}

// ScraperStatusHandler handles GET /api/scraper/{name}/status
func (h *ControlHandler) ScraperStatusHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.control.ScraperView(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, err, "Failed to read scraper status")
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// PauseScraperHandler handles POST /api/scraper/{name}/pause
func (h *ControlHandler) PauseScraperHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.control.PauseScraper(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, err, "Failed to pause scraper")
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// StartScraperHandler handles POST /api/scraper/{name}/start[?run=true]
func (h *ControlHandler) StartScraperHandler(w http.ResponseWriter, r *http.Request) {
	run := false
	if v := r.URL.Query().Get("run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "run must be a boolean")
			return
		}
		run = b
	}

	st, err := h.control.StartScraper(r.Context(), chi.URLParam(r, "name"), run)
	if err != nil {
		h.fail(w, err, "Failed to start scraper")
		return
	}
	if run {
		WriteJSON(w, http.StatusAccepted, st)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

func (h *ControlHandler) fail(w http.ResponseWriter, err error, msg string) {
	code := StatusForError(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error().
			Err(err).
			Msg(msg)
	}
	WriteError(w, code, err.Error())
}
