package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
)

// RecordsHandler exposes read-only views of the record store
type RecordsHandler struct {
	records interfaces.RecordStorage
	logger  arbor.ILogger
}

// NewRecordsHandler creates a new records handler
func NewRecordsHandler(records interfaces.RecordStorage, logger arbor.ILogger) *RecordsHandler {
	return &RecordsHandler{records: records, logger: logger}
}

// StatsHandler handles GET /api/records/stats
func (h *RecordsHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.records.GetStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read record stats")
		WriteError(w, http.StatusInternalServerError, "Failed to read record stats")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total":    stats.Total,
		"bySource": stats.BySource,
	})
}

// ListHandler handles GET /api/records?source=&page=&pageSize=
func (h *RecordsHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	page, pageSize := GetPaginationParams(r)
	source := r.URL.Query().Get("source")

	records, err := h.records.ListRecords(r.Context(), source, pageSize, page*pageSize)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list records")
		WriteError(w, http.StatusInternalServerError, "Failed to list records")
		return
	}

	var total int
	if source == "" {
		total, err = h.records.CountRecords(r.Context())
	} else {
		total, err = h.records.CountRecordsBySource(r.Context(), source)
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count records")
		WriteError(w, http.StatusInternalServerError, "Failed to count records")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records":  records,
		"page":     page,
		"pageSize": pageSize,
		"total":    total,
	})
}
