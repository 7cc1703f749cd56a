package handlers

import (
	"net/http"

	"github.com/ternarybob/gleaner/internal/common"
)

// HealthHandler handles GET /health
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": common.GetVersion(),
		"service": "gleaner",
	})
}
