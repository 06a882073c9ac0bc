package handler

import (
	"net/http"

	"gridwatch/internal/logger"
	"gridwatch/internal/service"
)

// StatusHandler serves GET /api/status from one consistent snapshot.
func StatusHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		if err := writeJSON(w, http.StatusOK, manager.Status()); err != nil {
			logger.Error("Error encoding JSON response: %v", err)
		}
	}
}
