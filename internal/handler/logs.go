package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"gridwatch/internal/logger"
)

// LogLevels are the levels with their own log file.
var LogLevels = []string{"info", "warning", "error"}

// ShowLogsHandler serves <level>.log from the logger's directory as text/plain.
func ShowLogsHandler(logger *logger.Logger, level string) http.HandlerFunc {
	filename := level + ".log"
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		dir := logger.Directory()
		filePath := filepath.Join(dir, filename)
		if _, err := os.Stat(filePath); dir == "" || os.IsNotExist(err) {
			http.Error(w, "Log file not found: "+filename, http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, filePath)
	}
}

// ClearLogsHandler truncates <level>.log.
func ClearLogsHandler(logger *logger.Logger, level string) http.HandlerFunc {
	filename := level + ".log"
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		if err := logger.CleanLogs(filename); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "file": filename})
	}
}
