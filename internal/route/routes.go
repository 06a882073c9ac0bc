package route

import (
	"net/http"
	"os"
	"path/filepath"

	"gridwatch/internal/config"
	"gridwatch/internal/handler"
	"gridwatch/internal/logger"
	"gridwatch/internal/middleware"
	"gridwatch/internal/repository"
	"gridwatch/internal/service"
)

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join("static", filepath.Clean("/"+path)+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers the status, override, live view, log and auth
// endpoints and wraps the mux with the authentication middleware.
// overrideRepo may be nil.
func SetupRoutes(manager *service.Manager, cfg *config.Config, logger *logger.Logger,
	overrideRepo repository.OverrideRepository) http.Handler {
	mux := http.NewServeMux()
	sessions := middleware.NewSessions()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	// API endpoints
	mux.HandleFunc("/api/status", handler.StatusHandler(manager, logger))
	mux.HandleFunc("/api/override", handler.OverrideHandler(manager, overrideRepo, logger))
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(manager, logger))

	// Log endpoints
	for _, level := range handler.LogLevels {
		mux.HandleFunc("/logs/"+level, handler.ShowLogsHandler(logger, level))
		mux.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(logger, level))
	}

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(cfg, sessions, logger))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler(sessions))

	// Automatic HTML handler mapping for example: /login -> /static/login.html
	mux.HandleFunc("/", dynamicHTMLHandler)

	return middleware.AuthMiddleware(sessions, mux)
}
