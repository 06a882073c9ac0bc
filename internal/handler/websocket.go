package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"gridwatch/internal/logger"
	"gridwatch/internal/service"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler sends the current status to a new viewer, then
// registers it with the hub for per-tick updates.
func ViewWebsocketHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hub := manager.GetWebsocketService()
		if hub == nil {
			writeError(w, http.StatusServiceUnavailable, "Live view disabled")
			return
		}

		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)

		message, err := manager.StatusMessage()
		if err == nil {
			err = connection.WriteMessage(websocket.TextMessage, message)
		}
		if err != nil {
			logger.Error("Failed to send initial status: %v", err)
			connection.Close()
			return
		}

		id := hub.Register(connection)
		defer hub.Unregister(id)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer %s disconnected normally", id)
				} else {
					logger.Warning("Viewer %s disconnected: %v", id, err)
				}
				return
			}
		}
	}
}
